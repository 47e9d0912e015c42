package sessionkit

import (
	"context"
	"errors"

	"github.com/MrEthical07/sessionkit/internal/flows"
)

// SignIn authenticates identifier/secret and makes the result the current
// Session. Input is validated locally first. The embedded allow-list is tried
// before the provider and is never rate limited; delegated attempts are
// throttled per identifier by RateLimits.Login.
//
// A sign-out or provider sign-out that lands while SignIn is in flight wins:
// SignIn then returns ErrSuperseded and revokes the remote session it obtained.
// An authenticated subject without a profile forces a full sign-out, so the
// previous Session does not survive ErrProfileMissing.
func (m *Manager) SignIn(ctx context.Context, identifier, secret string) (Session, error) {
	if err := m.checkOpen(); err != nil {
		return Session{}, err
	}
	t := m.ticket()

	res, err := flows.RunSignIn(ctx, identifier, secret, m.signInDeps(ctx))
	if err != nil {
		if errors.Is(err, ErrProfileMissing) {
			m.forceSignOut(ctx, t, scopeEpoch, "profile_missing", err)
		}
		return Session{}, err
	}

	mode := ModeDelegated
	if res.Mode == flows.SignInEmbedded {
		mode = ModeEmbedded
	}
	s := m.newSession(mode, fromFlowProfile(res.Profile), res.AccessToken)

	if !m.commit(t, scopeEpoch, s) {
		m.revokeAsync(ctx, s.AccessToken, s.SubjectID, "superseded")
		m.emitAudit(ctx, auditEventSignInFailure, false, s.SubjectID, s.ID, ErrSuperseded, nil)
		return Session{}, ErrSuperseded
	}
	m.persist(ctx, s)
	m.clearPendingFor(ctx, s.ContactEmail)
	if mode == ModeDelegated {
		m.clearPendingFor(ctx, identifier)
	}
	return *s, nil
}

func (m *Manager) clearPendingFor(ctx context.Context, email string) {
	if email == "" {
		return
	}
	if err := m.pending.Delete(ctx, email); err != nil {
		m.logger.Error().Err(err).Msg("pending confirmation removal failed")
	}
}

// SignOut ends the current Session. The local clear (state, cached session and
// every pending confirmation) completes before SignOut returns; the remote
// session is revoked in the background and a failure there is only logged and
// audited. Calling SignOut again is a no-op with the same end state.
//
// The returned error reports a store failure during the local clear; the
// in-memory state is Anonymous regardless.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	prev := m.invalidate()
	err := m.clearLocal(ctx)

	m.metrics.Inc(MetricSignOut)
	if prev == nil {
		return err
	}
	m.revokeAsync(ctx, prev.AccessToken, prev.SubjectID, "sign_out")
	m.emitAudit(ctx, auditEventSignOut, true, prev.SubjectID, prev.ID, nil, func() map[string]string {
		return map[string]string{"mode": prev.Mode.String()}
	})
	return err
}

// forceSignOut is a sign-out the Manager starts itself, guarded by t. The
// Session it ends is revoked remotely like in SignOut.
func (m *Manager) forceSignOut(ctx context.Context, t ticket, scope ticketScope, reason string, cause error) bool {
	prev, ok := m.invalidateIf(t, scope, true)
	if !ok {
		return false
	}
	_ = m.clearLocal(context.WithoutCancel(ctx))

	var subjectID, sessionID string
	if prev != nil {
		subjectID, sessionID = prev.SubjectID, prev.ID
		m.revokeAsync(ctx, prev.AccessToken, prev.SubjectID, reason)
	}
	m.logger.Warn().Str("subject_id", subjectID).Str("reason", reason).Msg("forced sign-out")
	m.emitAudit(ctx, auditEventForcedSignOut, false, subjectID, sessionID, cause, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return true
}

// Register creates a delegated identity. It never signs in. When the provider
// asks for email confirmation a PendingConfirmation is created or refreshed.
func (m *Manager) Register(ctx context.Context, email, secret, displayName string) (RegisterResult, error) {
	if err := m.checkOpen(); err != nil {
		return RegisterResult{}, err
	}
	res, err := flows.RunRegister(ctx, email, secret, displayName, m.registerDeps())
	if err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{SubjectID: res.SubjectID, NeedsConfirmation: res.NeedsConfirmation}, nil
}

// ResendConfirmation asks the provider to send the confirmation message again.
// It is throttled per email by RateLimits.ResendConfirmation.
func (m *Manager) ResendConfirmation(ctx context.Context, email string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return flows.RunResendConfirmation(ctx, email, m.registerDeps())
}

// PendingConfirmations lists pending confirmations, oldest first. Records
// dismissed longer than Pending.Retention ago are purged by this call.
func (m *Manager) PendingConfirmations(ctx context.Context) ([]PendingConfirmation, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	records, err := m.pending.List(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]PendingConfirmation, 0, len(records))
	for _, r := range records {
		out = append(out, PendingConfirmation{Email: r.Email, CreatedAt: r.CreatedAt, DismissedAt: r.DismissedAt})
	}
	return out, nil
}

// DismissPendingConfirmation hides the reminder for email. It reports whether
// a record existed.
func (m *Manager) DismissPendingConfirmation(ctx context.Context, email string) (bool, error) {
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	ok, err := m.pending.Dismiss(ctx, email)
	if err != nil {
		return false, unavailable(err)
	}
	if ok {
		m.emitAudit(ctx, auditEventPendingDismissed, true, "", "", nil, nil)
	}
	return ok, nil
}

// RefreshProfile re-reads the profile of the current delegated Session and
// replaces the Session with the updated copy. A missing profile forces a full
// sign-out and returns ErrProfileMissing. Embedded sessions are returned as is.
func (m *Manager) RefreshProfile(ctx context.Context) (Session, error) {
	if err := m.checkOpen(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	cur := m.current
	t := ticket{gen: m.gen, epoch: m.epoch}
	m.mu.Unlock()

	if cur == nil {
		return Session{}, ErrNoSession
	}
	if cur.Mode == ModeEmbedded {
		return *cur, nil
	}

	// The Session stays valid through an outage; a forced sign-out revokes it.
	deps := m.signInDeps(ctx)
	deps.RevokeRemote = func(string, string) {}
	profile, err := flows.RunResolveProfile(ctx, cur.SubjectID, cur.AccessToken, deps)
	if err != nil {
		if errors.Is(err, ErrProfileMissing) {
			m.forceSignOut(ctx, t, scopeGeneration, "profile_missing", err)
		}
		return Session{}, err
	}

	next := *cur
	p := fromFlowProfile(profile)
	next.DisplayName, next.ContactEmail, next.PlanTier = p.DisplayName, p.Email, p.PlanTier
	next.Role = RoleUser
	if p.Role.Valid() {
		next.Role = p.Role
	}
	if !m.commit(t, scopeGeneration, &next) {
		return Session{}, ErrSuperseded
	}
	m.persist(ctx, &next)
	return next, nil
}
