package sessionkit

import (
	"context"
	"errors"

	"github.com/MrEthical07/sessionkit/internal/flows"
	"github.com/MrEthical07/sessionkit/internal/stores"
)

type restoreOutcome struct {
	session *Session
	err     error
}

// Initialize restores the previous Session, if any, and settles the Manager in
// Authenticated or Anonymous. It runs once; later calls return the current
// state. Initialize never fails: problems are reported in InitResult.Reason
// after all local auth state has been cleared.
//
// A cached embedded Session younger than Session.MaxAge is adopted without
// contacting the provider. Otherwise, in delegated mode, the provider's current
// session is verified against the profile store. The whole restore is bounded
// by Session.InitTimeout.
func (m *Manager) Initialize(ctx context.Context) InitResult {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return InitResult{State: StateAnonymous, Reason: ErrManagerClosed}
	}
	if m.initStarted {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return InitResult{State: snap.State, Session: snap.Session}
	}
	m.initStarted = true
	if m.state != StateUninitialized {
		// A sign-in or provider event already settled the state.
		snap := m.snapshotLocked()
		m.mu.Unlock()
		m.listen()
		return InitResult{State: snap.State, Session: snap.Session}
	}
	t := m.beginLocked(StateRestoring)
	m.mu.Unlock()

	m.listen()

	start := m.clock.Now()
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan restoreOutcome, 1)
	if !m.goBackground(func() {
		s, err := m.restore(rctx)
		done <- restoreOutcome{session: s, err: err}
	}) {
		return InitResult{State: StateAnonymous, Reason: ErrManagerClosed}
	}

	watchdog := m.clock.NewTimer(m.config.Session.InitTimeout)
	defer watchdog.Stop()

	var out restoreOutcome
	select {
	case out = <-done:
	case <-watchdog.C():
		m.metrics.Inc(MetricInitTimeout)
		out.err = &Error{Kind: ErrTimeout, Message: "Session restore took too long."}
	case <-ctx.Done():
		out.err = unavailable(ctx.Err())
	}
	cancel()

	result := m.settleRestore(ctx, t, out)
	m.metrics.Observe(MetricRestoreLatency, m.clock.Since(start))
	return result
}

// restore decides what the previous Session was. It does not change state.
func (m *Manager) restore(ctx context.Context) (*Session, error) {
	claims, err := m.cache.Load(ctx)
	switch {
	case err == nil:
		if s, ok := m.adoptCached(claims); ok {
			return s, nil
		}
		m.discardCache(ctx, "not_adoptable")
	case errors.Is(err, stores.ErrSessionMissing):
	case errors.Is(err, stores.ErrSessionStale):
		m.discardCache(ctx, "stale")
	case errors.Is(err, stores.ErrSessionCorrupt):
		m.discardCache(ctx, "corrupt")
	default:
		return nil, unavailable(err)
	}

	if m.idp == nil {
		return nil, nil
	}
	remote, ok, err := m.idp.CurrentSession(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	if !ok {
		return nil, nil
	}
	return m.verifyRemote(ctx, remote)
}

// verifyRemote resolves the profile for a provider session. A missing profile
// revokes the remote session and yields ErrProfileMissing.
func (m *Manager) verifyRemote(ctx context.Context, remote RemoteSession) (*Session, error) {
	profile, err := flows.RunResolveProfile(ctx, remote.SubjectID, remote.AccessToken, m.signInDeps(ctx))
	if err != nil {
		return nil, err
	}
	return m.newSession(ModeDelegated, fromFlowProfile(profile), remote.AccessToken), nil
}

func (m *Manager) discardCache(ctx context.Context, reason string) {
	m.metrics.Inc(MetricSessionDiscarded)
	m.logger.Debug().Str("reason", reason).Msg("discarding cached session")
	if err := m.cache.Remove(ctx); err != nil {
		m.logger.Error().Err(err).Msg("session cache removal failed")
	}
}

// settleRestore commits out under t. A failed restore clears every piece of
// local auth state. When t was overtaken the newer state is left untouched.
func (m *Manager) settleRestore(ctx context.Context, t ticket, out restoreOutcome) InitResult {
	if out.err != nil {
		if _, ok := m.invalidateIf(t, scopeGeneration, false); !ok {
			return m.superseded()
		}
		_ = m.clearLocal(context.WithoutCancel(ctx))
		m.logger.Debug().Err(out.err).Msg("session restore failed, settled anonymous")
		m.emitAudit(ctx, auditEventRestoreFailed, false, "", "", out.err, nil)
		return InitResult{State: StateAnonymous, Reason: out.err}
	}

	if !m.commit(t, scopeGeneration, out.session) {
		return m.superseded()
	}
	if out.session == nil {
		m.logger.Debug().Msg("no session to restore, settled anonymous")
		return InitResult{State: StateAnonymous}
	}

	s := *out.session
	if s.Mode == ModeDelegated {
		m.persist(ctx, out.session)
	}
	m.metrics.Inc(MetricSessionRestored)
	m.logger.Debug().Str("subject_id", s.SubjectID).Str("mode", s.Mode.String()).Msg("session restored")
	m.emitAudit(ctx, auditEventSessionRestored, true, s.SubjectID, s.ID, nil, func() map[string]string {
		return map[string]string{"mode": s.Mode.String()}
	})
	return InitResult{State: StateAuthenticated, Session: &s}
}

func (m *Manager) superseded() InitResult {
	snap := m.Snapshot()
	return InitResult{State: snap.State, Session: snap.Session, Superseded: true}
}
