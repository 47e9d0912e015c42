package sessionkit

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/MrEthical07/sessionkit/internal/flows"
	"github.com/MrEthical07/sessionkit/internal/stores"
	"github.com/MrEthical07/sessionkit/jwt"
	"github.com/MrEthical07/sessionkit/kvstore"
	"github.com/MrEthical07/sessionkit/password"
	"github.com/MrEthical07/sessionkit/ratelimit"
	"github.com/MrEthical07/sessionkit/validate"
)

// Manager owns the single current Session. It is the only writer of the
// session state; everything else observes it through Snapshot, Subscribe or
// SubscribeToExternalChanges. Safe for concurrent use.
//
// Every session-affecting action bumps a generation counter. Sign-outs also
// bump an epoch. Work that started under an older generation (or epoch, for
// sign-in) is discarded when it completes, so the newest information wins.
type Manager struct {
	config Config
	clock  clock.WithDelayedExecution
	logger zerolog.Logger

	store    kvstore.Store
	limiter  ratelimit.Limiter
	idp      IdentityProvider
	profiles ProfileProvider
	codes    CodeIssuer
	hasher   *password.Hasher

	embedded         map[string]EmbeddedIdentity
	embeddedSubjects map[string]Profile

	cache   *stores.SessionCache
	pending *stores.PendingStore

	audit    *auditQueue
	metrics  *Metrics
	notifier *notifier

	mu          sync.Mutex
	state       State
	current     *Session
	gen         uint64
	epoch       uint64
	initStarted bool
	closed      bool
	unlisten    func()
	external    map[uint64]func(ExternalChange)
	externalID  uint64

	bg sync.WaitGroup
}

// ticket captures the generation and epoch an operation started under.
type ticket struct {
	gen   uint64
	epoch uint64
}

type ticketScope uint8

const (
	// scopeGeneration requires that nothing at all happened since the ticket.
	scopeGeneration ticketScope = iota
	// scopeEpoch only requires that no sign-out happened since the ticket.
	scopeEpoch
)

/*
====================================
OBSERVATION
====================================
*/

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns a copy of the current Session.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// Snapshot returns the current state and a copy of the current Session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{State: m.state}
	if m.current != nil {
		s := *m.current
		snap.Session = &s
	}
	return snap
}

// Subscribe registers fn for state changes. fn runs on the Manager's notifier
// goroutine; rapid changes may be coalesced into the latest snapshot. The
// returned function unsubscribes and is safe to call more than once.
func (m *Manager) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return m.notifier.subscribe(fn)
}

// MetricsSnapshot returns a snapshot of the in-process counters.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// Lifecycle is a point-in-time view of the Manager for gauges.
type Lifecycle struct {
	State State
	// Mode and SessionAge are zero while no Session is current.
	Mode       Mode
	SessionAge time.Duration
	// PendingConfirmations counts records that are not dismissed. PendingErr
	// is set when the store could not be read.
	PendingConfirmations int
	PendingErr           error
	Audit                AuditStats
}

// Lifecycle reads the current state, the pending confirmation count and the
// audit queue. Reading pending confirmations purges expired dismissals like
// PendingConfirmations does.
func (m *Manager) Lifecycle(ctx context.Context) Lifecycle {
	m.mu.Lock()
	out := Lifecycle{State: m.state}
	if cur := m.current; cur != nil {
		out.Mode = cur.Mode
		out.SessionAge = m.clock.Since(cur.IssuedAt)
	}
	m.mu.Unlock()

	records, err := m.pending.List(ctx)
	if err != nil {
		out.PendingErr = unavailable(err)
	}
	for _, r := range records {
		if r.DismissedAt == nil {
			out.PendingConfirmations++
		}
	}
	out.Audit = m.audit.Stats()
	return out
}

// DelegatedEnabled reports whether an identity provider is configured.
func (m *Manager) DelegatedEnabled() bool {
	return m.idp != nil
}

// NewDebouncer returns a field debouncer on the Manager's clock with the
// configured quiet period.
func (m *Manager) NewDebouncer() *validate.Debouncer {
	return validate.NewDebouncer(m.clock, m.config.Validation.DebounceQuietPeriod)
}

// PhoneRule validates phone numbers against the configured default country prefix.
func (m *Manager) PhoneRule() validate.Rule {
	return validate.PhoneRule(m.config.Validation.DefaultCountryPrefix)
}

/*
====================================
STATE TRANSITIONS
====================================
*/

func (m *Manager) ticket() ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ticket{gen: m.gen, epoch: m.epoch}
}

func (m *Manager) validLocked(t ticket, scope ticketScope) bool {
	if m.closed {
		return false
	}
	if scope == scopeEpoch {
		return m.epoch == t.epoch
	}
	return m.gen == t.gen
}

// beginLocked starts a new generation in state and returns its ticket.
func (m *Manager) beginLocked(state State) ticket {
	m.gen++
	m.state = state
	if state != StateAuthenticated {
		m.current = nil
	}
	m.notifier.publish(m.snapshotLocked())
	return ticket{gen: m.gen, epoch: m.epoch}
}

// commit installs s (nil for anonymous) when t is still valid for scope.
func (m *Manager) commit(t ticket, scope ticketScope, s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validLocked(t, scope) {
		return false
	}
	m.gen++
	m.current = s
	if s != nil {
		m.state = StateAuthenticated
	} else {
		m.state = StateAnonymous
	}
	m.notifier.publish(m.snapshotLocked())
	return true
}

// invalidate ends the current Session locally and returns it. It starts a new
// epoch, so in-flight sign-ins are discarded.
func (m *Manager) invalidate() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.current
	m.gen++
	m.epoch++
	m.current = nil
	if m.state != StateAnonymous {
		m.state = StateAnonymous
		m.notifier.publish(m.snapshotLocked())
	}
	return prev
}

// invalidateIf is invalidate guarded by t. newEpoch also discards in-flight
// sign-ins; a failed restore leaves them alone.
func (m *Manager) invalidateIf(t ticket, scope ticketScope, newEpoch bool) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validLocked(t, scope) {
		return nil, false
	}
	prev := m.current
	m.gen++
	if newEpoch {
		m.epoch++
	}
	m.current = nil
	m.state = StateAnonymous
	m.notifier.publish(m.snapshotLocked())
	return prev, true
}

func (m *Manager) isCurrent(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == s
}

func (m *Manager) checkOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	return nil
}

// goBackground runs fn on a goroutine that Close waits for. It reports false
// when the Manager is closed and fn was not started.
func (m *Manager) goBackground(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		fn()
	}()
	return true
}

/*
====================================
SESSIONS
====================================
*/

func (m *Manager) newSession(mode Mode, p Profile, token string) *Session {
	role := p.Role
	if !role.Valid() {
		role = RoleUser
	}
	return &Session{
		ID:           uuid.NewString(),
		SubjectID:    p.SubjectID,
		DisplayName:  p.DisplayName,
		ContactEmail: p.Email,
		Role:         role,
		PlanTier:     p.PlanTier,
		IssuedAt:     m.clock.Now(),
		AccessToken:  token,
		Mode:         mode,
	}
}

// persist writes s to the session cache while it is still current. Failures
// are logged; the in-memory Session stays valid.
func (m *Manager) persist(ctx context.Context, s *Session) {
	claims := jwt.SessionClaims{
		SessionID: s.ID,
		Name:      s.DisplayName,
		Email:     s.ContactEmail,
		Role:      string(s.Role),
		Plan:      s.PlanTier,
		Mode:      s.Mode.String(),
	}
	claims.Subject = s.SubjectID
	claims.IssuedAt = gojwt.NewNumericDate(s.IssuedAt)

	if _, err := m.cache.SaveIf(ctx, claims, m.config.Session.MaxAge, func() bool { return m.isCurrent(s) }); err != nil {
		m.logger.Error().Err(err).Str("session_id", s.ID).Msg("session cache write failed")
	}
}

// clearLocal removes the cached session and every pending confirmation.
func (m *Manager) clearLocal(ctx context.Context) error {
	var errs []error
	if err := m.cache.Remove(ctx); err != nil {
		m.logger.Error().Err(err).Msg("session cache removal failed")
		errs = append(errs, err)
	}
	if err := m.pending.Clear(ctx); err != nil {
		m.logger.Error().Err(err).Msg("pending confirmations removal failed")
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return unavailable(errors.Join(errs...))
	}
	return nil
}

// revokeAsync revokes a remote session in the background with a detached,
// bounded context. Failures are logged and audited, never returned.
func (m *Manager) revokeAsync(ctx context.Context, token, subjectID, reason string) {
	if m.idp == nil || token == "" {
		return
	}
	detached := context.WithoutCancel(ctx)
	m.goBackground(func() {
		rctx, cancel := context.WithTimeout(detached, m.config.Session.RevokeTimeout)
		defer cancel()

		if err := m.idp.SignOut(rctx, token); err != nil {
			m.metrics.Inc(MetricRevokeFailure)
			m.logger.Warn().Err(err).Str("subject_id", subjectID).Str("reason", reason).Msg("remote session revocation failed")
			m.emitAudit(detached, auditEventRevokeFailure, false, subjectID, "", unavailable(err), func() map[string]string {
				return map[string]string{"reason": reason}
			})
			return
		}
		m.emitAudit(detached, auditEventRevokeSuccess, true, subjectID, "", nil, func() map[string]string {
			return map[string]string{"reason": reason}
		})
	})
}

/*
====================================
EMBEDDED IDENTITIES
====================================
*/

func (m *Manager) matchEmbedded(identifier, secret string) (flows.Profile, bool) {
	id, ok := m.embedded[flows.NormalizeIdentifier(identifier)]
	if !ok {
		return flows.Profile{}, false
	}
	if id.SecretHash != "" {
		match, err := m.hasher.Verify(secret, id.SecretHash)
		if err != nil {
			m.logger.Error().Err(err).Msg("embedded identity hash unreadable")
			return flows.Profile{}, false
		}
		if !match {
			return flows.Profile{}, false
		}
	} else if subtle.ConstantTimeCompare([]byte(secret), []byte(id.Secret)) != 1 {
		return flows.Profile{}, false
	}
	return toFlowProfile(id.Profile), true
}

// adoptCached turns verified cache claims into a Session when they describe a
// configured embedded identity younger than MaxAge.
func (m *Manager) adoptCached(claims *jwt.SessionClaims) (*Session, bool) {
	if claims.Mode != ModeEmbedded.String() || claims.IssuedAt == nil {
		return nil, false
	}
	profile, ok := m.embeddedSubjects[claims.Subject]
	if !ok {
		return nil, false
	}
	issued := claims.IssuedAt.Time
	if m.clock.Since(issued) >= m.config.Session.MaxAge {
		return nil, false
	}
	s := m.newSession(ModeEmbedded, profile, "")
	s.ID = claims.SessionID
	s.IssuedAt = issued
	return s, true
}

func toFlowProfile(p Profile) flows.Profile {
	return flows.Profile{
		SubjectID:   p.SubjectID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		Role:        string(p.Role),
		PlanTier:    p.PlanTier,
	}
}

func fromFlowProfile(p flows.Profile) Profile {
	return Profile{
		SubjectID:   p.SubjectID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		Role:        Role(p.Role),
		PlanTier:    p.PlanTier,
	}
}

/*
====================================
SHUTDOWN
====================================
*/

// Close stops listening to the provider, waits for background revocations,
// stops the notifier and flushes the audit dispatcher. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	unlisten := m.unlisten
	m.unlisten = nil
	m.mu.Unlock()

	if unlisten != nil {
		unlisten()
	}
	m.bg.Wait()
	m.notifier.stop()
	m.audit.Close()
	return nil
}
