package sessionkit

import (
	"context"
	"sync"
)

// ExternalChange describes how the Manager settled after a provider-pushed event.
type ExternalChange struct {
	Event   AuthEventType
	State   State
	Session *Session
	// Err is set when a SignedIn event could not be verified. The Manager is
	// Anonymous in that case.
	Err error
	// Superseded reports that a newer change overtook this event.
	Superseded bool
}

// SubscribeToExternalChanges registers handler for provider-pushed sign-ins
// and sign-outs. handler runs after the Manager settled, on a background
// goroutine. The returned function unsubscribes and is idempotent.
func (m *Manager) SubscribeToExternalChanges(handler func(ExternalChange)) (unsubscribe func()) {
	if handler == nil {
		return func() {}
	}

	m.mu.Lock()
	id := m.externalID
	m.externalID++
	m.external[id] = handler
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.external, id)
			m.mu.Unlock()
		})
	}
}

// listen registers the provider listener once.
func (m *Manager) listen() {
	if m.idp == nil {
		return
	}
	m.mu.Lock()
	if m.closed || m.unlisten != nil {
		m.mu.Unlock()
		return
	}
	m.unlisten = func() {}
	m.mu.Unlock()

	stop := m.idp.OnAuthEvent(m.onAuthEvent)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		stop()
		return
	}
	m.unlisten = stop
	m.mu.Unlock()
}

// onAuthEvent orders the event synchronously (it starts a new generation).
// A sign-out also clears local storage synchronously; the rest of the I/O
// runs in the background.
func (m *Manager) onAuthEvent(ev AuthEvent) {
	m.metrics.Inc(MetricExternalEvent)
	ctx := context.Background()

	switch ev.Type {
	case EventSignedIn:
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		if cur := m.current; cur != nil && cur.Mode == ModeDelegated &&
			cur.SubjectID == ev.Session.SubjectID && cur.AccessToken == ev.Session.AccessToken {
			m.mu.Unlock()
			return
		}
		t := m.beginLocked(StateRestoring)
		m.mu.Unlock()

		m.goBackground(func() {
			m.settleSignedIn(ctx, t, ev)
		})

	case EventSignedOut:
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		prev := m.invalidate()
		// Cleared before returning so a later SignIn's cache entry survives.
		_ = m.clearLocal(ctx)

		m.goBackground(func() {
			var subjectID string
			if prev != nil {
				subjectID = prev.SubjectID
			}
			m.emitAudit(ctx, auditEventExternalChange, true, subjectID, "", nil, func() map[string]string {
				return map[string]string{"event": ev.Type.String()}
			})
			m.notifyExternal(ExternalChange{Event: ev.Type, State: StateAnonymous})
		})
	}
}

func (m *Manager) settleSignedIn(ctx context.Context, t ticket, ev AuthEvent) {
	s, err := m.verifyRemote(ctx, ev.Session)
	if err != nil {
		if _, ok := m.invalidateIf(t, scopeGeneration, true); !ok {
			m.notifyExternal(m.supersededChange(ev.Type))
			return
		}
		_ = m.clearLocal(ctx)
		m.logger.Warn().Err(err).Str("subject_id", ev.Session.SubjectID).Msg("provider sign-in could not be verified")
		m.emitAudit(ctx, auditEventExternalChange, false, ev.Session.SubjectID, "", err, func() map[string]string {
			return map[string]string{"event": ev.Type.String()}
		})
		m.notifyExternal(ExternalChange{Event: ev.Type, State: StateAnonymous, Err: err})
		return
	}

	if !m.commit(t, scopeGeneration, s) {
		m.notifyExternal(m.supersededChange(ev.Type))
		return
	}
	m.persist(ctx, s)
	m.clearPendingFor(ctx, s.ContactEmail)
	m.emitAudit(ctx, auditEventExternalChange, true, s.SubjectID, s.ID, nil, func() map[string]string {
		return map[string]string{"event": ev.Type.String()}
	})
	out := *s
	m.notifyExternal(ExternalChange{Event: ev.Type, State: StateAuthenticated, Session: &out})
}

func (m *Manager) supersededChange(event AuthEventType) ExternalChange {
	snap := m.Snapshot()
	return ExternalChange{Event: event, State: snap.State, Session: snap.Session, Superseded: true}
}

func (m *Manager) notifyExternal(change ExternalChange) {
	m.mu.Lock()
	handlers := make([]func(ExternalChange), 0, len(m.external))
	for _, h := range m.external {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(change)
	}
}
