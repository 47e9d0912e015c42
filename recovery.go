package sessionkit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/sessionkit/internal/flows"
)

// RecoveryStep is the position of a RecoveryController. Steps only advance.
type RecoveryStep uint8

const (
	RecoveryStepRequest RecoveryStep = iota
	RecoveryStepVerify
	RecoveryStepReset
	RecoveryStepDone
)

func (s RecoveryStep) String() string {
	switch s {
	case RecoveryStepRequest:
		return "request"
	case RecoveryStepVerify:
		return "verify"
	case RecoveryStepReset:
		return "reset"
	case RecoveryStepDone:
		return "done"
	default:
		return "unknown"
	}
}

// RecoverySnapshot is a read-only view of a RecoveryController.
type RecoverySnapshot struct {
	ID                string
	Step              RecoveryStep
	Email             string
	CodeIssuedAt      time.Time
	CodeExpiresAt     time.Time
	ResendAvailableAt time.Time
	Closed            bool
}

// RecoveryController drives one password-recovery attempt:
// Request, then Verify (with optional Resend), then Reset. It lives only in
// memory; a restart or Cancel discards it. Safe for concurrent use, although
// the steps are inherently sequential.
type RecoveryController struct {
	id   string
	deps flows.RecoveryDeps

	mu    sync.Mutex
	state flows.RecoveryState
}

// BeginRecovery starts a recovery attempt. It needs a CodeIssuer.
func (m *Manager) BeginRecovery() (*RecoveryController, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if m.codes == nil {
		return nil, ErrDelegatedModeDisabled
	}
	return &RecoveryController{
		id:   uuid.NewString(),
		deps: m.recoveryDeps(),
	}, nil
}

// Request validates email and asks the issuer for a code. It is throttled per
// email by RateLimits.Recovery.
func (c *RecoveryController) Request(ctx context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return flows.RunRecoveryRequest(ctx, &c.state, email, c.deps)
}

// Verify checks a code. An expired code returns ErrCodeExpired and leaves the
// controller in the Verify step so Resend can be used.
func (c *RecoveryController) Verify(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return flows.RunRecoveryVerify(ctx, &c.state, code, c.deps)
}

// Resend issues a fresh code once Recovery.ResendCooldown elapsed; earlier
// calls return ErrTooSoon with the remaining wait.
func (c *RecoveryController) Resend(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return flows.RunRecoveryResend(ctx, &c.state, c.deps)
}

// Reset commits the new secret with the verified code and closes the
// controller. It does not sign in.
func (c *RecoveryController) Reset(ctx context.Context, secret, confirmation string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return flows.RunRecoveryReset(ctx, &c.state, secret, confirmation, c.deps)
}

// Cancel discards the controller. Every later call returns ErrRecoveryClosed.
func (c *RecoveryController) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Closed = true
	c.state.ConsumedCode = ""
}

// Snapshot returns a copy of the controller's progress. Codes never appear in it.
func (c *RecoveryController) Snapshot() RecoverySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := RecoverySnapshot{
		ID:                c.id,
		Step:              RecoveryStep(c.state.Step),
		Email:             c.state.Email,
		CodeIssuedAt:      c.state.CodeIssuedAt,
		ResendAvailableAt: c.state.ResendAvailableAt,
		Closed:            c.state.Closed,
	}
	if !c.state.CodeIssuedAt.IsZero() {
		snap.CodeExpiresAt = c.state.CodeIssuedAt.Add(c.deps.CodeTTL)
	}
	return snap
}
