package flows

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"
)

// RecoveryStep is the position of a recovery state machine. Steps only advance.
type RecoveryStep uint8

const (
	RecoveryRequest RecoveryStep = iota
	RecoveryVerify
	RecoveryReset
	RecoveryDone
)

// Code statuses mirror sessionkit.CodeStatus.
const (
	CodeInvalid = iota
	CodeValid
	CodeExpired
)

// RecoveryState is owned by one controller and mutated only by the flows below
// while the controller's lock is held.
type RecoveryState struct {
	Step              RecoveryStep
	Email             string
	CodeIssuedAt      time.Time
	ResendAvailableAt time.Time
	// ConsumedCode is the code accepted in Verify. It is never re-checked
	// against the issuer; it only binds Reset to this controller.
	ConsumedCode string
	Closed       bool
}

type RecoveryMetrics struct {
	RecoveryRequested   int
	RecoveryRateLimited int
	CodeResent          int
	CodeVerified        int
	CodeRejected        int
	RecoveryCompleted   int
}

type RecoveryEvents struct {
	RecoveryRequest   string
	RecoveryVerify    string
	RecoveryResend    string
	RecoveryComplete  string
	RecoveryRateLimit string
}

type RecoveryErrors struct {
	Step        error
	Closed      error
	CodeExpired error
	CodeInvalid error
}

// RecoveryDeps captures recovery dependencies.
type RecoveryDeps struct {
	CodeTTL        time.Duration
	ResendCooldown time.Duration
	CodeLength     int
	SecretMin      int
	SecretMax      int
	Now            func() time.Time

	ValidateEmail func(string) error
	InvalidInput  func(field, message string) error
	TooSoon       func(wait time.Duration) error

	RequestThrottle Throttle
	VerifyThrottle  Throttle
	LoginThrottle   Throttle

	IssueCode        func(ctx context.Context, email string) error
	VerifyCode       func(ctx context.Context, email, code string) (int, error)
	CommitNewSecret  func(ctx context.Context, email, code, secret string) error
	IsCodeRejected   func(error) bool
	MapProviderError func(error) error

	Observers
	Metrics RecoveryMetrics
	Events  RecoveryEvents
	Errors  RecoveryErrors
}

func normalizeRecoveryDeps(deps *RecoveryDeps) {
	deps.Observers.normalize()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MapProviderError == nil {
		deps.MapProviderError = func(err error) error { return err }
	}
	if deps.IsCodeRejected == nil {
		deps.IsCodeRejected = func(error) bool { return false }
	}
}

func expectStep(state *RecoveryState, want RecoveryStep, deps RecoveryDeps) error {
	if state.Closed {
		return deps.Errors.Closed
	}
	if state.Step != want {
		return deps.Errors.Step
	}
	return nil
}

// RunRecoveryRequest issues the first code and moves the state to Verify.
func RunRecoveryRequest(ctx context.Context, state *RecoveryState, email string, deps RecoveryDeps) error {
	normalizeRecoveryDeps(&deps)
	if err := expectStep(state, RecoveryRequest, deps); err != nil {
		return err
	}
	if deps.ValidateEmail != nil {
		if err := deps.ValidateEmail(email); err != nil {
			return err
		}
	}

	email = NormalizeIdentifier(email)
	if err := issue(ctx, email, deps); err != nil {
		return err
	}

	state.Email = email
	state.Step = RecoveryVerify
	resetTimers(state, deps)
	deps.MetricInc(deps.Metrics.RecoveryRequested)
	deps.EmitAudit(ctx, deps.Events.RecoveryRequest, true, "", nil, nil)
	return nil
}

// RunRecoveryResend issues a fresh code once the cooldown elapsed. The state
// stays in Verify and both timers restart.
func RunRecoveryResend(ctx context.Context, state *RecoveryState, deps RecoveryDeps) error {
	normalizeRecoveryDeps(&deps)
	if err := expectStep(state, RecoveryVerify, deps); err != nil {
		return err
	}

	if wait := state.ResendAvailableAt.Sub(deps.Now()); wait > 0 {
		return deps.TooSoon(wait)
	}
	if err := issue(ctx, state.Email, deps); err != nil {
		return err
	}

	resetTimers(state, deps)
	deps.MetricInc(deps.Metrics.CodeResent)
	deps.EmitAudit(ctx, deps.Events.RecoveryResend, true, "", nil, nil)
	return nil
}

func issue(ctx context.Context, email string, deps RecoveryDeps) error {
	key := RateKey(KeyRecovery, email)
	if err := deps.RequestThrottle.check(ctx, key); err != nil {
		deps.MetricInc(deps.Metrics.RecoveryRateLimited)
		deps.EmitAudit(ctx, deps.Events.RecoveryRateLimit, false, "", err, func() map[string]string {
			return map[string]string{"scope": "request"}
		})
		return err
	}
	if err := deps.IssueCode(ctx, email); err != nil {
		return deps.MapProviderError(err)
	}
	deps.RequestThrottle.record(ctx, key, deps.Warn)
	return nil
}

func resetTimers(state *RecoveryState, deps RecoveryDeps) {
	now := deps.Now()
	state.CodeIssuedAt = now
	state.ResendAvailableAt = now.Add(deps.ResendCooldown)
	state.ConsumedCode = ""
}

// RunRecoveryVerify checks a code. An expired code fails without advancing,
// even while verification is throttled; a valid one moves the state to Reset
// and becomes the consumed code.
func RunRecoveryVerify(ctx context.Context, state *RecoveryState, code string, deps RecoveryDeps) error {
	normalizeRecoveryDeps(&deps)
	if err := expectStep(state, RecoveryVerify, deps); err != nil {
		return err
	}
	if !isNumeric(code, deps.CodeLength) {
		return deps.InvalidInput("code", fmt.Sprintf("Enter the %d-digit code from your email.", deps.CodeLength))
	}

	// Expiry is decided locally and wins over the throttle.
	if !deps.Now().Before(state.CodeIssuedAt.Add(deps.CodeTTL)) {
		deps.MetricInc(deps.Metrics.CodeRejected)
		deps.EmitAudit(ctx, deps.Events.RecoveryVerify, false, "", deps.Errors.CodeExpired, nil)
		return deps.Errors.CodeExpired
	}

	key := RateKey(KeyRecoveryVerify, state.Email)
	if err := deps.VerifyThrottle.check(ctx, key); err != nil {
		deps.MetricInc(deps.Metrics.RecoveryRateLimited)
		deps.EmitAudit(ctx, deps.Events.RecoveryRateLimit, false, "", err, func() map[string]string {
			return map[string]string{"scope": "verify"}
		})
		return err
	}

	status, err := deps.VerifyCode(ctx, state.Email, code)
	if err != nil {
		return deps.MapProviderError(err)
	}
	switch status {
	case CodeValid:
		state.Step = RecoveryReset
		state.ConsumedCode = code
		deps.VerifyThrottle.clear(ctx, key, deps.Warn)
		deps.MetricInc(deps.Metrics.CodeVerified)
		deps.EmitAudit(ctx, deps.Events.RecoveryVerify, true, "", nil, nil)
		return nil
	case CodeExpired:
		deps.MetricInc(deps.Metrics.CodeRejected)
		deps.EmitAudit(ctx, deps.Events.RecoveryVerify, false, "", deps.Errors.CodeExpired, nil)
		return deps.Errors.CodeExpired
	default:
		deps.VerifyThrottle.record(ctx, key, deps.Warn)
		deps.MetricInc(deps.Metrics.CodeRejected)
		deps.EmitAudit(ctx, deps.Events.RecoveryVerify, false, "", deps.Errors.CodeInvalid, nil)
		return deps.Errors.CodeInvalid
	}
}

// RunRecoveryReset commits the new secret with the consumed code and closes the
// state. A code the issuer no longer accepts also closes the state, since the
// controller can never succeed afterwards.
func RunRecoveryReset(ctx context.Context, state *RecoveryState, secret, confirmation string, deps RecoveryDeps) error {
	normalizeRecoveryDeps(&deps)
	if err := expectStep(state, RecoveryReset, deps); err != nil {
		return err
	}

	if n := utf8.RuneCountInString(secret); n < deps.SecretMin || n > deps.SecretMax {
		return deps.InvalidInput("secret", fmt.Sprintf("Password must be between %d and %d characters.", deps.SecretMin, deps.SecretMax))
	}
	if secret != confirmation {
		return deps.InvalidInput("confirmation", "Passwords do not match.")
	}
	if state.ConsumedCode == "" {
		return deps.Errors.CodeInvalid
	}

	if err := deps.CommitNewSecret(ctx, state.Email, state.ConsumedCode, secret); err != nil {
		if deps.IsCodeRejected(err) {
			state.Closed = true
			state.ConsumedCode = ""
			deps.EmitAudit(ctx, deps.Events.RecoveryComplete, false, "", deps.Errors.CodeInvalid, nil)
			return deps.Errors.CodeInvalid
		}
		return deps.MapProviderError(err)
	}

	state.Step = RecoveryDone
	state.Closed = true
	state.ConsumedCode = ""
	deps.LoginThrottle.clear(ctx, RateKey(KeyLogin, state.Email), deps.Warn)
	deps.VerifyThrottle.clear(ctx, RateKey(KeyRecoveryVerify, state.Email), deps.Warn)
	deps.MetricInc(deps.Metrics.RecoveryCompleted)
	deps.EmitAudit(ctx, deps.Events.RecoveryComplete, true, "", nil, nil)
	return nil
}

func isNumeric(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
