package sessionkit

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidInput is returned when local validation rejects a request. It never reaches a provider.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRateLimited is returned when a sliding-window policy denies an attempt.
	ErrRateLimited = errors.New("rate limited")
	// ErrCodeExpired is returned when a recovery code is verified after its lifetime.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrCodeInvalid is returned when a recovery code is unknown, already consumed or superseded.
	ErrCodeInvalid = errors.New("verification code invalid")
	// ErrTooSoon is returned when a code resend is requested before the cooldown elapsed.
	ErrTooSoon = errors.New("requested too soon")
	// ErrInvalidCredentials is returned when the identifier/secret pair is rejected.
	// Identity providers return it (optionally wrapped) to signal a definite rejection.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrProfileMissing reports that a valid credential has no backing profile. The
	// Manager treats it as a deleted identity and forces a full sign-out.
	ErrProfileMissing = errors.New("profile missing")
	// ErrProfileNotFound is returned by ProfileProvider implementations for unknown subjects.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrProviderUnavailable wraps every unexpected provider or storage failure.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrTimeout is reported when the initialization watchdog fires.
	ErrTimeout = errors.New("timed out")
	// ErrIdentityExists is returned by identity providers when sign-up hits an existing identity.
	ErrIdentityExists = errors.New("identity already registered")
	// ErrDelegatedModeDisabled is returned by operations that need an identity provider.
	ErrDelegatedModeDisabled = errors.New("delegated mode not configured")
	// ErrRecoveryStep is returned when a recovery operation is called out of order.
	ErrRecoveryStep = errors.New("recovery step out of order")
	// ErrRecoveryClosed is returned by a recovery controller after success or cancellation.
	ErrRecoveryClosed = errors.New("recovery flow closed")
	// ErrManagerClosed is returned by operations on a closed Manager.
	ErrManagerClosed = errors.New("manager closed")
	// ErrSuperseded is returned when a newer sign-in, sign-out or provider event
	// overtook the operation. Its result was discarded.
	ErrSuperseded = errors.New("superseded by a newer session change")
	// ErrNoSession is returned by operations that need a current Session.
	ErrNoSession = errors.New("no active session")
)

// Error carries a machine-readable Kind (one of the sentinels above) together with a
// human-facing message and, for throttling and code-timing failures, the time the
// caller should wait before retrying.
type Error struct {
	Kind       error
	Message    string
	Field      string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message == "" {
		return e.Kind.Error()
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes Kind so errors.Is works against the sentinels.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for display.
func (e *Error) RetryAfterSeconds() int {
	if e == nil || e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

func invalidInput(field, message string) error {
	return &Error{Kind: ErrInvalidInput, Field: field, Message: message}
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProviderUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// Category groups failures by what the caller should tell the user.
type Category uint8

const (
	// CategoryNone is returned for nil errors.
	CategoryNone Category = iota
	// CategoryFixInput means "fix your input".
	CategoryFixInput
	// CategoryWait means "wait N seconds"; see RetryAfter.
	CategoryWait
	// CategoryWrongCredentials means "your credentials are wrong".
	CategoryWrongCredentials
	// CategoryTryLater means "something external failed, try later".
	CategoryTryLater
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryFixInput:
		return "fix_input"
	case CategoryWait:
		return "wait"
	case CategoryWrongCredentials:
		return "wrong_credentials"
	default:
		return "try_later"
	}
}

// CategoryOf classifies err. Unknown errors are CategoryTryLater.
func CategoryOf(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrCodeExpired),
		errors.Is(err, ErrIdentityExists),
		errors.Is(err, ErrRecoveryStep),
		errors.Is(err, ErrDelegatedModeDisabled):
		return CategoryFixInput
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrTooSoon):
		return CategoryWait
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrCodeInvalid),
		errors.Is(err, ErrProfileMissing),
		errors.Is(err, ErrNoSession):
		return CategoryWrongCredentials
	default:
		return CategoryTryLater
	}
}

// RetryAfter extracts the retry hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}

// KindOf returns the taxonomy sentinel err belongs to, or nil for foreign errors.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrInvalidInput, ErrRateLimited, ErrCodeExpired, ErrCodeInvalid, ErrTooSoon,
		ErrInvalidCredentials, ErrProfileMissing, ErrProviderUnavailable, ErrTimeout,
		ErrIdentityExists, ErrDelegatedModeDisabled, ErrRecoveryStep, ErrRecoveryClosed,
		ErrManagerClosed, ErrSuperseded, ErrNoSession,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
