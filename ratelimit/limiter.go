package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("ratelimit: backend unavailable")
	// ErrInvalidPolicy is returned for policies with non-positive fields.
	ErrInvalidPolicy = errors.New("ratelimit: invalid policy")
)

// Policy bounds attempts per trailing window.
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
}

// Validate reports whether both fields are positive.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 || p.Window <= 0 {
		return fmt.Errorf("%w: max_attempts=%d window=%s", ErrInvalidPolicy, p.MaxAttempts, p.Window)
	}
	return nil
}

// Decision is the result of a check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	Message    string
}

// Limiter is implemented by every backend.
type Limiter interface {
	IsAllowed(ctx context.Context, key string, policy Policy) (Decision, error)
	RecordAttempt(ctx context.Context, key string) error
	Clear(ctx context.Context, key string) error
}

// RetryMessage renders a human-facing retry hint.
func RetryMessage(retryAfter time.Duration) string {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds <= 1 {
		return "Too many attempts. Try again in 1 second."
	}
	return fmt.Sprintf("Too many attempts. Try again in %d seconds.", seconds)
}

// decide evaluates a sorted, already purged list of attempt times.
func decide(stamps []time.Time, now time.Time, policy Policy) Decision {
	count := len(stamps)
	if count < policy.MaxAttempts {
		return Decision{Allowed: true, Remaining: policy.MaxAttempts - count}
	}

	// count-MaxAttempts+1 entries must leave the window before the next attempt.
	unlock := stamps[count-policy.MaxAttempts].Add(policy.Window)
	retryAfter := unlock.Sub(now)
	if retryAfter <= 0 {
		retryAfter = time.Millisecond
	}
	return Decision{
		Allowed:    false,
		RetryAfter: retryAfter,
		Message:    RetryMessage(retryAfter),
	}
}
