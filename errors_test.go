package sessionkit

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		err  error
		want Category
	}{
		{err: nil, want: CategoryNone},
		{err: invalidInput("email", "Enter a valid email address."), want: CategoryFixInput},
		{err: ErrCodeExpired, want: CategoryFixInput},
		{err: ErrIdentityExists, want: CategoryFixInput},
		{err: ErrRecoveryStep, want: CategoryFixInput},
		{err: ErrDelegatedModeDisabled, want: CategoryFixInput},
		{err: &Error{Kind: ErrRateLimited, RetryAfter: time.Second}, want: CategoryWait},
		{err: ErrTooSoon, want: CategoryWait},
		{err: fmt.Errorf("%w: rejected", ErrInvalidCredentials), want: CategoryWrongCredentials},
		{err: ErrCodeInvalid, want: CategoryWrongCredentials},
		{err: ErrProfileMissing, want: CategoryWrongCredentials},
		{err: ErrNoSession, want: CategoryWrongCredentials},
		{err: unavailable(errors.New("dial tcp: refused")), want: CategoryTryLater},
		{err: ErrTimeout, want: CategoryTryLater},
		{err: errors.New("anything else"), want: CategoryTryLater},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CategoryOf(tt.err), "%v", tt.err)
	}
}

func TestErrorMessage(t *testing.T) {
	err := invalidInput("email", "Email is required.")
	assert.Equal(t, "invalid input: email: Email is required.", err.Error())
	assert.ErrorIs(t, err, ErrInvalidInput)

	bare := &Error{Kind: ErrTimeout}
	assert.Equal(t, "timed out", bare.Error())
}

func TestRetryAfter(t *testing.T) {
	err := fmt.Errorf("sign in: %w", &Error{Kind: ErrRateLimited, RetryAfter: 1500 * time.Millisecond})

	d, ok := RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, d)

	var e *Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, 2, e.RetryAfterSeconds())

	_, ok = RetryAfter(ErrInvalidCredentials)
	assert.False(t, ok)
}

func TestUnavailableWrapsOnce(t *testing.T) {
	inner := errors.New("boom")
	once := unavailable(inner)
	assert.ErrorIs(t, once, ErrProviderUnavailable)
	assert.Same(t, once, unavailable(once))
	assert.Nil(t, unavailable(nil))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrSuperseded, KindOf(fmt.Errorf("x: %w", ErrSuperseded)))
	assert.Equal(t, ErrRateLimited, KindOf(&Error{Kind: ErrRateLimited}))
	assert.Nil(t, KindOf(errors.New("foreign")))
}

func TestMapProviderError(t *testing.T) {
	assert.ErrorIs(t, mapProviderError(ErrIdentityExists), ErrIdentityExists)
	assert.ErrorIs(t, mapProviderError(errors.New("502")), ErrProviderUnavailable)
	assert.NoError(t, mapProviderError(nil))
}
