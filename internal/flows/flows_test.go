package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errInvalidCreds = errors.New("invalid credentials")
	errMissing      = errors.New("profile missing")
	errLimited      = errors.New("rate limited")
	errNotFound     = errors.New("not found")
	errStep         = errors.New("step")
	errClosed       = errors.New("closed")
	errExpired      = errors.New("expired")
	errCode         = errors.New("code invalid")
	errTooSoon      = errors.New("too soon")
)

type countingThrottle struct {
	limit   int
	counts  map[string]int
	cleared []string
}

func newCountingThrottle(limit int) *countingThrottle {
	return &countingThrottle{limit: limit, counts: map[string]int{}}
}

func (c *countingThrottle) throttle() Throttle {
	return Throttle{
		Check: func(_ context.Context, key string) error {
			if c.counts[key] >= c.limit {
				return errLimited
			}
			return nil
		},
		Record: func(_ context.Context, key string) error {
			c.counts[key]++
			return nil
		},
		Clear: func(_ context.Context, key string) error {
			delete(c.counts, key)
			c.cleared = append(c.cleared, key)
			return nil
		},
	}
}

func signInDeps(th *countingThrottle) SignInDeps {
	return SignInDeps{
		DelegatedEnabled: true,
		MatchEmbedded: func(id, secret string) (Profile, bool) {
			if NormalizeIdentifier(id) == "admin@admin.com" && secret == "admin123" {
				return Profile{SubjectID: "admin"}, true
			}
			return Profile{}, false
		},
		Throttle: th.throttle(),
		ProviderSignIn: func(_ context.Context, id, secret string) (string, string, error) {
			if secret != "right-secret" {
				return "", "", errInvalidCreds
			}
			return "sub-" + id, "tok", nil
		},
		IsRejection: func(err error) bool { return errors.Is(err, errInvalidCreds) },
		GetProfile: func(_ context.Context, subjectID string) (Profile, error) {
			return Profile{SubjectID: subjectID, Email: "a@b.com"}, nil
		},
		IsProfileNotFound: func(err error) bool { return errors.Is(err, errNotFound) },
		Errors:            SignInErrors{InvalidCredentials: errInvalidCreds, ProfileMissing: errMissing},
	}
}

func TestSignInRateLimitsDelegatedOnly(t *testing.T) {
	ctx := context.Background()
	th := newCountingThrottle(5)
	deps := signInDeps(th)

	for i := 0; i < 5; i++ {
		_, err := RunSignIn(ctx, "A@B.com", "wrong-secret", deps)
		require.ErrorIs(t, err, errInvalidCreds)
	}
	assert.Equal(t, 5, th.counts["login:a@b.com"])

	_, err := RunSignIn(ctx, "a@b.com", "right-secret", deps)
	assert.ErrorIs(t, err, errLimited)

	res, err := RunSignIn(ctx, "admin@admin.com", "admin123", deps)
	require.NoError(t, err)
	assert.Equal(t, SignInEmbedded, res.Mode)
}

func TestSignInSuccessClearsThrottle(t *testing.T) {
	th := newCountingThrottle(5)
	deps := signInDeps(th)

	_, _ = RunSignIn(context.Background(), "a@b.com", "nope-nope", deps)
	res, err := RunSignIn(context.Background(), "a@b.com", "right-secret", deps)
	require.NoError(t, err)
	assert.Equal(t, SignInDelegated, res.Mode)
	assert.Equal(t, "tok", res.AccessToken)
	assert.Contains(t, th.cleared, "login:a@b.com")
}

func TestSignInProviderOutageIsNotRecorded(t *testing.T) {
	th := newCountingThrottle(5)
	deps := signInDeps(th)
	outage := errors.New("dial tcp: refused")
	deps.ProviderSignIn = func(context.Context, string, string) (string, string, error) {
		return "", "", outage
	}

	_, err := RunSignIn(context.Background(), "a@b.com", "right-secret", deps)
	assert.ErrorIs(t, err, outage)
	assert.Zero(t, th.counts["login:a@b.com"])
}

func TestSignInMissingProfileRevokes(t *testing.T) {
	th := newCountingThrottle(5)
	deps := signInDeps(th)
	var revoked []string
	deps.RevokeRemote = func(token, reason string) { revoked = append(revoked, token+":"+reason) }
	deps.GetProfile = func(context.Context, string) (Profile, error) { return Profile{}, errNotFound }

	_, err := RunSignIn(context.Background(), "a@b.com", "right-secret", deps)
	assert.ErrorIs(t, err, errMissing)
	assert.Equal(t, []string{"tok:profile_missing"}, revoked)
}

func TestSignInValidationRunsFirst(t *testing.T) {
	th := newCountingThrottle(5)
	deps := signInDeps(th)
	invalid := errors.New("bad email")
	called := false
	deps.ValidateIdentifier = func(string) error { return invalid }
	deps.ProviderSignIn = func(context.Context, string, string) (string, string, error) {
		called = true
		return "", "", nil
	}

	_, err := RunSignIn(context.Background(), "x", "y", deps)
	assert.ErrorIs(t, err, invalid)
	assert.False(t, called)
}

type recoveryHarness struct {
	now     time.Time
	issued  map[string]string
	counter int
	deps    RecoveryDeps
}

func newRecoveryHarness() *recoveryHarness {
	h := &recoveryHarness{
		now:    time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		issued: map[string]string{},
	}
	h.deps = RecoveryDeps{
		CodeTTL:        10 * time.Minute,
		ResendCooldown: 60 * time.Second,
		CodeLength:     6,
		SecretMin:      8,
		SecretMax:      16,
		Now:            func() time.Time { return h.now },
		InvalidInput:   func(field, message string) error { return errors.New(field + ": " + message) },
		TooSoon:        func(time.Duration) error { return errTooSoon },
		IssueCode: func(_ context.Context, email string) error {
			h.counter++
			h.issued[email] = []string{"111111", "222222", "333333"}[h.counter%3]
			return nil
		},
		VerifyCode: func(_ context.Context, email, code string) (int, error) {
			if h.issued[email] == code {
				return CodeValid, nil
			}
			return CodeInvalid, nil
		},
		CommitNewSecret: func(_ context.Context, email, code, _ string) error {
			if h.issued[email] != code {
				return errCode
			}
			delete(h.issued, email)
			return nil
		},
		IsCodeRejected: func(err error) bool { return errors.Is(err, errCode) },
		Errors:         RecoveryErrors{Step: errStep, Closed: errClosed, CodeExpired: errExpired, CodeInvalid: errCode},
	}
	return h
}

func TestRecoveryHappyPath(t *testing.T) {
	ctx := context.Background()
	h := newRecoveryHarness()
	st := &RecoveryState{}

	require.NoError(t, RunRecoveryRequest(ctx, st, "User@Example.com", h.deps))
	assert.Equal(t, RecoveryVerify, st.Step)
	assert.Equal(t, "user@example.com", st.Email)
	assert.Equal(t, h.now.Add(time.Minute), st.ResendAvailableAt)

	assert.ErrorIs(t, RunRecoveryReset(ctx, st, "newsecret1", "newsecret1", h.deps), errStep)

	require.NoError(t, RunRecoveryVerify(ctx, st, h.issued["user@example.com"], h.deps))
	assert.Equal(t, RecoveryReset, st.Step)

	err := RunRecoveryReset(ctx, st, "short", "short", h.deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret")
	err = RunRecoveryReset(ctx, st, "newsecret1", "newsecret2", h.deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confirmation")

	require.NoError(t, RunRecoveryReset(ctx, st, "newsecret1", "newsecret1", h.deps))
	assert.True(t, st.Closed)
	assert.Equal(t, RecoveryDone, st.Step)
	assert.ErrorIs(t, RunRecoveryResend(ctx, st, h.deps), errClosed)
}

func TestRecoveryVerifyExpiredDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	h := newRecoveryHarness()
	st := &RecoveryState{}

	require.NoError(t, RunRecoveryRequest(ctx, st, "a@b.com", h.deps))
	code := h.issued["a@b.com"]
	h.now = h.now.Add(10 * time.Minute)

	assert.ErrorIs(t, RunRecoveryVerify(ctx, st, code, h.deps), errExpired)
	assert.Equal(t, RecoveryVerify, st.Step)
}

func TestRecoveryVerifyExpiredWhileThrottled(t *testing.T) {
	ctx := context.Background()
	h := newRecoveryHarness()
	th := newCountingThrottle(0)
	h.deps.VerifyThrottle = th.throttle()
	st := &RecoveryState{}

	require.NoError(t, RunRecoveryRequest(ctx, st, "a@b.com", h.deps))
	code := h.issued["a@b.com"]
	assert.ErrorIs(t, RunRecoveryVerify(ctx, st, code, h.deps), errLimited)

	h.now = h.now.Add(10*time.Minute + 30*time.Second)
	assert.ErrorIs(t, RunRecoveryVerify(ctx, st, code, h.deps), errExpired)
	assert.Equal(t, RecoveryVerify, st.Step)
}

func TestRecoveryVerifyRejectsMalformedCode(t *testing.T) {
	ctx := context.Background()
	h := newRecoveryHarness()
	st := &RecoveryState{}
	require.NoError(t, RunRecoveryRequest(ctx, st, "a@b.com", h.deps))

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		err := RunRecoveryVerify(ctx, st, code, h.deps)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "code")
	}
	assert.ErrorIs(t, RunRecoveryVerify(ctx, st, "999999", h.deps), errCode)
}

func TestRecoveryResendCooldown(t *testing.T) {
	ctx := context.Background()
	h := newRecoveryHarness()
	st := &RecoveryState{}
	require.NoError(t, RunRecoveryRequest(ctx, st, "a@b.com", h.deps))
	first := h.issued["a@b.com"]

	h.now = h.now.Add(10 * time.Second)
	assert.ErrorIs(t, RunRecoveryResend(ctx, st, h.deps), errTooSoon)

	h.now = h.now.Add(51 * time.Second)
	require.NoError(t, RunRecoveryResend(ctx, st, h.deps))
	assert.Equal(t, RecoveryVerify, st.Step)
	assert.Equal(t, h.now, st.CodeIssuedAt)
	assert.NotEqual(t, first, h.issued["a@b.com"])
	assert.ErrorIs(t, RunRecoveryVerify(ctx, st, first, h.deps), errCode)
}

func TestRecoveryResetWithSpentCodeCloses(t *testing.T) {
	ctx := context.Background()
	h := newRecoveryHarness()
	st := &RecoveryState{}
	require.NoError(t, RunRecoveryRequest(ctx, st, "a@b.com", h.deps))
	require.NoError(t, RunRecoveryVerify(ctx, st, h.issued["a@b.com"], h.deps))

	// Another path spent the code in the meantime.
	delete(h.issued, "a@b.com")

	assert.ErrorIs(t, RunRecoveryReset(ctx, st, "newsecret1", "newsecret1", h.deps), errCode)
	assert.True(t, st.Closed)
	assert.ErrorIs(t, RunRecoveryReset(ctx, st, "newsecret1", "newsecret1", h.deps), errClosed)
}

func TestRegisterNeedsConfirmationUpsertsPending(t *testing.T) {
	ctx := context.Background()
	th := newCountingThrottle(10)
	var pending []string
	deps := RegisterDeps{
		DelegatedEnabled: true,
		Throttle:         th.throttle(),
		ProviderSignUp: func(_ context.Context, email, _, _ string) (RegisterResult, error) {
			return RegisterResult{SubjectID: "sub-" + email, NeedsConfirmation: true}, nil
		},
		UpsertPending: func(_ context.Context, email string) error {
			pending = append(pending, email)
			return nil
		},
	}

	res, err := RunRegister(ctx, "new@user.com", "abcdefg1", "New User", deps)
	require.NoError(t, err)
	assert.True(t, res.NeedsConfirmation)
	assert.Equal(t, []string{"new@user.com"}, pending)
	assert.Equal(t, 1, th.counts["register:new@user.com"])

	deps.DelegatedEnabled = false
	disabled := errors.New("disabled")
	deps.Errors.DelegatedDisabled = disabled
	_, err = RunRegister(ctx, "new@user.com", "abcdefg1", "New User", deps)
	assert.ErrorIs(t, err, disabled)
}
