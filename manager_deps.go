package sessionkit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrEthical07/sessionkit/internal/flows"
	"github.com/MrEthical07/sessionkit/ratelimit"
	"github.com/MrEthical07/sessionkit/validate"
)

func (m *Manager) observers() flows.Observers {
	return flows.Observers{
		MetricInc: func(id int) { m.metrics.Inc(MetricID(id)) },
		EmitAudit: m.flowAudit,
		Warn: func(msg string, kv ...any) {
			m.logger.Warn().Fields(kv).Msg(msg)
		},
	}
}

// throttle binds policy to the Manager's limiter. A limiter failure denies the
// attempt with ErrProviderUnavailable.
func (m *Manager) throttle(policy ratelimit.Policy) flows.Throttle {
	return flows.Throttle{
		Check: func(ctx context.Context, key string) error {
			d, err := m.limiter.IsAllowed(ctx, key, policy)
			if err != nil {
				m.logger.Error().Err(err).Msg("rate limiter check failed")
				return unavailable(err)
			}
			if !d.Allowed {
				return &Error{Kind: ErrRateLimited, Message: d.Message, RetryAfter: d.RetryAfter}
			}
			return nil
		},
		Record: func(ctx context.Context, key string) error {
			return m.limiter.RecordAttempt(ctx, key)
		},
		Clear: func(ctx context.Context, key string) error {
			return m.limiter.Clear(ctx, key)
		},
	}
}

func ruleCheck(field string, rule validate.Rule) func(string) error {
	return func(v string) error {
		if r := rule(v); !r.Valid {
			return invalidInput(field, r.Message)
		}
		return nil
	}
}

// mapProviderError keeps taxonomy errors and wraps everything else as unavailable.
func mapProviderError(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != nil {
		return err
	}
	return unavailable(err)
}

func (m *Manager) signInDeps(ctx context.Context) flows.SignInDeps {
	deps := flows.SignInDeps{
		DelegatedEnabled:   m.idp != nil,
		ValidateIdentifier: ruleCheck("email", validate.Email),
		ValidateSecret:     ruleCheck("secret", validate.PasswordRule(validate.ContextLogin)),
		MatchEmbedded:      m.matchEmbedded,
		Throttle:           m.throttle(m.config.RateLimits.Login),
		IsRejection:        func(err error) bool { return errors.Is(err, ErrInvalidCredentials) },
		IsProfileNotFound:  func(err error) bool { return errors.Is(err, ErrProfileNotFound) },
		RevokeRemote: func(token, reason string) {
			m.revokeAsync(ctx, token, "", reason)
		},
		MapProviderError: mapProviderError,
		Observers:        m.observers(),
		Metrics: flows.SignInMetrics{
			SignInSuccess:     int(MetricSignInSuccess),
			SignInFailure:     int(MetricSignInFailure),
			SignInRateLimited: int(MetricSignInRateLimited),
			EmbeddedSignIn:    int(MetricEmbeddedSignIn),
			ProfileMissing:    int(MetricProfileMissing),
		},
		Events: flows.SignInEvents{
			SignInSuccess:     auditEventSignInSuccess,
			SignInFailure:     auditEventSignInFailure,
			SignInRateLimited: auditEventSignInRateLimited,
			ProfileMissing:    auditEventProfileMissing,
		},
		Errors: flows.SignInErrors{
			InvalidCredentials:  ErrInvalidCredentials,
			ProfileMissing:      ErrProfileMissing,
			ProviderUnavailable: ErrProviderUnavailable,
		},
	}
	if m.idp != nil {
		deps.ProviderSignIn = func(ctx context.Context, identifier, secret string) (string, string, error) {
			remote, err := m.idp.SignIn(ctx, flows.NormalizeIdentifier(identifier), secret)
			return remote.SubjectID, remote.AccessToken, err
		}
	}
	if m.profiles != nil {
		deps.GetProfile = func(ctx context.Context, subjectID string) (flows.Profile, error) {
			p, err := m.profiles.GetProfile(ctx, subjectID)
			return toFlowProfile(p), err
		}
	}
	return deps
}

func (m *Manager) registerDeps() flows.RegisterDeps {
	deps := flows.RegisterDeps{
		DelegatedEnabled: m.idp != nil,
		ValidateEmail:    ruleCheck("email", validate.Email),
		ValidateSecret:   ruleCheck("secret", validate.PasswordRule(validate.ContextRegistration)),
		ValidateName:     ruleCheck("name", validate.Name),
		Throttle:         m.throttle(m.config.RateLimits.Register),
		ConfirmThrottle:  m.throttle(m.config.RateLimits.ResendConfirmation),
		IsIdentityExists: func(err error) bool { return errors.Is(err, ErrIdentityExists) },
		UpsertPending: func(ctx context.Context, email string) error {
			_, err := m.pending.Upsert(ctx, email)
			return err
		},
		MapProviderError: mapProviderError,
		Observers:        m.observers(),
		Metrics: flows.RegisterMetrics{
			RegisterSuccess:     int(MetricRegisterSuccess),
			RegisterDuplicate:   int(MetricRegisterDuplicate),
			RegisterRateLimited: int(MetricRegisterRateLimited),
			ConfirmationResent:  int(MetricConfirmationResent),
		},
		Events: flows.RegisterEvents{
			RegisterSuccess:    auditEventRegisterSuccess,
			RegisterFailure:    auditEventRegisterFailure,
			RegisterRateLimit:  auditEventRegisterRateLimited,
			ConfirmationResent: auditEventConfirmationResent,
		},
		Errors: flows.RegisterErrors{
			DelegatedDisabled: ErrDelegatedModeDisabled,
			IdentityExists:    ErrIdentityExists,
		},
	}
	if m.idp != nil {
		deps.ProviderSignUp = func(ctx context.Context, email, secret, displayName string) (flows.RegisterResult, error) {
			res, err := m.idp.SignUp(ctx, email, secret, Profile{DisplayName: displayName, Email: email, Role: RoleUser})
			return flows.RegisterResult{SubjectID: res.SubjectID, NeedsConfirmation: res.NeedsConfirmation}, err
		}
		deps.ProviderResend = m.idp.ResendConfirmation
	}
	return deps
}

func (m *Manager) recoveryDeps() flows.RecoveryDeps {
	cfg := m.config.Recovery
	return flows.RecoveryDeps{
		CodeTTL:        cfg.CodeTTL,
		ResendCooldown: cfg.ResendCooldown,
		CodeLength:     cfg.CodeLength,
		SecretMin:      cfg.SecretMinLength,
		SecretMax:      cfg.SecretMaxLength,
		Now:            m.clock.Now,

		ValidateEmail: ruleCheck("email", validate.Email),
		InvalidInput:  invalidInput,
		TooSoon: func(wait time.Duration) error {
			return &Error{Kind: ErrTooSoon, RetryAfter: wait, Message: resendMessage(wait)}
		},

		RequestThrottle: m.throttle(m.config.RateLimits.Recovery),
		VerifyThrottle:  m.throttle(m.config.RateLimits.RecoveryVerify),
		LoginThrottle:   m.throttle(m.config.RateLimits.Login),

		IssueCode: m.codes.IssueCode,
		VerifyCode: func(ctx context.Context, email, code string) (int, error) {
			status, err := m.codes.VerifyCode(ctx, email, code)
			return int(status), err
		},
		CommitNewSecret:  m.codes.CommitNewSecret,
		IsCodeRejected:   func(err error) bool { return errors.Is(err, ErrCodeInvalid) },
		MapProviderError: mapProviderError,

		Observers: m.observers(),
		Metrics: flows.RecoveryMetrics{
			RecoveryRequested:   int(MetricRecoveryRequested),
			RecoveryRateLimited: int(MetricRecoveryRateLimited),
			CodeResent:          int(MetricRecoveryCodeResent),
			CodeVerified:        int(MetricRecoveryCodeVerified),
			CodeRejected:        int(MetricRecoveryCodeRejected),
			RecoveryCompleted:   int(MetricRecoveryCompleted),
		},
		Events: flows.RecoveryEvents{
			RecoveryRequest:   auditEventRecoveryRequest,
			RecoveryVerify:    auditEventRecoveryVerify,
			RecoveryResend:    auditEventRecoveryResend,
			RecoveryComplete:  auditEventRecoveryComplete,
			RecoveryRateLimit: auditEventRecoveryRateLimited,
		},
		Errors: flows.RecoveryErrors{
			Step:        ErrRecoveryStep,
			Closed:      ErrRecoveryClosed,
			CodeExpired: ErrCodeExpired,
			CodeInvalid: ErrCodeInvalid,
		},
	}
}

func resendMessage(wait time.Duration) string {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds <= 1 {
		return "You can request a new code in 1 second."
	}
	return fmt.Sprintf("You can request a new code in %d seconds.", seconds)
}
