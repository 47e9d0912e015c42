package flows

import "context"

// RegisterResult is the flow-local registration outcome.
type RegisterResult struct {
	SubjectID         string
	NeedsConfirmation bool
}

type RegisterMetrics struct {
	RegisterSuccess     int
	RegisterDuplicate   int
	RegisterRateLimited int
	ConfirmationResent  int
}

type RegisterEvents struct {
	RegisterSuccess    string
	RegisterFailure    string
	RegisterRateLimit  string
	ConfirmationResent string
}

type RegisterErrors struct {
	DelegatedDisabled error
	IdentityExists    error
}

// RegisterDeps captures registration and confirmation-resend dependencies.
type RegisterDeps struct {
	DelegatedEnabled bool

	ValidateEmail  func(string) error
	ValidateSecret func(string) error
	ValidateName   func(string) error

	Throttle        Throttle
	ConfirmThrottle Throttle

	ProviderSignUp   func(ctx context.Context, email, secret, displayName string) (RegisterResult, error)
	ProviderResend   func(ctx context.Context, email string) error
	IsIdentityExists func(error) bool
	UpsertPending    func(ctx context.Context, email string) error
	MapProviderError func(error) error

	Observers
	Metrics RegisterMetrics
	Events  RegisterEvents
	Errors  RegisterErrors
}

func normalizeRegisterDeps(deps *RegisterDeps) {
	deps.Observers.normalize()
	if deps.MapProviderError == nil {
		deps.MapProviderError = func(err error) error { return err }
	}
	if deps.IsIdentityExists == nil {
		deps.IsIdentityExists = func(error) bool { return false }
	}
}

// RunRegister creates a delegated identity. It never authenticates; when the
// provider asks for confirmation a pending record is upserted for the email.
func RunRegister(ctx context.Context, email, secret, displayName string, deps RegisterDeps) (RegisterResult, error) {
	normalizeRegisterDeps(&deps)

	if !deps.DelegatedEnabled || deps.ProviderSignUp == nil {
		return RegisterResult{}, deps.Errors.DelegatedDisabled
	}
	for _, check := range []struct {
		fn    func(string) error
		value string
	}{
		{deps.ValidateEmail, email},
		{deps.ValidateSecret, secret},
		{deps.ValidateName, displayName},
	} {
		if check.fn == nil {
			continue
		}
		if err := check.fn(check.value); err != nil {
			return RegisterResult{}, err
		}
	}

	key := RateKey(KeyRegister, email)
	if err := deps.Throttle.check(ctx, key); err != nil {
		deps.MetricInc(deps.Metrics.RegisterRateLimited)
		deps.EmitAudit(ctx, deps.Events.RegisterRateLimit, false, "", err, func() map[string]string {
			return map[string]string{"email": NormalizeIdentifier(email)}
		})
		return RegisterResult{}, err
	}

	result, err := deps.ProviderSignUp(ctx, NormalizeIdentifier(email), secret, displayName)
	if err != nil {
		if deps.IsIdentityExists(err) {
			deps.Throttle.record(ctx, key, deps.Warn)
			deps.MetricInc(deps.Metrics.RegisterDuplicate)
			deps.EmitAudit(ctx, deps.Events.RegisterFailure, false, "", deps.Errors.IdentityExists, func() map[string]string {
				return map[string]string{"email": NormalizeIdentifier(email), "reason": "duplicate"}
			})
			return RegisterResult{}, deps.Errors.IdentityExists
		}
		mapped := deps.MapProviderError(err)
		deps.EmitAudit(ctx, deps.Events.RegisterFailure, false, "", mapped, nil)
		return RegisterResult{}, mapped
	}
	deps.Throttle.record(ctx, key, deps.Warn)

	if result.NeedsConfirmation && deps.UpsertPending != nil {
		if err := deps.UpsertPending(ctx, email); err != nil {
			// The identity exists now; a lost reminder must not fail registration.
			deps.Warn("sessionkit: pending confirmation not stored", "error", err)
		}
	}

	deps.MetricInc(deps.Metrics.RegisterSuccess)
	deps.EmitAudit(ctx, deps.Events.RegisterSuccess, true, result.SubjectID, nil, func() map[string]string {
		if result.NeedsConfirmation {
			return map[string]string{"needs_confirmation": "true"}
		}
		return nil
	})
	return result, nil
}

// RunResendConfirmation asks the provider to resend the confirmation message,
// throttled by its own policy.
func RunResendConfirmation(ctx context.Context, email string, deps RegisterDeps) error {
	normalizeRegisterDeps(&deps)

	if !deps.DelegatedEnabled || deps.ProviderResend == nil {
		return deps.Errors.DelegatedDisabled
	}
	if deps.ValidateEmail != nil {
		if err := deps.ValidateEmail(email); err != nil {
			return err
		}
	}

	key := RateKey(KeyConfirm, email)
	if err := deps.ConfirmThrottle.check(ctx, key); err != nil {
		deps.EmitAudit(ctx, deps.Events.RegisterRateLimit, false, "", err, func() map[string]string {
			return map[string]string{"email": NormalizeIdentifier(email), "scope": "confirm"}
		})
		return err
	}

	if err := deps.ProviderResend(ctx, NormalizeIdentifier(email)); err != nil {
		return deps.MapProviderError(err)
	}
	deps.ConfirmThrottle.record(ctx, key, deps.Warn)
	deps.MetricInc(deps.Metrics.ConfirmationResent)
	deps.EmitAudit(ctx, deps.Events.ConfirmationResent, true, "", nil, nil)
	return nil
}
