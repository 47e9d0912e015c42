package flows

import "context"

// Sign-in modes mirror sessionkit.Mode without importing it.
const (
	SignInEmbedded = iota + 1
	SignInDelegated
)

// SignInResult is the flow-local sign-in outcome. The caller turns it into a
// Session and commits it.
type SignInResult struct {
	Mode        int
	AccessToken string
	Profile     Profile
}

// SignInMetrics carries metric IDs used by the sign-in flow.
type SignInMetrics struct {
	SignInSuccess     int
	SignInFailure     int
	SignInRateLimited int
	EmbeddedSignIn    int
	ProfileMissing    int
}

// SignInEvents carries audit event names used by the sign-in flow.
type SignInEvents struct {
	SignInSuccess     string
	SignInFailure     string
	SignInRateLimited string
	ProfileMissing    string
}

// SignInErrors carries host-level sentinel errors used by the sign-in flow.
type SignInErrors struct {
	InvalidCredentials  error
	ProfileMissing      error
	ProviderUnavailable error
}

// SignInDeps captures sign-in dependencies.
type SignInDeps struct {
	DelegatedEnabled bool

	ValidateIdentifier func(string) error
	ValidateSecret     func(string) error

	// MatchEmbedded reports whether identifier/secret match an allow-listed identity.
	MatchEmbedded func(identifier, secret string) (Profile, bool)

	Throttle Throttle

	ProviderSignIn func(ctx context.Context, identifier, secret string) (subjectID, accessToken string, err error)
	// IsRejection reports whether a provider error is a definite credential rejection.
	IsRejection       func(error) bool
	GetProfile        func(ctx context.Context, subjectID string) (Profile, error)
	IsProfileNotFound func(error) bool
	// RevokeRemote revokes a provider session in the background.
	RevokeRemote     func(accessToken, reason string)
	MapProviderError func(error) error

	Observers
	Metrics SignInMetrics
	Events  SignInEvents
	Errors  SignInErrors
}

// RunSignIn validates input, tries the embedded allow-list, then the throttled
// delegated path. The embedded path is never rate limited.
func RunSignIn(ctx context.Context, identifier, secret string, deps SignInDeps) (SignInResult, error) {
	deps.Observers.normalize()
	if deps.MapProviderError == nil {
		deps.MapProviderError = func(err error) error { return err }
	}

	if deps.ValidateIdentifier != nil {
		if err := deps.ValidateIdentifier(identifier); err != nil {
			return SignInResult{}, err
		}
	}
	if deps.ValidateSecret != nil {
		if err := deps.ValidateSecret(secret); err != nil {
			return SignInResult{}, err
		}
	}

	if deps.MatchEmbedded != nil {
		if profile, ok := deps.MatchEmbedded(identifier, secret); ok {
			deps.MetricInc(deps.Metrics.SignInSuccess)
			deps.MetricInc(deps.Metrics.EmbeddedSignIn)
			deps.EmitAudit(ctx, deps.Events.SignInSuccess, true, profile.SubjectID, nil, func() map[string]string {
				return map[string]string{"mode": "embedded"}
			})
			return SignInResult{Mode: SignInEmbedded, Profile: profile}, nil
		}
	}

	if !deps.DelegatedEnabled || deps.ProviderSignIn == nil {
		deps.MetricInc(deps.Metrics.SignInFailure)
		deps.EmitAudit(ctx, deps.Events.SignInFailure, false, "", deps.Errors.InvalidCredentials, func() map[string]string {
			return map[string]string{"identifier": NormalizeIdentifier(identifier), "reason": "no_match"}
		})
		return SignInResult{}, deps.Errors.InvalidCredentials
	}

	key := RateKey(KeyLogin, identifier)
	if err := deps.Throttle.check(ctx, key); err != nil {
		deps.MetricInc(deps.Metrics.SignInRateLimited)
		deps.EmitAudit(ctx, deps.Events.SignInRateLimited, false, "", err, func() map[string]string {
			return map[string]string{"identifier": NormalizeIdentifier(identifier)}
		})
		return SignInResult{}, err
	}

	subjectID, token, err := deps.ProviderSignIn(ctx, identifier, secret)
	if err != nil {
		if deps.IsRejection != nil && deps.IsRejection(err) {
			deps.Throttle.record(ctx, key, deps.Warn)
			deps.MetricInc(deps.Metrics.SignInFailure)
			deps.EmitAudit(ctx, deps.Events.SignInFailure, false, "", deps.Errors.InvalidCredentials, func() map[string]string {
				return map[string]string{"identifier": NormalizeIdentifier(identifier), "reason": "rejected"}
			})
			return SignInResult{}, deps.Errors.InvalidCredentials
		}
		mapped := deps.MapProviderError(err)
		deps.EmitAudit(ctx, deps.Events.SignInFailure, false, "", mapped, func() map[string]string {
			return map[string]string{"identifier": NormalizeIdentifier(identifier), "reason": "provider_error"}
		})
		return SignInResult{}, mapped
	}
	deps.Throttle.clear(ctx, key, deps.Warn)

	profile, err := RunResolveProfile(ctx, subjectID, token, deps)
	if err != nil {
		return SignInResult{}, err
	}

	deps.MetricInc(deps.Metrics.SignInSuccess)
	deps.EmitAudit(ctx, deps.Events.SignInSuccess, true, subjectID, nil, func() map[string]string {
		return map[string]string{"mode": "delegated"}
	})
	return SignInResult{Mode: SignInDelegated, AccessToken: token, Profile: profile}, nil
}

// RunResolveProfile resolves the profile for an authenticated remote session.
// Any failure revokes the remote session so no half-established state remains;
// a missing profile is reported as Errors.ProfileMissing.
func RunResolveProfile(ctx context.Context, subjectID, token string, deps SignInDeps) (Profile, error) {
	deps.Observers.normalize()
	if deps.MapProviderError == nil {
		deps.MapProviderError = func(err error) error { return err }
	}
	if deps.GetProfile == nil {
		return Profile{SubjectID: subjectID}, nil
	}

	profile, err := deps.GetProfile(ctx, subjectID)
	if err == nil {
		if profile.SubjectID == "" {
			profile.SubjectID = subjectID
		}
		return profile, nil
	}

	if deps.IsProfileNotFound != nil && deps.IsProfileNotFound(err) {
		if deps.RevokeRemote != nil {
			deps.RevokeRemote(token, "profile_missing")
		}
		deps.MetricInc(deps.Metrics.ProfileMissing)
		deps.EmitAudit(ctx, deps.Events.ProfileMissing, false, subjectID, deps.Errors.ProfileMissing, nil)
		deps.Warn("sessionkit: authenticated subject has no profile, forcing sign-out", "subject_id", subjectID)
		return Profile{}, deps.Errors.ProfileMissing
	}

	if deps.RevokeRemote != nil {
		deps.RevokeRemote(token, "profile_unavailable")
	}
	mapped := deps.MapProviderError(err)
	deps.EmitAudit(ctx, deps.Events.SignInFailure, false, subjectID, mapped, func() map[string]string {
		return map[string]string{"reason": "profile_unavailable"}
	})
	return Profile{}, mapped
}
