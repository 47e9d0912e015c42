package sessionkit

import (
	"fmt"
	"time"
)

// LintSeverity ranks a LintWarning.
type LintSeverity uint8

const (
	LintInfo LintSeverity = iota
	LintWarn
)

func (s LintSeverity) String() string {
	if s == LintWarn {
		return "warn"
	}
	return "info"
}

// LintWarning is a configuration that validates but is probably not what a
// deployment wants.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered output of Config.Lint.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, len(r))
	for i, w := range r {
		out[i] = w.Code
	}
	return out
}

// AtLeast returns the warnings at or above min.
func (r LintResult) AtLeast(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

const (
	lintMaxAgeLong    = 7 * 24 * time.Hour
	lintCodeTTLLong   = 30 * time.Minute
	lintLoginLoose    = 20
	lintRecoveryLoose = 10
)

// Lint reports settings that pass Validate but weaken a deployment. It never
// fails; call Validate first.
func (c Config) Lint() LintResult {
	var r LintResult
	add := func(code string, sev LintSeverity, format string, args ...any) {
		r = append(r, LintWarning{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	if len(c.Session.SigningKey) == 0 {
		add("signing_key_ephemeral", LintWarn, "no signing key: cached sessions are lost on restart")
	}
	if c.Session.MaxAge > lintMaxAgeLong {
		add("session_max_age_long", LintInfo, "cached sessions are adopted for up to %s", c.Session.MaxAge)
	}

	for _, id := range c.Embedded.Identities {
		if id.Secret != "" {
			add("embedded_plaintext_secret", LintWarn, "embedded identity %q uses a plaintext secret; use secret_hash", id.Identifier)
		}
	}

	if c.RateLimits.Login.MaxAttempts > lintLoginLoose {
		add("login_limit_loose", LintWarn, "login allows %d attempts per %s", c.RateLimits.Login.MaxAttempts, c.RateLimits.Login.Window)
	}
	if c.RateLimits.RecoveryVerify.MaxAttempts > lintRecoveryLoose {
		add("recovery_verify_limit_loose", LintWarn, "recovery codes allow %d guesses per %s", c.RateLimits.RecoveryVerify.MaxAttempts, c.RateLimits.RecoveryVerify.Window)
	}

	if c.Recovery.ResendCooldown == 0 {
		add("recovery_cooldown_zero", LintWarn, "recovery codes can be resent without delay")
	}
	if c.Recovery.CodeTTL > lintCodeTTLLong {
		add("recovery_code_ttl_long", LintWarn, "recovery codes stay valid for %s", c.Recovery.CodeTTL)
	}

	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "audit events are not recorded")
	} else if c.Audit.DropIfFull {
		add("audit_drop_if_full", LintInfo, "audit events are dropped when the buffer of %d is full", c.Audit.BufferSize)
	}
	return r
}
