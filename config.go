package sessionkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/sessionkit/jwt"
	"github.com/MrEthical07/sessionkit/password"
	"github.com/MrEthical07/sessionkit/ratelimit"
)

// Config is the complete Manager configuration. Obtain one with DefaultConfig
// or LoadConfigYAML, adjust it, and hand it to Builder.WithConfig. The Builder
// clones it, so later mutations have no effect on a built Manager.
type Config struct {
	Session    SessionConfig    `yaml:"session"`
	Embedded   EmbeddedConfig   `yaml:"embedded"`
	RateLimits RateLimitConfig  `yaml:"rate_limits"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Pending    PendingConfig    `yaml:"pending"`
	Validation ValidationConfig `yaml:"validation"`
	Password   password.Config  `yaml:"password"`
	Audit      AuditConfig      `yaml:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the cached session and initialization.
type SessionConfig struct {
	// KeyPrefix namespaces every key the Manager writes to the store. Sign-out
	// removes only keys under this prefix.
	KeyPrefix string `yaml:"key_prefix"`
	// MaxAge bounds how old a cached session may be and still be adopted.
	MaxAge time.Duration `yaml:"max_age"`
	// InitTimeout is the Initialize watchdog.
	InitTimeout time.Duration `yaml:"init_timeout"`
	// RevokeTimeout bounds each background remote revocation.
	RevokeTimeout time.Duration `yaml:"revoke_timeout"`

	SigningMethod string `yaml:"signing_method"` // "hs256" (default) or "ed25519"
	// SigningKey is the HS256 secret or Ed25519 private key. When empty a random
	// HS256 key is generated at Build and cached sessions do not survive a restart.
	SigningKey []byte `yaml:"-"`
	PublicKey  []byte `yaml:"-"`
	Issuer     string `yaml:"issuer"`
}

// EmbeddedConfig holds the fixed-credential allow-list. It is usable in every
// mode and is never rate limited.
type EmbeddedConfig struct {
	Identities []EmbeddedIdentity `yaml:"identities"`
}

// RateLimitConfig holds one independent policy per throttled operation.
type RateLimitConfig struct {
	Login              ratelimit.Policy `yaml:"login"`
	Register           ratelimit.Policy `yaml:"register"`
	Recovery           ratelimit.Policy `yaml:"recovery"`
	RecoveryVerify     ratelimit.Policy `yaml:"recovery_verify"`
	ResendConfirmation ratelimit.Policy `yaml:"resend_confirmation"`
}

func (c RateLimitConfig) policies() map[string]ratelimit.Policy {
	return map[string]ratelimit.Policy{
		"login":               c.Login,
		"register":            c.Register,
		"recovery":            c.Recovery,
		"recovery_verify":     c.RecoveryVerify,
		"resend_confirmation": c.ResendConfirmation,
	}
}

// longestWindow is used as the retention of limiter backends.
func (c RateLimitConfig) longestWindow() time.Duration {
	var longest time.Duration
	for _, p := range c.policies() {
		if p.Window > longest {
			longest = p.Window
		}
	}
	return longest
}

// RecoveryConfig controls the password-recovery state machine.
type RecoveryConfig struct {
	CodeTTL         time.Duration `yaml:"code_ttl"`
	ResendCooldown  time.Duration `yaml:"resend_cooldown"`
	CodeLength      int           `yaml:"code_length"`
	SecretMinLength int           `yaml:"secret_min_length"`
	SecretMaxLength int           `yaml:"secret_max_length"`
}

// PendingConfig controls pending-confirmation retention.
type PendingConfig struct {
	// Retention is how long a dismissed record is kept before being purged.
	Retention time.Duration `yaml:"retention"`
}

// ValidationConfig controls field validation helpers.
type ValidationConfig struct {
	DebounceQuietPeriod  time.Duration `yaml:"debounce_quiet_period"`
	DefaultCountryPrefix string        `yaml:"default_country_prefix"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			KeyPrefix:     "sessionkit:",
			MaxAge:        24 * time.Hour,
			InitTimeout:   10 * time.Second,
			RevokeTimeout: 5 * time.Second,
			SigningMethod: string(jwt.MethodHS256),
			Issuer:        "sessionkit",
		},
		RateLimits: RateLimitConfig{
			Login:              ratelimit.Policy{MaxAttempts: 5, Window: 60 * time.Second},
			Register:           ratelimit.Policy{MaxAttempts: 5, Window: 10 * time.Minute},
			Recovery:           ratelimit.Policy{MaxAttempts: 5, Window: 15 * time.Minute},
			RecoveryVerify:     ratelimit.Policy{MaxAttempts: 5, Window: 10 * time.Minute},
			ResendConfirmation: ratelimit.Policy{MaxAttempts: 3, Window: 10 * time.Minute},
		},
		Recovery: RecoveryConfig{
			CodeTTL:         10 * time.Minute,
			ResendCooldown:  60 * time.Second,
			CodeLength:      6,
			SecretMinLength: 8,
			SecretMaxLength: 16,
		},
		Pending: PendingConfig{
			Retention: 7 * 24 * time.Hour,
		},
		Validation: ValidationConfig{
			DebounceQuietPeriod:  300 * time.Millisecond,
			DefaultCountryPrefix: "+1",
		},
		Password: password.DefaultConfig(),
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.SigningKey = cloneBytes(cfg.Session.SigningKey)
	out.Session.PublicKey = cloneBytes(cfg.Session.PublicKey)
	if cfg.Embedded.Identities != nil {
		out.Embedded.Identities = append([]EmbeddedIdentity(nil), cfg.Embedded.Identities...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// Session
	if strings.TrimSpace(c.Session.KeyPrefix) == "" {
		return errors.New("Session KeyPrefix must not be empty")
	}
	if c.Session.MaxAge <= 0 {
		return errors.New("Session MaxAge must be > 0")
	}
	if c.Session.InitTimeout <= 0 {
		return errors.New("Session InitTimeout must be > 0")
	}
	if c.Session.RevokeTimeout <= 0 {
		return errors.New("Session RevokeTimeout must be > 0")
	}
	switch jwt.SigningMethod(strings.ToLower(c.Session.SigningMethod)) {
	case jwt.MethodHS256:
		if n := len(c.Session.SigningKey); n > 0 && n < 32 {
			return errors.New("Session SigningKey must be >= 32 bytes for hs256")
		}
	case jwt.MethodEd25519:
		if len(c.Session.SigningKey) == 0 {
			return errors.New("ed25519 requires Session SigningKey")
		}
	default:
		return errors.New("unsupported Session SigningMethod")
	}

	// Embedded
	seen := make(map[string]struct{}, len(c.Embedded.Identities))
	for i, id := range c.Embedded.Identities {
		key := strings.ToLower(strings.TrimSpace(id.Identifier))
		if key == "" {
			return fmt.Errorf("Embedded identity %d has no identifier", i)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("Embedded identity %q is listed twice", key)
		}
		seen[key] = struct{}{}
		if (id.Secret == "") == (id.SecretHash == "") {
			return fmt.Errorf("Embedded identity %q needs exactly one of secret or secret_hash", key)
		}
		if id.SecretHash != "" && !password.IsHash(id.SecretHash) {
			return fmt.Errorf("Embedded identity %q has a malformed secret_hash", key)
		}
		if strings.TrimSpace(id.Profile.SubjectID) == "" {
			return fmt.Errorf("Embedded identity %q needs profile.subject_id", key)
		}
		if id.Profile.Role != "" && !id.Profile.Role.Valid() {
			return fmt.Errorf("Embedded identity %q has unknown role %q", key, id.Profile.Role)
		}
	}

	// Rate limits
	for name, p := range c.RateLimits.policies() {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("RateLimits %s: %w", name, err)
		}
	}

	// Recovery
	if c.Recovery.CodeTTL <= 0 {
		return errors.New("Recovery CodeTTL must be > 0")
	}
	if c.Recovery.ResendCooldown < 0 || c.Recovery.ResendCooldown >= c.Recovery.CodeTTL {
		return errors.New("Recovery ResendCooldown must be >= 0 and < CodeTTL")
	}
	if c.Recovery.CodeLength < 4 || c.Recovery.CodeLength > 10 {
		return errors.New("Recovery CodeLength must be between 4 and 10")
	}
	if c.Recovery.SecretMinLength < 1 || c.Recovery.SecretMaxLength < c.Recovery.SecretMinLength {
		return errors.New("Recovery secret length bounds are invalid")
	}

	// Pending
	if c.Pending.Retention <= 0 {
		return errors.New("Pending Retention must be > 0")
	}

	// Validation
	if c.Validation.DebounceQuietPeriod <= 0 {
		return errors.New("Validation DebounceQuietPeriod must be > 0")
	}

	// Password
	if err := c.Password.Validate(); err != nil {
		return err
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}
