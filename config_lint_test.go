package sessionkit

import (
	"strings"
	"testing"
	"time"
)

func TestLint_DefaultConfig(t *testing.T) {
	codes := DefaultConfig().Lint().Codes()

	// Defaults run without a signing key or audit sink; nothing else should fire.
	want := []string{"signing_key_ephemeral", "audit_disabled"}
	if strings.Join(codes, ",") != strings.Join(want, ",") {
		t.Fatalf("default lint codes = %v, want %v", codes, want)
	}
}

func TestLint_HardenedConfigIsQuiet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.SigningKey = []byte(strings.Repeat("k", 32))
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false

	if ws := cfg.Lint(); len(ws) != 0 {
		t.Fatalf("expected no warnings, got %v", ws.Codes())
	}
}

func TestLint_Warnings(t *testing.T) {
	tests := []struct {
		code   string
		sev    LintSeverity
		mutate func(*Config)
	}{
		{"session_max_age_long", LintInfo, func(c *Config) { c.Session.MaxAge = 30 * 24 * time.Hour }},
		{"embedded_plaintext_secret", LintWarn, func(c *Config) {
			c.Embedded.Identities = []EmbeddedIdentity{{Identifier: "admin@admin.com", Secret: "admin123"}}
		}},
		{"login_limit_loose", LintWarn, func(c *Config) { c.RateLimits.Login.MaxAttempts = 100 }},
		{"recovery_verify_limit_loose", LintWarn, func(c *Config) { c.RateLimits.RecoveryVerify.MaxAttempts = 50 }},
		{"recovery_cooldown_zero", LintWarn, func(c *Config) { c.Recovery.ResendCooldown = 0 }},
		{"recovery_code_ttl_long", LintWarn, func(c *Config) { c.Recovery.CodeTTL = time.Hour }},
		{"audit_drop_if_full", LintInfo, func(c *Config) { c.Audit.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			ws := cfg.Lint()
			for _, w := range ws {
				if w.Code != tt.code {
					continue
				}
				if w.Severity != tt.sev {
					t.Fatalf("%s severity = %s, want %s", tt.code, w.Severity, tt.sev)
				}
				if w.Message == "" {
					t.Fatalf("%s has no message", tt.code)
				}
				return
			}
			t.Fatalf("expected %s, got %v", tt.code, ws.Codes())
		})
	}
}

func TestLint_HashedSecretIsQuiet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedded.Identities = []EmbeddedIdentity{{Identifier: "admin@admin.com", SecretHash: "$argon2id$..."}}
	if containsCode(cfg.Lint().Codes(), "embedded_plaintext_secret") {
		t.Fatal("hashed secrets must not warn")
	}
}

func TestLint_AtLeast(t *testing.T) {
	ws := DefaultConfig().Lint().AtLeast(LintWarn)
	if len(ws) != 1 || ws[0].Code != "signing_key_ephemeral" {
		t.Fatalf("AtLeast(warn) = %v", ws.Codes())
	}
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
