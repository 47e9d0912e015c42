package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var hsKey = []byte("0123456789abcdef0123456789abcdef")

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sampleClaims(iat time.Time) SessionClaims {
	return SessionClaims{
		SessionID: "s1",
		Name:      "Admin",
		Email:     "admin@admin.com",
		Role:      "admin",
		Mode:      "embedded",
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:  "sub-admin",
			IssuedAt: gjwt.NewNumericDate(iat),
		},
	}
}

func TestSignAndParseHS256(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := NewSigner(Config{SigningMethod: MethodHS256, PrivateKey: hsKey, Issuer: "sessionkit", Now: fixedNow(now)})
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	env, err := s.Sign(sampleClaims(now), 24*time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := s.Parse(env)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "sub-admin" || claims.Email != "admin@admin.com" || claims.SessionID != "s1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.IssuedAt.Time.Equal(now) {
		t.Fatalf("iat = %v, want %v", claims.IssuedAt.Time, now)
	}
}

func TestParseExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	s, _ := NewSigner(Config{SigningMethod: MethodHS256, PrivateKey: hsKey, Now: func() time.Time { return clock }})

	env, _ := s.Sign(sampleClaims(now), time.Hour)
	clock = now.Add(time.Hour + time.Second)
	if _, err := s.Parse(env); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestParseRejectsTampering(t *testing.T) {
	now := time.Now()
	s, _ := NewSigner(Config{SigningMethod: MethodHS256, PrivateKey: hsKey})
	other, _ := NewSigner(Config{SigningMethod: MethodHS256, PrivateKey: []byte(strings.Repeat("x", 32))})

	env, _ := other.Sign(sampleClaims(now), time.Hour)
	if _, err := s.Parse(env); !errors.Is(err, ErrInvalid) {
		t.Fatalf("foreign key: expected ErrInvalid, got %v", err)
	}

	for _, in := range []string{"", "not.a.jwt", "eyJhbGciOiJub25lIn0.eyJzdWIiOiJ4In0."} {
		if _, err := s.Parse(in); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Parse(%q): expected ErrInvalid, got %v", in, err)
		}
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	ed, err := NewSigner(Config{SigningMethod: MethodEd25519, PrivateKey: priv})
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	hs, _ := NewSigner(Config{SigningMethod: MethodHS256, PrivateKey: hsKey})

	env, _ := hs.Sign(sampleClaims(time.Now()), time.Hour)
	if _, err := ed.Parse(env); err == nil {
		t.Fatal("expected hs256 envelope to be rejected by ed25519 signer")
	}
}

func TestEd25519KeyRotation(t *testing.T) {
	pub1, priv1, _ := ed25519.GenerateKey(rand.Reader)
	pub2, priv2, _ := ed25519.GenerateKey(rand.Reader)
	keys := map[string][]byte{"k1": pub1, "k2": pub2}

	old, err := NewSigner(Config{SigningMethod: MethodEd25519, PrivateKey: priv1, KeyID: "k1", VerifyKeys: keys})
	if err != nil {
		t.Fatalf("NewSigner k1: %v", err)
	}
	cur, err := NewSigner(Config{SigningMethod: MethodEd25519, PrivateKey: priv2, KeyID: "k2", VerifyKeys: keys})
	if err != nil {
		t.Fatalf("NewSigner k2: %v", err)
	}

	env, _ := old.Sign(sampleClaims(time.Now()), time.Hour)
	if _, err := cur.Parse(env); err != nil {
		t.Fatalf("envelope signed with rotated-out key should still verify: %v", err)
	}
}

func TestNewSignerRejectsBadConfig(t *testing.T) {
	tests := []Config{
		{SigningMethod: MethodHS256, PrivateKey: []byte("short")},
		{SigningMethod: MethodEd25519, PrivateKey: []byte("junk")},
		{SigningMethod: "rs256", PrivateKey: hsKey},
		{SigningMethod: MethodHS256, PrivateKey: hsKey, KeyID: "k9", VerifyKeys: map[string][]byte{"k1": hsKey}},
	}
	for i, cfg := range tests {
		if _, err := NewSigner(cfg); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func FuzzParse(f *testing.F) {
	s, err := NewSigner(Config{SigningMethod: MethodHS256, PrivateKey: hsKey})
	if err != nil {
		f.Fatal(err)
	}
	valid, err := s.Sign(sampleClaims(time.Now()), time.Hour)
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJub25lIn0.eyJzdWIiOiJ4In0.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := s.Parse(input)
		if err == nil && claims == nil {
			t.Fatal("Parse returned nil claims without error")
		}
	})
}
