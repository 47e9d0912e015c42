package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod names a supported algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 private key (raw or PEM).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

var (
	// ErrExpired is returned by Parse for envelopes past their expiry.
	ErrExpired = errors.New("jwt: session envelope expired")
	// ErrInvalid is returned by Parse for every other verification failure.
	ErrInvalid = errors.New("jwt: invalid session envelope")
)

// Config configures a Signer.
type Config struct {
	SigningMethod SigningMethod
	// PrivateKey is the HS256 secret or the Ed25519 private key.
	PrivateKey []byte
	// PublicKey verifies Ed25519 envelopes; derived from PrivateKey when empty.
	PublicKey  []byte
	Issuer     string
	KeyID      string
	VerifyKeys map[string][]byte
	// Now overrides the clock used for expiry checks.
	Now func() time.Time
}

// SessionClaims is the payload of a cached session envelope.
type SessionClaims struct {
	SessionID string `json:"sid"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	Plan      string `json:"plan,omitempty"`
	Mode      string `json:"mode"`
	jwt.RegisteredClaims
}

// Signer issues and verifies session envelopes. Safe for concurrent use.
type Signer struct {
	config    Config
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// NewSigner validates cfg and prepares the keys.
func NewSigner(cfg Config) (*Signer, error) {
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Signer{config: cfg}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("jwt: hs256 requires a secret of at least 32 bytes")
		}
		s.method = jwt.SigningMethodHS256
		s.signKey = cfg.PrivateKey
		s.verifyKey = cfg.PrivateKey
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		s.method = jwt.SigningMethodEdDSA
		s.signKey = priv
		s.verifyKey = priv.Public()
		if len(cfg.PublicKey) > 0 {
			if s.verifyKey, err = parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("jwt: verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("jwt: verify key %q: %w", kid, err)
			}
		}
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}

	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("jwt: KeyID is not present in VerifyKeys")
		}
	}
	return s, nil
}

// Sign encodes claims. Issuer is filled from the config; ExpiresAt is set to
// IssuedAt+ttl when ttl is positive.
func (s *Signer) Sign(claims SessionClaims, ttl time.Duration) (string, error) {
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(s.config.Now())
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(claims.IssuedAt.Add(ttl))
	}
	claims.Issuer = s.config.Issuer

	token := jwt.NewWithClaims(s.method, claims)
	if s.config.KeyID != "" {
		token.Header["kid"] = s.config.KeyID
	}
	return token.SignedString(s.signKey)
}

// Parse verifies an envelope and returns its claims.
func (s *Signer) Parse(envelope string) (*SessionClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.config.Now),
	}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}

	claims := &SessionClaims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(envelope, claims, s.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !token.Valid || claims.Subject == "" || claims.IssuedAt == nil {
		return nil, ErrInvalid
	}
	return claims, nil
}

func (s *Signer) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)

	if len(s.config.VerifyKeys) > 0 {
		key, ok := s.config.VerifyKeys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		if s.config.SigningMethod == MethodHS256 {
			return key, nil
		}
		return parseEdPublicKey(key)
	}
	if s.config.KeyID != "" && kid != s.config.KeyID {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return s.verifyKey, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 public key type")
	}
	return edKey, nil
}
