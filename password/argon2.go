package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

var (
	// ErrMalformedHash is returned for strings that are not argon2id PHC hashes.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrEmptySecret is returned by Hash for an empty secret.
	ErrEmptySecret = errors.New("password: empty secret")
)

// Config holds the Argon2id cost parameters.
type Config struct {
	Memory      uint32 `yaml:"memory"`
	Time        uint32 `yaml:"time"`
	Parallelism uint8  `yaml:"parallelism"`
	SaltLength  uint32 `yaml:"salt_length"`
	KeyLength   uint32 `yaml:"key_length"`
}

// DefaultConfig returns the parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate enforces the minimum cost parameters.
func (c Config) Validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("password: memory must be >= %d KB", minMemoryKB)
	case c.Time < minTimeCost:
		return errors.New("password: time must be >= 1")
	case c.Parallelism < minParallelism:
		return errors.New("password: parallelism must be >= 1")
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("password: salt length must be >= %d", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("password: key length must be >= %d", minKeyLength)
	}
	return nil
}

// Hasher produces and checks PHC-encoded Argon2id hashes. Safe for concurrent use.
type Hasher struct {
	config Config
}

// NewHasher validates cfg and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives a fresh salted hash of secret. Secrets are hashed byte-for-byte
// without Unicode normalization.
func (h *Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(secret), salt, h.config.Time, h.config.Memory, h.config.Parallelism, h.config.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches encoded. The parameters embedded in
// encoded are used, not the Hasher's.
func (h *Hasher) Verify(secret, encoded string) (bool, error) {
	p, err := parse(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(secret), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(key, p.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker parameters than
// the Hasher's.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	p, err := parse(encoded)
	if err != nil {
		return false, err
	}
	return h.config.Memory > p.memory ||
		h.config.Time > p.time ||
		h.config.Parallelism > p.parallelism ||
		h.config.KeyLength != uint32(len(p.key)), nil
}

// IsHash reports whether s looks like a hash this package can verify.
func IsHash(s string) bool {
	_, err := parse(s)
	return err == nil
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parse(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, fmt.Errorf("%w: expected $argon2id$ prefix", ErrMalformedHash)
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") || version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, parts[2])
	}

	var p phc
	if err := p.parseParams(parts[3]); err != nil {
		return nil, err
	}

	if p.salt, err = decode(parts[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	if p.key, err = decode(parts[5]); err != nil || len(p.key) == 0 {
		return nil, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	return &p, nil
}

func (p *phc) parseParams(field string) error {
	seen := 0
	for _, pair := range strings.Split(field, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: bad parameter %q", ErrMalformedHash, pair)
		}
		switch name {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || uint32(v) < minMemoryKB {
				return fmt.Errorf("%w: bad memory", ErrMalformedHash)
			}
			p.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || uint32(v) < minTimeCost {
				return fmt.Errorf("%w: bad time", ErrMalformedHash)
			}
			p.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || uint8(v) < minParallelism {
				return fmt.Errorf("%w: bad parallelism", ErrMalformedHash)
			}
			p.parallelism = uint8(v)
		default:
			return fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, name)
		}
		seen++
	}
	if seen != 3 {
		return fmt.Errorf("%w: want m, t and p", ErrMalformedHash)
	}
	return nil
}

// decode accepts both padded and unpadded base64.
func decode(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
