package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/sessionkit/jwt"
	"github.com/MrEthical07/sessionkit/kvstore"
)

const sessionRecordVersionV1 = "v1."

var (
	ErrSessionMissing     = errors.New("cached session missing")
	ErrSessionStale       = errors.New("cached session stale")
	ErrSessionCorrupt     = errors.New("cached session corrupt")
	ErrSessionUnavailable = errors.New("session store unavailable")
)

// SessionCache persists one signed session envelope.
type SessionCache struct {
	kv     kvstore.Store
	signer *jwt.Signer
	key    string

	mu sync.Mutex
}

func NewSessionCache(kv kvstore.Store, signer *jwt.Signer, prefix string) *SessionCache {
	return &SessionCache{
		kv:     kv,
		signer: signer,
		key:    prefix + "session",
	}
}

// Key returns the store key the envelope lives under.
func (c *SessionCache) Key() string {
	return c.key
}

// SaveIf writes claims while current reports true. current is evaluated under
// the same lock Remove takes. It returns false when current rejected the write.
func (c *SessionCache) SaveIf(ctx context.Context, claims jwt.SessionClaims, ttl time.Duration, current func() bool) (bool, error) {
	envelope, err := c.signer.Sign(claims, ttl)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if current != nil && !current() {
		return false, nil
	}
	if err := c.kv.Set(ctx, c.key, sessionRecordVersionV1+envelope); err != nil {
		return false, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return true, nil
}

// Load returns the verified claims. Missing, stale and corrupt entries are
// reported with the matching sentinel; the caller decides whether to remove.
func (c *SessionCache) Load(ctx context.Context) (*jwt.SessionClaims, error) {
	raw, err := c.kv.Get(ctx, c.key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, ErrSessionMissing
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	envelope, ok := strings.CutPrefix(raw, sessionRecordVersionV1)
	if !ok {
		return nil, fmt.Errorf("%w: unknown record version", ErrSessionCorrupt)
	}
	claims, err := c.signer.Parse(envelope)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, fmt.Errorf("%w: %v", ErrSessionStale, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	return claims, nil
}

// Remove deletes the envelope. Removing a missing entry is not an error.
func (c *SessionCache) Remove(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.kv.Remove(ctx, c.key); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return nil
}
