package stores

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/sessionkit/jwt"
	"github.com/MrEthical07/sessionkit/kvstore"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Step(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func newCache(t *testing.T, kv kvstore.Store, clk *testClock) *SessionCache {
	t.Helper()
	signer, err := jwt.NewSigner(jwt.Config{
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Now:           clk.Now,
	})
	require.NoError(t, err)
	return NewSessionCache(kv, signer, "auth:")
}

func claimsAt(t time.Time) jwt.SessionClaims {
	return jwt.SessionClaims{
		SessionID: "s1",
		Mode:      "embedded",
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:  "sub-1",
			IssuedAt: gjwt.NewNumericDate(t),
		},
	}
}

func TestSessionCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	kv := kvstore.NewMemory()
	cache := newCache(t, kv, clk)

	_, err := cache.Load(ctx)
	require.ErrorIs(t, err, ErrSessionMissing)

	ok, err := cache.SaveIf(ctx, claimsAt(clk.Now()), 24*time.Hour, nil)
	require.NoError(t, err)
	require.True(t, ok)

	raw, err := kv.Get(ctx, "auth:session")
	require.NoError(t, err)
	assert.Contains(t, raw, "v1.")

	claims, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", claims.Subject)

	require.NoError(t, cache.Remove(ctx))
	require.NoError(t, cache.Remove(ctx))
	_, err = cache.Load(ctx)
	assert.ErrorIs(t, err, ErrSessionMissing)
}

func TestSessionCacheStaleAndCorrupt(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	kv := kvstore.NewMemory()
	cache := newCache(t, kv, clk)

	_, err := cache.SaveIf(ctx, claimsAt(clk.Now()), time.Hour, nil)
	require.NoError(t, err)
	clk.Step(time.Hour + time.Second)
	_, err = cache.Load(ctx)
	assert.ErrorIs(t, err, ErrSessionStale)

	require.NoError(t, kv.Set(ctx, "auth:session", "plain-json"))
	_, err = cache.Load(ctx)
	assert.ErrorIs(t, err, ErrSessionCorrupt)

	require.NoError(t, kv.Set(ctx, "auth:session", "v1.not.a.jwt"))
	_, err = cache.Load(ctx)
	assert.ErrorIs(t, err, ErrSessionCorrupt)
}

func TestSessionCacheSaveIfRejected(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	kv := kvstore.NewMemory()
	cache := newCache(t, kv, clk)

	ok, err := cache.SaveIf(ctx, claimsAt(clk.Now()), time.Hour, func() bool { return false })
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, kv.Len())
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, error) { return "", errors.New("boom") }
func (failingStore) Set(context.Context, string, string) error   { return errors.New("boom") }
func (failingStore) Remove(context.Context, string) error        { return errors.New("boom") }

func TestStoresWrapBackendFailures(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	cache := newCache(t, failingStore{}, clk)

	_, err := cache.Load(ctx)
	assert.ErrorIs(t, err, ErrSessionUnavailable)
	_, err = cache.SaveIf(ctx, claimsAt(clk.Now()), time.Hour, nil)
	assert.ErrorIs(t, err, ErrSessionUnavailable)

	pending := NewPendingStore(failingStore{}, "auth:", time.Hour, clk.Now)
	_, err = pending.Upsert(ctx, "a@b.com")
	assert.ErrorIs(t, err, ErrPendingUnavailable)
}

func TestPendingUpsertRefreshes(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s := NewPendingStore(kvstore.NewMemory(), "auth:", 7*24*time.Hour, clk.Now)

	first, err := s.Upsert(ctx, "New@User.com")
	require.NoError(t, err)
	clk.Step(time.Minute)
	second, err := s.Upsert(ctx, "new@user.com ")
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new@user.com", list[0].Email)
	assert.True(t, list[0].CreatedAt.Equal(second.CreatedAt))
	assert.True(t, second.CreatedAt.After(first.CreatedAt))
}

func TestPendingDismissAndPurge(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	kv := kvstore.NewMemory()
	s := NewPendingStore(kv, "auth:", 7*24*time.Hour, clk.Now)

	_, err := s.Upsert(ctx, "a@b.com")
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "c@d.com")
	require.NoError(t, err)

	found, err := s.Dismiss(ctx, "a@b.com")
	require.NoError(t, err)
	assert.True(t, found)
	found, err = s.Dismiss(ctx, "missing@b.com")
	require.NoError(t, err)
	assert.False(t, found)

	clk.Step(6 * 24 * time.Hour)
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	clk.Step(24*time.Hour + time.Second)
	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c@d.com", list[0].Email)

	require.NoError(t, s.Delete(ctx, "C@D.com"))
	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, kv.Len())
}

func TestPendingClearAndCorruptDocument(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	kv := kvstore.NewMemory()
	s := NewPendingStore(kv, "auth:", time.Hour, clk.Now)

	require.NoError(t, kv.Set(ctx, s.Key(), "{not json"))
	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.Upsert(ctx, "a@b.com")
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx))
	assert.Zero(t, kv.Len())
}
