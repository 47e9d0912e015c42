package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type backend struct {
	name    string
	limiter Limiter
	clock   *clocktesting.FakeClock
}

func backends(t *testing.T) []backend {
	t.Helper()

	memClock := clocktesting.NewFakeClock(epoch)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	redisClock := clocktesting.NewFakeClock(epoch)

	return []backend{
		{name: "memory", limiter: NewMemory(memClock, time.Hour), clock: memClock},
		{name: "redis", limiter: NewRedis(rdb, redisClock, "test", time.Hour), clock: redisClock},
	}
}

func TestAllowedIffCountBelowMax(t *testing.T) {
	policy := Policy{MaxAttempts: 5, Window: time.Minute}

	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			for n := 0; n <= 8; n++ {
				key := fmt.Sprintf("login:user%d@example.com", n)
				for i := 0; i < n; i++ {
					require.NoError(t, b.limiter.RecordAttempt(ctx, key))
				}
				d, err := b.limiter.IsAllowed(ctx, key, policy)
				require.NoError(t, err)
				assert.Equal(t, n < policy.MaxAttempts, d.Allowed, "n=%d", n)
				if d.Allowed {
					assert.Equal(t, policy.MaxAttempts-n, d.Remaining)
					assert.Empty(t, d.Message)
				} else {
					assert.Positive(t, d.RetryAfter)
					assert.Contains(t, d.Message, "Try again in")
				}
			}
		})
	}
}

func TestWindowSlides(t *testing.T) {
	policy := Policy{MaxAttempts: 3, Window: time.Minute}

	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			key := "login:slide@example.com"

			require.NoError(t, b.limiter.RecordAttempt(ctx, key))
			b.clock.Step(20 * time.Second)
			require.NoError(t, b.limiter.RecordAttempt(ctx, key))
			b.clock.Step(20 * time.Second)
			require.NoError(t, b.limiter.RecordAttempt(ctx, key))

			d, err := b.limiter.IsAllowed(ctx, key, policy)
			require.NoError(t, err)
			require.False(t, d.Allowed)
			assert.Equal(t, 20*time.Second, d.RetryAfter)
			assert.Equal(t, "Too many attempts. Try again in 20 seconds.", d.Message)

			b.clock.Step(19 * time.Second)
			d, err = b.limiter.IsAllowed(ctx, key, policy)
			require.NoError(t, err)
			assert.False(t, d.Allowed)

			// The first attempt is now exactly one window old.
			b.clock.Step(time.Second)
			d, err = b.limiter.IsAllowed(ctx, key, policy)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 1, d.Remaining)
		})
	}
}

func TestClearResetsKey(t *testing.T) {
	policy := Policy{MaxAttempts: 2, Window: time.Minute}

	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 2; i++ {
				require.NoError(t, b.limiter.RecordAttempt(ctx, "k"))
				require.NoError(t, b.limiter.RecordAttempt(ctx, "other"))
			}

			require.NoError(t, b.limiter.Clear(ctx, "k"))

			d, err := b.limiter.IsAllowed(ctx, "k", policy)
			require.NoError(t, err)
			assert.True(t, d.Allowed)

			d, err = b.limiter.IsAllowed(ctx, "other", policy)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
		})
	}
}

func TestConcurrentRecordsAreNotLost(t *testing.T) {
	const workers = 50

	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, b.limiter.RecordAttempt(ctx, "hot"))
				}()
			}
			wg.Wait()

			d, err := b.limiter.IsAllowed(ctx, "hot", Policy{MaxAttempts: workers + 1, Window: time.Minute})
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 1, d.Remaining)

			d, err = b.limiter.IsAllowed(ctx, "hot", Policy{MaxAttempts: workers, Window: time.Minute})
			require.NoError(t, err)
			assert.False(t, d.Allowed)
		})
	}
}

func TestInvalidPolicy(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			_, err := b.limiter.IsAllowed(context.Background(), "k", Policy{MaxAttempts: 0, Window: time.Minute})
			assert.ErrorIs(t, err, ErrInvalidPolicy)
			_, err = b.limiter.IsAllowed(context.Background(), "k", Policy{MaxAttempts: 1})
			assert.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestRetryMessage(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 300 * time.Millisecond, want: "Too many attempts. Try again in 1 second."},
		{in: time.Second, want: "Too many attempts. Try again in 1 second."},
		{in: 1500 * time.Millisecond, want: "Too many attempts. Try again in 2 seconds."},
		{in: time.Minute, want: "Too many attempts. Try again in 60 seconds."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RetryMessage(tt.in), tt.in.String())
	}
}

func TestMemorySweep(t *testing.T) {
	clk := clocktesting.NewFakeClock(epoch)
	m := NewMemory(clk, 10*time.Minute)
	ctx := context.Background()

	require.NoError(t, m.RecordAttempt(ctx, "old"))
	clk.Step(6 * time.Minute)
	require.NoError(t, m.RecordAttempt(ctx, "new"))
	clk.Step(5 * time.Minute)

	assert.Equal(t, 1, m.Sweep())

	// A swept key starts fresh; the live one keeps its history.
	d, err := m.IsAllowed(ctx, "old", Policy{MaxAttempts: 1, Window: time.Hour})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = m.IsAllowed(ctx, "new", Policy{MaxAttempts: 1, Window: time.Hour})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestRedisHashesKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	r := NewRedis(rdb, clocktesting.NewFakeClock(epoch), "rl", time.Minute)
	require.NoError(t, r.RecordAttempt(context.Background(), "login:alice@example.com"))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.NotContains(t, keys[0], "alice")
	assert.Equal(t, "rl:", keys[0][:3])
	assert.Equal(t, time.Minute, mr.TTL(keys[0]))
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	r := NewRedis(rdb, nil, "", 0)
	_, err := r.IsAllowed(context.Background(), "k", Policy{MaxAttempts: 1, Window: time.Second})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, r.RecordAttempt(context.Background(), "k"), ErrUnavailable)
	assert.ErrorIs(t, r.Clear(context.Background(), "k"), ErrUnavailable)
}

func (m *Memory) keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

func TestMemoryChecksHoldNoState(t *testing.T) {
	clk := clocktesting.NewFakeClock(epoch)
	m := NewMemory(clk, 10*time.Minute)
	ctx := context.Background()
	policy := Policy{MaxAttempts: 3, Window: time.Minute}

	for i := 0; i < 10000; i++ {
		d, err := m.IsAllowed(ctx, fmt.Sprintf("login:user-%d@example.com", i), policy)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	assert.Equal(t, 0, m.keys())

	require.NoError(t, m.RecordAttempt(ctx, "login:a"))
	require.NoError(t, m.RecordAttempt(ctx, "login:b"))
	assert.Equal(t, 2, m.keys())

	require.NoError(t, m.Clear(ctx, "login:a"))
	assert.Equal(t, 1, m.keys())

	// A check past the window empties and drops the key.
	clk.Step(2 * time.Minute)
	d, err := m.IsAllowed(ctx, "login:b", policy)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Remaining)
	assert.Equal(t, 0, m.keys())
}

func TestMemoryRecordSweepsStaleKeys(t *testing.T) {
	clk := clocktesting.NewFakeClock(epoch)
	m := NewMemory(clk, 10*time.Minute)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, m.RecordAttempt(ctx, fmt.Sprintf("login:user-%d", i)))
	}
	assert.Equal(t, 100, m.keys())

	clk.Step(11 * time.Minute)
	require.NoError(t, m.RecordAttempt(ctx, "login:fresh"))
	assert.Equal(t, 1, m.keys())
}
