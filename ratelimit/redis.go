package ratelimit

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"
	"k8s.io/utils/clock"
)

// Redis keeps one sorted set per key, scored by attempt time in milliseconds.
// Key names are BLAKE3 digests so identifiers such as email addresses are never
// written to Redis in clear text.
type Redis struct {
	redis     redis.UniversalClient
	clock     clock.PassiveClock
	prefix    string
	retention time.Duration
}

// NewRedis creates a Redis limiter. retention is the TTL refreshed on every
// recorded attempt and should cover the longest policy window.
func NewRedis(client redis.UniversalClient, clk clock.PassiveClock, prefix string, retention time.Duration) *Redis {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if prefix == "" {
		prefix = "skrl"
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Redis{
		redis:     client,
		clock:     clk,
		prefix:    prefix,
		retention: retention,
	}
}

func (r *Redis) key(key string) string {
	sum := blake3.Sum256([]byte(key))
	return r.prefix + ":" + hex.EncodeToString(sum[:16])
}

func (r *Redis) IsAllowed(ctx context.Context, key string, policy Policy) (Decision, error) {
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}

	now := r.clock.Now()
	cutoff := now.Add(-policy.Window).UnixMilli()
	rkey := r.key(key)

	var entries *redis.ZSliceCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, rkey, "-inf", strconv.FormatInt(cutoff, 10))
		entries = pipe.ZRangeWithScores(ctx, rkey, 0, -1)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	members := entries.Val()
	stamps := make([]time.Time, 0, len(members))
	for _, z := range members {
		stamps = append(stamps, time.UnixMilli(int64(z.Score)))
	}
	return decide(stamps, now, policy), nil
}

func (r *Redis) RecordAttempt(ctx context.Context, key string) error {
	now := r.clock.Now()
	rkey := r.key(key)

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
		pipe.PExpire(ctx, rkey, r.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
