package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores values in Redis under prefix. A zero TTL keeps keys until removed.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed Store. An empty prefix defaults to "sk".
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "sk"
	}
	return &Redis{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *Redis) key(key string) string {
	return r.prefix + ":" + key
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.redis.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.redis.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
