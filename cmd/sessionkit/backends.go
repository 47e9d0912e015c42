package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/MrEthical07/sessionkit/kvstore"
	"github.com/MrEthical07/sessionkit/ratelimit"
)

// Store kinds accepted by --store.
const (
	storeMemory    = "memory"
	storeMiniredis = "miniredis"
	storeRedis     = "redis"
	storeLevelDB   = "leveldb"
)

type backendOptions struct {
	kind        string
	redisAddr   string
	levelDBPath string
}

// backends holds the store and, for Redis kinds, a shared limiter. A nil
// limiter lets the Manager use its in-memory default.
type backends struct {
	store   kvstore.Store
	limiter ratelimit.Limiter
	closers []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openBackends(ctx context.Context, opts backendOptions, logger zerolog.Logger) (*backends, error) {
	b := &backends{}

	switch opts.kind {
	case storeMemory:
		b.store = kvstore.NewMemory()
		return b, nil

	case storeLevelDB:
		db, err := kvstore.OpenLevelDB(opts.levelDBPath)
		if err != nil {
			return nil, err
		}
		b.store = db
		b.closers = append(b.closers, db.Close)
		logger.Info().Str("path", opts.levelDBPath).Msg("using leveldb store")
		return b, nil

	case storeMiniredis:
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		b.closers = append(b.closers, func() error { mr.Close(); return nil })
		opts.redisAddr = mr.Addr()
		logger.Info().Str("addr", opts.redisAddr).Msg("using embedded miniredis")

	case storeRedis:
		if opts.redisAddr == "" {
			return nil, errors.New("--redis-addr is required for the redis store")
		}
		logger.Info().Str("addr", opts.redisAddr).Msg("using redis")

	default:
		return nil, fmt.Errorf("unknown store %q (want memory, miniredis, redis or leveldb)", opts.kind)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{opts.redisAddr}})
	b.closers = append(b.closers, client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	b.store = kvstore.NewRedis(client, "sk", 0)
	b.limiter = ratelimit.NewRedis(client, clock.RealClock{}, "skrl", 0)
	return b, nil
}
