package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/MrEthical07/sessionkit/kvstore"
	"github.com/MrEthical07/sessionkit/ratelimit"
)

type loadtestOptions struct {
	keys        int
	concurrency int
	ops         int
	policy      ratelimit.Policy
}

func newLoadtestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure store reads and rate-limit checks against a backend",
		Long: `loadtest seeds --keys cached entries, then runs two phases of --ops
operations each: "read" fetches random entries from the store and "throttle"
runs the login policy check-and-record cycle on random identifiers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			opts := loadtestOptions{
				keys:        a.v.GetInt("keys"),
				concurrency: a.v.GetInt("concurrency"),
				ops:         a.v.GetInt("ops"),
				policy:      cfg.RateLimits.Login,
			}
			if opts.keys <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
				return errors.New("keys, concurrency and ops must be > 0")
			}

			be, err := openBackends(cmd.Context(), backendOptions{
				kind:        a.v.GetString("store"),
				redisAddr:   a.v.GetString("redis-addr"),
				levelDBPath: a.v.GetString("leveldb-path"),
			}, a.logger)
			if err != nil {
				return err
			}
			defer be.Close()

			limiter := be.limiter
			if limiter == nil {
				limiter = ratelimit.NewMemory(clock.RealClock{}, opts.policy.Window)
			}
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), be.store, limiter, opts)
		},
	}

	f := cmd.Flags()
	f.Int("keys", 10000, "number of cached entries to seed")
	f.Int("concurrency", 64, "number of concurrent workers")
	f.Int("ops", 100000, "operations per phase")
	f.String("store", storeMiniredis, "backend: memory, miniredis, redis or leveldb")
	f.String("redis-addr", "", "Redis address for --store=redis")
	f.String("leveldb-path", "sessionkit-loadtest.db", "database directory for --store=leveldb")
	return cmd
}

func runLoadtest(ctx context.Context, out io.Writer, store kvstore.Store, limiter ratelimit.Limiter, opts loadtestOptions) error {
	fmt.Fprintf(out, "seeding %d entries...\n", opts.keys)
	startSeed := time.Now()
	for i := 0; i < opts.keys; i++ {
		if err := store.Set(ctx, loadtestKey(i), fmt.Sprintf("session-%d", i)); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	read := runPhase(opts, 7919, func(r *rand.Rand) error {
		_, err := store.Get(ctx, loadtestKey(r.Intn(opts.keys)))
		return err
	})
	throttle := runPhase(opts, 6151, func(r *rand.Rand) error {
		key := "loadtest:login:" + loadtestKey(r.Intn(opts.keys))
		d, err := limiter.IsAllowed(ctx, key, opts.policy)
		if err != nil {
			return err
		}
		if !d.Allowed {
			return limiter.Clear(ctx, key)
		}
		return limiter.RecordAttempt(ctx, key)
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "read", read)
	printStats(out, "throttle", throttle)

	for i := 0; i < opts.keys; i++ {
		if err := store.Remove(ctx, loadtestKey(i)); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
	}
	return nil
}

func loadtestKey(i int) string {
	return fmt.Sprintf("loadtest:%d", i)
}

// runPhase spreads opts.ops calls of op over opts.concurrency workers.
func runPhase(opts loadtestOptions, seed int64, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, opts.ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > opts.ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

// percentile expects sorted samples.
func percentile(samples []time.Duration, p int) time.Duration {
	switch {
	case len(samples) == 0:
		return 0
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
