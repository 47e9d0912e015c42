package ratelimit

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// DefaultRetention bounds how long Memory keeps timestamps that no check purged.
const DefaultRetention = time.Hour

type window struct {
	mu     sync.Mutex
	stamps []time.Time
	dead   bool
}

// Memory is an in-process sliding-window limiter. Only keys with recorded
// attempts hold state: checks never create windows, windows that empty out are
// dropped, and RecordAttempt sweeps stale keys once per retention period.
type Memory struct {
	clock     clock.PassiveClock
	retention time.Duration

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// NewMemory creates a Memory limiter. retention should be at least the longest
// policy window used with it; zero selects DefaultRetention.
func NewMemory(clk clock.PassiveClock, retention time.Duration) *Memory {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Memory{
		clock:     clk,
		retention: retention,
		windows:   make(map[string]*window),
		lastSweep: clk.Now(),
	}
}

// lock returns the live window for key with its mutex held, creating it when
// create is set. It returns nil when there is no window and create is false.
func (m *Memory) lock(key string, create bool) *window {
	for {
		m.mu.Lock()
		w, ok := m.windows[key]
		if !ok {
			if !create {
				m.mu.Unlock()
				return nil
			}
			w = &window{}
			m.windows[key] = w
		}
		m.mu.Unlock()

		w.mu.Lock()
		if !w.dead {
			return w
		}
		w.mu.Unlock()
	}
}

// drop retires w, whose mutex the caller holds.
func (m *Memory) drop(key string, w *window) {
	w.dead = true
	m.mu.Lock()
	if m.windows[key] == w {
		delete(m.windows, key)
	}
	m.mu.Unlock()
}

func (m *Memory) IsAllowed(ctx context.Context, key string, policy Policy) (Decision, error) {
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	now := m.clock.Now()
	w := m.lock(key, false)
	if w == nil {
		return decide(nil, now, policy), nil
	}
	defer w.mu.Unlock()

	w.stamps = purge(w.stamps, now.Add(-policy.Window))
	if len(w.stamps) == 0 {
		m.drop(key, w)
	}
	return decide(w.stamps, now, policy), nil
}

func (m *Memory) RecordAttempt(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := m.clock.Now()
	w := m.lock(key, true)
	w.stamps = append(purge(w.stamps, now.Add(-m.retention)), now)
	w.mu.Unlock()

	m.mu.Lock()
	due := now.Sub(m.lastSweep) >= m.retention
	if due {
		m.lastSweep = now
	}
	m.mu.Unlock()
	if due {
		m.Sweep()
	}
	return nil
}

func (m *Memory) Clear(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if w := m.lock(key, false); w != nil {
		w.stamps = nil
		m.drop(key, w)
		w.mu.Unlock()
	}
	return nil
}

// Sweep drops keys whose attempts all fell out of the retention period. Keys
// currently in use by another caller are skipped.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock.Now().Add(-m.retention)
	removed := 0
	for key, w := range m.windows {
		if !w.mu.TryLock() {
			continue
		}
		w.stamps = purge(w.stamps, cutoff)
		if len(w.stamps) == 0 {
			w.dead = true
			delete(m.windows, key)
			removed++
		}
		w.mu.Unlock()
	}
	return removed
}

// purge drops timestamps at or before cutoff. stamps is kept sorted by append order.
func purge(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	kept := make([]time.Time, len(stamps)-i)
	copy(kept, stamps[i:])
	return kept
}
