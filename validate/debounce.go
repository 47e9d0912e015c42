package validate

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// DefaultQuietPeriod is how long input must be stable before evaluation.
const DefaultQuietPeriod = 300 * time.Millisecond

type pending struct {
	timer clock.Timer
	seq   uint64
}

// Debouncer defers evaluations per field until input has been stable for the
// quiet period. Scheduling a field again supersedes its earlier evaluation,
// which then never runs.
type Debouncer struct {
	clock clock.WithDelayedExecution
	quiet time.Duration

	mu      sync.Mutex
	seq     uint64
	pending map[string]*pending
	stopped bool
}

// NewDebouncer creates a Debouncer. A non-positive quiet period selects
// DefaultQuietPeriod.
func NewDebouncer(clk clock.WithDelayedExecution, quiet time.Duration) *Debouncer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Debouncer{
		clock:   clk,
		quiet:   quiet,
		pending: make(map[string]*pending),
	}
}

// Schedule arranges for fn to run once the field has been quiet.
func (d *Debouncer) Schedule(field string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if prev, ok := d.pending[field]; ok {
		prev.timer.Stop()
	}

	d.seq++
	seq := d.seq
	p := &pending{seq: seq}
	p.timer = d.clock.AfterFunc(d.quiet, func() {
		if !d.claim(field, seq) {
			return
		}
		fn()
	})
	d.pending[field] = p
}

// Evaluate schedules rule(value) and hands the result to deliver.
func (d *Debouncer) Evaluate(field, value string, rule Rule, deliver func(Result)) {
	d.Schedule(field, func() { deliver(rule(value)) })
}

// claim removes the pending entry if seq is still the latest for field. A timer
// whose Stop lost the race with its own firing fails here.
func (d *Debouncer) claim(field string, seq uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[field]
	if !ok || p.seq != seq || d.stopped {
		return false
	}
	delete(d.pending, field)
	return true
}

// Cancel drops the pending evaluation for field, if any.
func (d *Debouncer) Cancel(field string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pending[field]; ok {
		p.timer.Stop()
		delete(d.pending, field)
	}
}

// Pending reports how many fields have an evaluation scheduled.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels everything; later Schedule calls are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for field, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, field)
	}
}
