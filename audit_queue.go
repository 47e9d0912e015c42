package sessionkit

import (
	"context"
	"sync"
	"sync/atomic"
)

// AuditStats describes the audit queue for gauges. It is the zero value when
// auditing is disabled.
type AuditStats struct {
	Enabled   bool
	Backlog   int
	Delivered uint64
	Dropped   uint64
	// SinkPanics counts events whose sink panicked; the queue keeps running.
	SinkPanics uint64
}

// auditQueue hands events to the sink on one goroutine so sink code never
// runs inside a session transition. A nil *auditQueue discards events.
//
// Events accepted before Close are always delivered: Close shuts the gate,
// which waits for in-flight sends, and only then tells the worker to drain.
type auditQueue struct {
	sink       AuditSink
	dropIfFull bool
	events     chan AuditEvent

	gate    sync.RWMutex
	closed  bool
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once

	delivered  atomic.Uint64
	dropped    atomic.Uint64
	sinkPanics atomic.Uint64
}

func newAuditQueue(cfg AuditConfig, sink AuditSink) *auditQueue {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	q := &auditQueue{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		events:     make(chan AuditEvent, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *auditQueue) run() {
	defer close(q.stopped)
	for {
		select {
		case ev := <-q.events:
			q.deliver(ev)
		case <-q.stop:
			for {
				select {
				case ev := <-q.events:
					q.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (q *auditQueue) deliver(ev AuditEvent) {
	defer func() {
		if recover() != nil {
			q.sinkPanics.Add(1)
		}
	}()
	q.sink.Emit(context.Background(), ev)
	q.delivered.Add(1)
}

// Emit queues ev. With DropIfFull a full queue drops and counts it; otherwise
// Emit waits for room until ctx ends, which also counts as a drop.
func (q *auditQueue) Emit(ctx context.Context, ev AuditEvent) {
	if q == nil {
		return
	}
	q.gate.RLock()
	defer q.gate.RUnlock()
	if q.closed {
		return
	}

	if q.dropIfFull {
		select {
		case q.events <- ev:
		default:
			q.dropped.Add(1)
		}
		return
	}

	var done <-chan struct{}
	if ctx != nil {
		done = ctx.Done()
	}
	select {
	case q.events <- ev:
	case <-done:
		q.dropped.Add(1)
	}
}

// Close delivers everything already accepted and stops the worker. Safe to
// call more than once.
func (q *auditQueue) Close() {
	if q == nil {
		return
	}
	q.once.Do(func() {
		q.gate.Lock()
		q.closed = true
		q.gate.Unlock()
		close(q.stop)
		<-q.stopped
	})
}

func (q *auditQueue) Stats() AuditStats {
	if q == nil {
		return AuditStats{}
	}
	return AuditStats{
		Enabled:    true,
		Backlog:    len(q.events),
		Delivered:  q.delivered.Load(),
		Dropped:    q.dropped.Load(),
		SinkPanics: q.sinkPanics.Load(),
	}
}
