package sessionkit

import "sync"

// notifier delivers snapshots to subscribers from one goroutine. Bursts are
// coalesced: a slow subscriber sees the newest snapshot, not every step.
type notifier struct {
	mu       sync.Mutex
	latest   Snapshot
	handlers map[uint64]func(Snapshot)
	nextID   uint64

	wake     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newNotifier() *notifier {
	n := &notifier{
		handlers: make(map[uint64]func(Snapshot)),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

func (n *notifier) run() {
	defer n.wg.Done()
	for {
		select {
		case <-n.wake:
		case <-n.done:
			return
		}

		n.mu.Lock()
		snap := n.latest
		handlers := make([]func(Snapshot), 0, len(n.handlers))
		for _, h := range n.handlers {
			handlers = append(handlers, h)
		}
		n.mu.Unlock()

		for _, h := range handlers {
			h(snap)
		}
	}
}

func (n *notifier) publish(snap Snapshot) {
	n.mu.Lock()
	n.latest = snap
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) subscribe(fn func(Snapshot)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.handlers[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.handlers, id)
			n.mu.Unlock()
		})
	}
}

func (n *notifier) stop() {
	n.stopOnce.Do(func() {
		close(n.done)
		n.wg.Wait()
	})
}
