package changefeed

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryFeed is an in-process feed. It backs single-instance deployments
// without Redis and the tests of every consumer.
type MemoryFeed struct {
	mu     sync.RWMutex
	nextID uint64
	sinks  map[uint64]*sink
	closed bool
}

// NewMemoryFeed returns an empty hub.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{sinks: make(map[uint64]*sink)}
}

// Subscribe implements Subscriber.
func (f *MemoryFeed) Subscribe(ctx context.Context, q Query, h Handler, opts ...Option) (*Subscription, error) {
	if q.Table == "" || h == nil {
		return nil, errors.New("changefeed: table and handler are required")
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, errors.New("changefeed: feed closed")
	}
	f.nextID++
	s := newSink(f.nextID, q, h, buildOptions(opts))
	f.sinks[s.id] = s
	f.mu.Unlock()

	go s.run(true)

	sub := &Subscription{done: s.done}
	sub.cancel = func() {
		f.mu.Lock()
		delete(f.sinks, s.id)
		f.mu.Unlock()
		s.stop()
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-s.done:
		}
	}()
	return sub, nil
}

// Publish implements Publisher. It never blocks on slow consumers.
func (f *MemoryFeed) Publish(_ context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sinks {
		s.offer(ev)
	}
	return nil
}

// Disconnect forces every live subscription to resync, the same signal a
// transport reconnect produces.
func (f *MemoryFeed) Disconnect() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sinks {
		s.requestResync()
	}
}

// Subscribers returns the number of live subscriptions.
func (f *MemoryFeed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// Close stops every subscription.
func (f *MemoryFeed) Close() {
	f.mu.Lock()
	sinks := f.sinks
	f.sinks = make(map[uint64]*sink)
	f.closed = true
	f.mu.Unlock()
	for _, s := range sinks {
		s.stop()
	}
}
