package changefeed

import (
	"context"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Handler receives events for one subscription. Calls are sequential.
type Handler func(Event)

// State describes the health of a subscription.
type State int

const (
	StateConnected State = iota
	// StateResync means events may have been lost; refetch a snapshot.
	StateResync
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateResync:
		return "resync"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Query selects the rows a subscription is interested in.
type Query struct {
	Table  string
	Filter Filter
}

func (q Query) matches(ev Event) bool {
	if ev.Table != q.Table {
		return false
	}
	return q.Filter == nil || q.Filter.Match(ev.Row)
}

// Subscriber opens subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, q Query, h Handler, opts ...Option) (*Subscription, error)
}

// Publisher emits events to every matching subscription.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Feed is both ends of the change feed.
type Feed interface {
	Subscriber
	Publisher
}

// Option tunes a subscription.
type Option func(*options)

type options struct {
	onState func(State)
	buffer  int
}

// WithStateHandler registers a callback for connection state changes.
// It runs on the delivery goroutine, so a resync refetch done inside it
// is ordered before any later event.
func WithStateHandler(fn func(State)) Option {
	return func(o *options) { o.onState = fn }
}

// WithBuffer sets the per-subscription event buffer.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{buffer: 64}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Subscription is the cancellation handle returned by Subscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
	done   chan struct{}
}

// Unsubscribe stops delivery. It is safe to call more than once and
// does not wait for an in-flight handler call to return.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Done is closed once the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// sink is the delivery side shared by every Feed implementation: a
// buffered queue drained by one goroutine that calls the handler.
type sink struct {
	id      uint64
	q       Query
	h       Handler
	onState func(State)

	events   chan Event
	resync   chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	lagged   atomic.Bool
}

func newSink(id uint64, q Query, h Handler, o options) *sink {
	return &sink{
		id:      id,
		q:       q,
		h:       h,
		onState: o.onState,
		events:  make(chan Event, o.buffer),
		resync:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// offer enqueues ev without blocking the publisher. A full buffer drops
// the event and schedules a resync instead.
func (s *sink) offer(ev Event) {
	if !s.q.matches(ev) {
		return
	}
	select {
	case <-s.quit:
		return
	default:
	}
	select {
	case s.events <- ev:
	default:
		if s.lagged.CompareAndSwap(false, true) {
			log.WithFields(log.Fields{"component": "changefeed", "table": s.q.Table, "sub": s.id}).
				Warn("subscriber buffer full; scheduling resync")
		}
		s.requestResync()
	}
}

func (s *sink) requestResync() {
	select {
	case s.resync <- struct{}{}:
	default:
	}
}

func (s *sink) state(st State) {
	if s.onState != nil {
		s.onState(st)
	}
}

// run delivers until stop. When announce is set the subscription is
// reported connected before the first event.
func (s *sink) run(announce bool) {
	defer close(s.done)
	defer s.state(StateDisconnected)
	if announce {
		s.state(StateConnected)
	}
	for {
		select {
		case <-s.quit:
			return
		case <-s.resync:
			s.drain()
			s.lagged.Store(false)
			s.state(StateResync)
		case ev := <-s.events:
			select {
			case <-s.quit:
				return
			default:
			}
			s.h(ev)
		}
	}
}

func (s *sink) drain() {
	for {
		select {
		case <-s.events:
		default:
			return
		}
	}
}

func (s *sink) stop() {
	s.quitOnce.Do(func() { close(s.quit) })
}
