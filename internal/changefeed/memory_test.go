package changefeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	states []State
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) state(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) snapshot() ([]Event, []State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...), append([]State(nil), r.states...)
}

func TestMemoryFeedDeliversMatchingInOrder(t *testing.T) {
	feed := NewMemoryFeed()
	defer feed.Close()
	rec := &recorder{}

	sub, err := feed.Subscribe(context.Background(), Query{Table: "repairs", Filter: Eq("id", "r-1")}, rec.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ctx := context.Background()
	require.NoError(t, feed.Publish(ctx, Event{Table: "repairs", Op: OpUpdate, Row: Row{"id": "r-1", "status": "CONFIRMED"}}))
	require.NoError(t, feed.Publish(ctx, Event{Table: "repairs", Op: OpUpdate, Row: Row{"id": "r-2", "status": "CONFIRMED"}}))
	require.NoError(t, feed.Publish(ctx, Event{Table: "messages", Op: OpInsert, Row: Row{"id": "r-1"}}))
	require.NoError(t, feed.Publish(ctx, Event{Table: "repairs", Op: OpUpdate, Row: Row{"id": "r-1", "status": "SCHEDULED"}}))

	require.Eventually(t, func() bool {
		evs, _ := rec.snapshot()
		return len(evs) == 2
	}, time.Second, 5*time.Millisecond)

	evs, _ := rec.snapshot()
	assert.Equal(t, "CONFIRMED", evs[0].Row["status"])
	assert.Equal(t, "SCHEDULED", evs[1].Row["status"])
	assert.False(t, evs[0].At.IsZero())
}

func TestMemoryFeedUnsubscribe(t *testing.T) {
	feed := NewMemoryFeed()
	rec := &recorder{}
	sub, err := feed.Subscribe(context.Background(), Query{Table: "repairs"}, rec.handle, WithStateHandler(rec.state))
	require.NoError(t, err)
	assert.Equal(t, 1, feed.Subscribers())

	sub.Unsubscribe()
	sub.Unsubscribe()
	<-sub.Done()
	assert.Equal(t, 0, feed.Subscribers())

	require.NoError(t, feed.Publish(context.Background(), Event{Table: "repairs", Op: OpInsert, Row: Row{"id": "x"}}))
	evs, states := rec.snapshot()
	assert.Empty(t, evs)
	assert.Equal(t, []State{StateConnected, StateDisconnected}, states)

	feed.Close()
}

func TestMemoryFeedContextCancelUnsubscribes(t *testing.T) {
	feed := NewMemoryFeed()
	defer feed.Close()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := feed.Subscribe(ctx, Query{Table: "repairs"}, func(Event) {})
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription still running after context cancel")
	}
	assert.Equal(t, 0, feed.Subscribers())
}

func TestMemoryFeedOverflowSignalsResync(t *testing.T) {
	feed := NewMemoryFeed()
	defer feed.Close()

	gate := make(chan struct{})
	rec := &recorder{}
	first := true
	handler := func(ev Event) {
		if first {
			first = false
			<-gate
		}
		rec.handle(ev)
	}
	sub, err := feed.Subscribe(context.Background(), Query{Table: "repairs"}, handler,
		WithBuffer(1), WithStateHandler(rec.state))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ctx := context.Background()
	require.NoError(t, feed.Publish(ctx, Event{Table: "repairs", Op: OpUpdate, Row: Row{"n": 1}}))
	// Wait until the first event is being handled so the buffer is empty.
	require.Eventually(t, func() bool { return len(feed.sinks[1].events) == 0 }, time.Second, time.Millisecond)
	for i := 2; i <= 5; i++ {
		require.NoError(t, feed.Publish(ctx, Event{Table: "repairs", Op: OpUpdate, Row: Row{"n": i}}))
	}
	close(gate)

	require.Eventually(t, func() bool {
		_, states := rec.snapshot()
		for _, s := range states {
			if s == StateResync {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryFeedDisconnectForcesResync(t *testing.T) {
	feed := NewMemoryFeed()
	defer feed.Close()
	rec := &recorder{}
	sub, err := feed.Subscribe(context.Background(), Query{Table: "tech_locations"}, rec.handle, WithStateHandler(rec.state))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	feed.Disconnect()
	require.Eventually(t, func() bool {
		_, states := rec.snapshot()
		return len(states) == 2 && states[1] == StateResync
	}, time.Second, 5*time.Millisecond)
}
