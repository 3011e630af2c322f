package syncview

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/changefeed"
	"github.com/iliyamo/repair-sync/internal/model"
)

// ListFetcher loads the whole projection, already filtered and ordered.
type ListFetcher func(ctx context.Context) ([]changefeed.Row, error)

// ListConfig wires a ListView.
type ListConfig struct {
	Feed     changefeed.Subscriber
	Table    string
	Fetch    ListFetcher
	OnChange func([]changefeed.Row)
	OnError  func(error)
}

// ListView is always a fresh projection: any event on the table, even one
// for a row that just left the projection, triggers a full refetch.
type ListView struct {
	cfg ListConfig

	mu       sync.Mutex
	ctx      context.Context
	rows     []changefeed.Row
	failures int
	sub      *changefeed.Subscription
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewListView returns an idle view.
func NewListView(cfg ListConfig) *ListView {
	return &ListView{cfg: cfg, stopped: make(chan struct{})}
}

// Start subscribes to the whole table and loads the first projection.
func (v *ListView) Start(ctx context.Context) error {
	if v.cfg.Feed == nil || v.cfg.Fetch == nil {
		return errors.New("syncview: feed and fetcher are required")
	}
	v.mu.Lock()
	v.ctx = ctx
	v.mu.Unlock()

	sub, err := v.cfg.Feed.Subscribe(ctx, changefeed.Query{Table: v.cfg.Table}, func(changefeed.Event) {
		v.refreshLogged()
	}, changefeed.WithStateHandler(func(s changefeed.State) {
		if s == changefeed.StateResync {
			v.refreshLogged()
		}
	}))
	if err != nil {
		return errors.Wrap(err, "syncview: subscribe")
	}
	v.mu.Lock()
	v.sub = sub
	v.mu.Unlock()

	if err := v.Refresh(ctx); err != nil {
		sub.Unsubscribe()
		return err
	}
	return nil
}

// Stop unsubscribes.
func (v *ListView) Stop() {
	v.stopOnce.Do(func() { close(v.stopped) })
	v.mu.Lock()
	sub := v.sub
	v.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Rows returns the last fetched projection.
func (v *ListView) Rows() []changefeed.Row {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]changefeed.Row, len(v.rows))
	copy(out, v.rows)
	return out
}

// Refresh refetches the projection now.
func (v *ListView) Refresh(ctx context.Context) error {
	rows, err := v.cfg.Fetch(ctx)
	v.mu.Lock()
	if err != nil {
		v.failures++
		failures := v.failures
		v.mu.Unlock()
		if failures == MaxResyncFailures && v.cfg.OnError != nil {
			v.cfg.OnError(errors.Wrapf(model.ErrFeedDisconnected, "refetch %s: %v", v.cfg.Table, err))
		}
		return errors.Wrap(err, "syncview: fetch list")
	}
	v.failures = 0
	v.rows = rows
	v.mu.Unlock()

	if v.cfg.OnChange != nil {
		v.cfg.OnChange(rows)
	}
	return nil
}

// refreshLogged refetches until it succeeds; a failed refresh would
// otherwise leave the projection stale until the next event.
func (v *ListView) refreshLogged() {
	v.mu.Lock()
	ctx := v.ctx
	v.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	retryFetch(ctx, v.stopped, v.cfg.Table, v.Refresh)
}
