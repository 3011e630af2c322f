package syncview

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/changefeed"
	"github.com/iliyamo/repair-sync/internal/model"
)

// RowFetcher loads the current image of the watched row. It returns
// model.ErrNotFound when the row does not exist.
type RowFetcher func(ctx context.Context) (changefeed.Row, error)

// MaxResyncFailures is how many consecutive failed refetches a view
// tolerates before reporting ErrFeedDisconnected. It keeps retrying
// after the report.
const MaxResyncFailures = 3

// DetailConfig wires a DetailView.
type DetailConfig struct {
	Feed     changefeed.Subscriber
	Query    changefeed.Query
	Fetch    RowFetcher
	OnChange func(changefeed.Row)
	OnError  func(error)
}

// DetailView keeps one row in sync with the feed. Local optimistic edits
// are kept in an overlay that pushed events cannot clobber until the
// server confirms the same value or the edit is rolled back.
type DetailView struct {
	cfg DetailConfig

	mu       sync.Mutex
	ctx      context.Context
	base     changefeed.Row
	pending  map[uint64]changefeed.Row
	nextEdit uint64
	deleted  bool
	loading  bool
	buffered []changefeed.Event
	failures int
	sub      *changefeed.Subscription
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewDetailView validates cfg; call Start to begin syncing.
func NewDetailView(cfg DetailConfig) *DetailView {
	return &DetailView{cfg: cfg, pending: make(map[uint64]changefeed.Row), stopped: make(chan struct{})}
}

// SetErrorHandler replaces OnError. It must be called before Start.
func (v *DetailView) SetErrorHandler(fn func(error)) {
	v.cfg.OnError = fn
}

// Start subscribes first and then fetches the snapshot, so an event that
// lands while the fetch is in flight is applied on top of it rather
// than lost.
func (v *DetailView) Start(ctx context.Context) error {
	if v.cfg.Feed == nil || v.cfg.Fetch == nil {
		return errors.New("syncview: feed and fetcher are required")
	}
	v.mu.Lock()
	v.ctx = ctx
	v.loading = true
	v.mu.Unlock()

	sub, err := v.cfg.Feed.Subscribe(ctx, v.cfg.Query, v.handle, changefeed.WithStateHandler(v.onState))
	if err != nil {
		return errors.Wrap(err, "syncview: subscribe")
	}
	v.mu.Lock()
	v.sub = sub
	v.mu.Unlock()

	if err := v.refetch(ctx); err != nil {
		sub.Unsubscribe()
		return err
	}
	return nil
}

// Stop unsubscribes. Writes issued through the view's owner are not
// affected.
func (v *DetailView) Stop() {
	v.stopOnce.Do(func() { close(v.stopped) })
	v.mu.Lock()
	sub := v.sub
	v.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Snapshot returns the merged row with pending local edits on top, or
// nil when the row is gone.
func (v *DetailView) Snapshot() changefeed.Row {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.viewLocked()
}

// Deleted reports whether a DELETE event or a not-found fetch was seen.
func (v *DetailView) Deleted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deleted
}

// Apply records an optimistic local edit and returns its rollback.
func (v *DetailView) Apply(fields changefeed.Row) (rollback func()) {
	v.mu.Lock()
	v.nextEdit++
	id := v.nextEdit
	v.pending[id] = fields.Clone()
	row := v.viewLocked()
	v.mu.Unlock()
	v.notify(row)

	return func() {
		v.mu.Lock()
		_, ok := v.pending[id]
		delete(v.pending, id)
		row := v.viewLocked()
		v.mu.Unlock()
		if ok {
			v.notify(row)
		}
	}
}

func (v *DetailView) viewLocked() changefeed.Row {
	if v.deleted {
		return nil
	}
	row := v.base.Clone()
	for id := uint64(1); id <= v.nextEdit; id++ {
		if edit, ok := v.pending[id]; ok {
			row = Merge(row, edit)
		}
	}
	return row
}

func (v *DetailView) handle(ev changefeed.Event) {
	v.mu.Lock()
	if v.loading {
		v.buffered = append(v.buffered, ev)
		v.mu.Unlock()
		return
	}
	v.applyLocked(ev)
	row := v.viewLocked()
	v.mu.Unlock()
	v.notify(row)
}

func (v *DetailView) applyLocked(ev changefeed.Event) {
	switch ev.Op {
	case changefeed.OpDelete:
		v.deleted = true
		v.base = nil
		return
	default:
		// the row exists again, e.g. a location upsert after a stop
		v.deleted = false
	}
	if older(ev.Row, v.base) {
		return
	}
	v.base = Merge(v.base, ev.Row)
	v.confirmLocked(ev.Row)
}

// confirmLocked drops pending fields whose value the server now reports.
func (v *DetailView) confirmLocked(patch changefeed.Row) {
	for id, edit := range v.pending {
		for k, want := range edit {
			if got, ok := patch[k]; ok && sameValue(got, want) {
				delete(edit, k)
			}
		}
		if len(edit) == 0 {
			delete(v.pending, id)
		}
	}
}

func (v *DetailView) onState(s changefeed.State) {
	if s != changefeed.StateResync {
		return
	}
	v.mu.Lock()
	ctx := v.ctx
	v.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	retryFetch(ctx, v.stopped, v.cfg.Query.Table, func(ctx context.Context) error {
		v.mu.Lock()
		v.loading = true
		v.mu.Unlock()
		return v.refetch(ctx)
	})
}

func (v *DetailView) refetch(ctx context.Context) error {
	row, err := v.cfg.Fetch(ctx)
	notFound := errors.Is(err, model.ErrNotFound)

	v.mu.Lock()
	if err != nil && !notFound {
		v.failures++
		failures := v.failures
		v.loading = false
		v.mu.Unlock()
		if failures == MaxResyncFailures && v.cfg.OnError != nil {
			v.cfg.OnError(errors.Wrapf(model.ErrFeedDisconnected, "refetch %s: %v", v.cfg.Query.Table, err))
		}
		return errors.Wrap(err, "syncview: fetch snapshot")
	}
	v.failures = 0
	if notFound {
		v.base, v.deleted = nil, true
	} else {
		v.base, v.deleted = row.Clone(), false
	}
	for _, ev := range v.buffered {
		v.applyLocked(ev)
	}
	v.buffered = nil
	v.loading = false
	view := v.viewLocked()
	v.mu.Unlock()

	v.notify(view)
	return nil
}

func (v *DetailView) notify(row changefeed.Row) {
	if v.cfg.OnChange != nil {
		v.cfg.OnChange(row)
	}
}
