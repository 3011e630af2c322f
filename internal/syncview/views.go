package syncview

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/repair-sync/internal/changefeed"
	"github.com/iliyamo/repair-sync/internal/chat"
	"github.com/iliyamo/repair-sync/internal/location"
	"github.com/iliyamo/repair-sync/internal/model"
	"github.com/iliyamo/repair-sync/internal/payment"
)

// Source is the read side the client views fetch snapshots from. The
// service layer and the HTTP client both satisfy it.
type Source interface {
	GetRepair(ctx context.Context, id string) (model.Repair, error)
	ListMessages(ctx context.Context, repairID string) ([]model.Message, error)
	// GetLocation returns model.ErrNotFound while nobody is sharing.
	GetLocation(ctx context.Context, repairID string) (model.TechLocation, error)
}

// ViewConfig wires a customer or technician view of one repair.
type ViewConfig struct {
	Feed     changefeed.Subscriber
	Source   Source
	Sender   chat.Sender
	Me       chat.Participant
	RepairID string
	OnError  func(error)
}

// threadSync keeps a chat thread in sync with the messages table.
type threadSync struct {
	cfg      ViewConfig
	thread   *chat.Thread
	sub      *changefeed.Subscription
	stopped  chan struct{}
	failures int
}

func (t *threadSync) start(ctx context.Context) error {
	t.stopped = make(chan struct{})
	sub, err := t.cfg.Feed.Subscribe(ctx,
		changefeed.Query{Table: TableMessages, Filter: changefeed.Eq("repair_id", t.cfg.RepairID)},
		t.thread.HandleEvent,
		changefeed.WithStateHandler(func(s changefeed.State) {
			if s == changefeed.StateResync && ctx.Err() == nil {
				retryFetch(ctx, t.stopped, TableMessages, t.reload)
			}
		}))
	if err != nil {
		return errors.Wrap(err, "syncview: subscribe messages")
	}
	t.sub = sub
	if err := t.load(ctx); err != nil {
		sub.Unsubscribe()
		return err
	}
	return nil
}

func (t *threadSync) load(ctx context.Context) error {
	history, err := t.cfg.Source.ListMessages(ctx, t.cfg.RepairID)
	if err != nil {
		return errors.Wrap(err, "syncview: load messages")
	}
	t.thread.Load(history)
	return nil
}

// reload runs on the delivery goroutine only, so failures needs no lock.
func (t *threadSync) reload(ctx context.Context) error {
	err := t.load(ctx)
	if err == nil {
		t.failures = 0
		return nil
	}
	t.failures++
	if t.failures == MaxResyncFailures && t.cfg.OnError != nil {
		t.cfg.OnError(errors.Wrapf(model.ErrFeedDisconnected, "refetch %s: %v", TableMessages, err))
	}
	return err
}

func (t *threadSync) stop() {
	if t.stopped != nil {
		select {
		case <-t.stopped:
		default:
			close(t.stopped)
		}
	}
	if t.sub != nil {
		t.sub.Unsubscribe()
	}
}

// CustomerState is what the customer screen renders.
type CustomerState struct {
	Repair   model.Repair
	Found    bool
	Messages []chat.Entry
	Location *model.TechLocation
	ETA      *location.Estimate
}

// CustomerView combines the repair, its chat and the technician's live
// location while en route.
type CustomerView struct {
	cfg      ViewConfig
	onUpdate func(CustomerState)

	repair *RepairView
	chat   threadSync
	loc    *DetailView

	mu      sync.Mutex
	started bool
}

// NewCustomerView returns an idle view; onUpdate receives the combined
// state after every change.
func NewCustomerView(cfg ViewConfig, onUpdate func(CustomerState)) *CustomerView {
	v := &CustomerView{cfg: cfg, onUpdate: onUpdate}
	v.repair = NewRepairView(cfg.Feed, cfg.RepairID, cfg.Source.GetRepair, func(model.Repair, bool) { v.emit() })
	v.repair.SetErrorHandler(cfg.OnError)
	v.chat = threadSync{cfg: cfg, thread: chat.NewThread(cfg.RepairID, cfg.Me, cfg.Sender, func([]chat.Entry) { v.emit() })}
	v.loc = NewDetailView(DetailConfig{
		Feed:  cfg.Feed,
		Query: changefeed.Query{Table: TableLocations, Filter: changefeed.Eq("repair_id", cfg.RepairID)},
		Fetch: func(ctx context.Context) (changefeed.Row, error) {
			l, err := cfg.Source.GetLocation(ctx, cfg.RepairID)
			if err != nil {
				return nil, err
			}
			return changefeed.RowOf(l)
		},
		OnChange: func(changefeed.Row) { v.emit() },
		OnError:  cfg.OnError,
	})
	return v
}

// Start loads everything and begins following the feed.
func (v *CustomerView) Start(ctx context.Context) error {
	if err := v.repair.Start(ctx); err != nil {
		return err
	}
	if err := v.chat.start(ctx); err != nil {
		v.repair.Stop()
		return err
	}
	if err := v.loc.Start(ctx); err != nil {
		v.repair.Stop()
		v.chat.stop()
		return err
	}
	v.mu.Lock()
	v.started = true
	v.mu.Unlock()
	v.emit()
	return nil
}

// Stop unsubscribes from every stream.
func (v *CustomerView) Stop() {
	v.repair.Stop()
	v.chat.stop()
	v.loc.Stop()
}

// Thread exposes the chat for sending.
func (v *CustomerView) Thread() *chat.Thread { return v.chat.thread }

// State assembles the current view.
func (v *CustomerView) State() CustomerState {
	st := CustomerState{Messages: v.chat.thread.Entries()}
	st.Repair, st.Found = v.repair.Repair()

	if row := v.loc.Snapshot(); row != nil {
		var l model.TechLocation
		if err := changefeed.DecodeRow(row, &l); err == nil {
			st.Location = &l
		}
	}
	// a stale row can linger in the view until its DELETE arrives
	if st.Location != nil && st.Found && st.Repair.Status != model.StatusEnRoute {
		st.Location = nil
	}
	if st.Location != nil && st.Repair.AddressLat != nil && st.Repair.AddressLng != nil {
		est := location.EstimateArrival(
			location.Point(st.Location.Lat, st.Location.Lng),
			location.Point(*st.Repair.AddressLat, *st.Repair.AddressLng),
			st.Location.Speed,
		)
		st.ETA = &est
	}
	return st
}

func (v *CustomerView) emit() {
	v.mu.Lock()
	started := v.started
	v.mu.Unlock()
	if !started || v.onUpdate == nil {
		return
	}
	v.onUpdate(v.State())
}

// TechnicianState is what the technician screen renders.
type TechnicianState struct {
	Repair   model.Repair
	Found    bool
	Messages []chat.Entry
	Step     payment.Step
	Sharing  bool
}

// TechnicianView combines the repair and its chat, and feeds every
// repair update into the payment wizard and the location broadcaster.
type TechnicianView struct {
	cfg         ViewConfig
	backend     payment.Backend
	opts        payment.Options
	broadcaster *location.Broadcaster
	onUpdate    func(TechnicianState)

	repair *RepairView
	chat   threadSync

	mu      sync.Mutex
	ctx     context.Context
	wizard  *payment.Wizard
	started bool
}

// NewTechnicianView returns an idle view. broadcaster may be nil when
// the device cannot share location.
func NewTechnicianView(cfg ViewConfig, backend payment.Backend, opts payment.Options, broadcaster *location.Broadcaster, onUpdate func(TechnicianState)) *TechnicianView {
	v := &TechnicianView{cfg: cfg, backend: backend, opts: opts, broadcaster: broadcaster, onUpdate: onUpdate}
	v.repair = NewRepairView(cfg.Feed, cfg.RepairID, cfg.Source.GetRepair, v.onRepair)
	v.repair.SetErrorHandler(cfg.OnError)
	v.chat = threadSync{cfg: cfg, thread: chat.NewThread(cfg.RepairID, cfg.Me, cfg.Sender, func([]chat.Entry) { v.emit() })}
	return v
}

// Start loads the repair and the chat and begins following the feed.
func (v *TechnicianView) Start(ctx context.Context) error {
	v.mu.Lock()
	v.ctx = ctx
	v.mu.Unlock()
	if err := v.repair.Start(ctx); err != nil {
		return err
	}
	if err := v.chat.start(ctx); err != nil {
		v.repair.Stop()
		return err
	}
	v.mu.Lock()
	v.started = true
	v.mu.Unlock()
	v.emit()
	return nil
}

// Stop unsubscribes and ends location sharing. The final clear of the
// location row still runs to completion.
func (v *TechnicianView) Stop() {
	v.repair.Stop()
	v.chat.stop()
	if v.broadcaster != nil {
		v.broadcaster.Close()
	}
}

// Thread exposes the chat for sending.
func (v *TechnicianView) Thread() *chat.Thread { return v.chat.thread }

// Wizard runs fn with the payment wizard while no feed update can
// interleave. It fails while the repair is not in progress.
func (v *TechnicianView) Wizard(fn func(w *payment.Wizard) error) error {
	v.mu.Lock()
	w := v.wizard
	if w == nil {
		v.mu.Unlock()
		return errors.Wrap(model.ErrTransitionRejected, "payment is only taken while the repair is in progress")
	}
	err := fn(w)
	v.mu.Unlock()
	v.emit()
	return err
}

// State assembles the current view.
func (v *TechnicianView) State() TechnicianState {
	st := TechnicianState{Messages: v.chat.thread.Entries()}
	st.Repair, st.Found = v.repair.Repair()
	v.mu.Lock()
	if v.wizard != nil {
		st.Step = v.wizard.Step()
	}
	v.mu.Unlock()
	if v.broadcaster != nil {
		st.Sharing = v.broadcaster.Sharing()
	}
	return st
}

func (v *TechnicianView) onRepair(r model.Repair, ok bool) {
	v.mu.Lock()
	ctx := v.ctx
	switch {
	case !ok, r.Status != model.StatusInProgress && r.Status != model.StatusComplete:
		v.wizard = nil
	case v.wizard != nil:
		v.wizard.Observe(r)
	case r.Status == model.StatusInProgress || r.Status == model.StatusComplete:
		v.wizard = payment.Resume(r, v.backend, v.opts)
	}
	v.mu.Unlock()

	if v.broadcaster != nil && ok && ctx != nil {
		if err := v.broadcaster.SetStatus(ctx, r.Status); err != nil {
			log.WithFields(log.Fields{"component": "syncview", "repair_id": r.ID}).
				WithError(err).Info("location sharing unavailable")
		}
	}
	v.emit()
}

func (v *TechnicianView) emit() {
	v.mu.Lock()
	started := v.started
	v.mu.Unlock()
	if !started || v.onUpdate == nil {
		return
	}
	v.onUpdate(v.State())
}

// QueueView is the technician's job list: assigned to me or unassigned
// and pending, refetched on any repairs event.
type QueueView struct {
	*ListView
}

// NewQueueView wraps fetch in a table-wide list view.
func NewQueueView(feed changefeed.Subscriber, fetch func(ctx context.Context) ([]model.Repair, error), onChange func([]model.Repair), onError func(error)) *QueueView {
	cfg := ListConfig{
		Feed:  feed,
		Table: TableRepairs,
		Fetch: func(ctx context.Context) ([]changefeed.Row, error) {
			repairs, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			rows := make([]changefeed.Row, 0, len(repairs))
			for _, r := range repairs {
				row, err := changefeed.RowOf(r)
				if err != nil {
					return nil, err
				}
				rows = append(rows, row)
			}
			return rows, nil
		},
		OnError: onError,
	}
	if onChange != nil {
		cfg.OnChange = func(rows []changefeed.Row) { onChange(decodeRepairs(rows)) }
	}
	return &QueueView{ListView: NewListView(cfg)}
}

// Repairs decodes the current projection.
func (v *QueueView) Repairs() []model.Repair {
	return decodeRepairs(v.Rows())
}

func decodeRepairs(rows []changefeed.Row) []model.Repair {
	out := make([]model.Repair, 0, len(rows))
	for _, row := range rows {
		if r, ok := decodeRepair(row); ok {
			out = append(out, r)
		}
	}
	return out
}
