package syncview

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/repair-sync/internal/changefeed"
	"github.com/iliyamo/repair-sync/internal/chat"
	"github.com/iliyamo/repair-sync/internal/model"
	"github.com/iliyamo/repair-sync/internal/payment"
)

const wait = time.Second

func TestMain(m *testing.M) {
	resyncBackoff = time.Millisecond
	maxResyncBackoff = 4 * time.Millisecond
	os.Exit(m.Run())
}

func tick() time.Duration { return 5 * time.Millisecond }

func ts(sec int) string {
	return time.Date(2026, 3, 1, 10, 0, sec, 0, time.UTC).Format(time.RFC3339Nano)
}

func TestMergeKeepsMissingFields(t *testing.T) {
	base := changefeed.Row{"id": "r1", "status": "CONFIRMED", "tip_cents": 0.0}
	out := Merge(base, changefeed.Row{"status": "SCHEDULED"})
	assert.Equal(t, changefeed.Row{"id": "r1", "status": "SCHEDULED", "tip_cents": 0.0}, out)
	assert.Equal(t, "CONFIRMED", base["status"], "base untouched")
	assert.True(t, sameValue(int64(5), 5.0))
}

func startDetail(t *testing.T, feed *changefeed.MemoryFeed, fetch RowFetcher) (*DetailView, *[]changefeed.Row) {
	t.Helper()
	var mu sync.Mutex
	var seen []changefeed.Row
	v := NewDetailView(DetailConfig{
		Feed:  feed,
		Query: changefeed.Query{Table: TableRepairs, Filter: changefeed.Eq("id", "r1")},
		Fetch: fetch,
		OnChange: func(r changefeed.Row) {
			mu.Lock()
			seen = append(seen, r)
			mu.Unlock()
		},
	})
	require.NoError(t, v.Start(context.Background()))
	t.Cleanup(v.Stop)
	return v, &seen
}

func TestDetailViewAppliesPartialUpdates(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	defer feed.Close()
	v, _ := startDetail(t, feed, func(context.Context) (changefeed.Row, error) {
		return changefeed.Row{"id": "r1", "status": "CONFIRMED", "address": "1 Main St", "updated_at": ts(1)}, nil
	})

	ctx := context.Background()
	require.NoError(t, feed.Publish(ctx, changefeed.Event{Table: TableRepairs, Op: changefeed.OpUpdate,
		Row: changefeed.Row{"id": "r1", "status": "SCHEDULED", "updated_at": ts(2)}}))
	require.Eventually(t, func() bool { return v.Snapshot()["status"] == "SCHEDULED" }, wait, tick())
	assert.Equal(t, "1 Main St", v.Snapshot()["address"])

	// stale events do not win
	require.NoError(t, feed.Publish(ctx, changefeed.Event{Table: TableRepairs, Op: changefeed.OpUpdate,
		Row: changefeed.Row{"id": "r1", "status": "CONFIRMED", "updated_at": ts(0)}}))
	require.NoError(t, feed.Publish(ctx, changefeed.Event{Table: TableRepairs, Op: changefeed.OpDelete,
		Row: changefeed.Row{"id": "r1"}}))
	require.Eventually(t, v.Deleted, wait, tick())
	assert.Nil(t, v.Snapshot())
}

func TestDetailViewOverlaySurvivesPushes(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	defer feed.Close()
	v, _ := startDetail(t, feed, func(context.Context) (changefeed.Row, error) {
		return changefeed.Row{"id": "r1", "status": "IN_PROGRESS", "tip_cents": 0.0}, nil
	})
	ctx := context.Background()

	rollback := v.Apply(changefeed.Row{"tip_cents": 1000})
	assert.Equal(t, 1000, v.Snapshot()["tip_cents"])

	// an unrelated push must not clobber the pending tip
	require.NoError(t, feed.Publish(ctx, changefeed.Event{Table: TableRepairs, Op: changefeed.OpUpdate,
		Row: changefeed.Row{"id": "r1", "tip_cents": 0.0, "payment_method": "cash"}}))
	require.Eventually(t, func() bool { return v.Snapshot()["payment_method"] == "cash" }, wait, tick())
	assert.Equal(t, 1000, v.Snapshot()["tip_cents"])

	rollback()
	assert.Equal(t, 0.0, v.Snapshot()["tip_cents"])

	// a confirmed edit drops out of the overlay
	v.Apply(changefeed.Row{"tip_cents": 500})
	require.NoError(t, feed.Publish(ctx, changefeed.Event{Table: TableRepairs, Op: changefeed.OpUpdate,
		Row: changefeed.Row{"id": "r1", "tip_cents": 500.0}}))
	require.Eventually(t, func() bool {
		v.mu.Lock()
		defer v.mu.Unlock()
		return len(v.pending) == 0
	}, wait, tick())
	assert.Equal(t, 500.0, v.Snapshot()["tip_cents"])
}

func TestDetailViewBuffersEventsDuringFetch(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	defer feed.Close()

	var v *DetailView
	fetch := func(ctx context.Context) (changefeed.Row, error) {
		// the update lands between subscribe and snapshot
		_ = feed.Publish(ctx, changefeed.Event{Table: TableRepairs, Op: changefeed.OpUpdate,
			Row: changefeed.Row{"id": "r1", "status": "CONFIRMED", "technician_id": 7.0, "updated_at": ts(2)}})
		assert.Eventually(t, func() bool {
			v.mu.Lock()
			defer v.mu.Unlock()
			return len(v.buffered) == 1
		}, wait, tick())
		return changefeed.Row{"id": "r1", "status": "PENDING", "technician_id": nil, "updated_at": ts(1)}, nil
	}
	v = NewDetailView(DetailConfig{
		Feed:  feed,
		Query: changefeed.Query{Table: TableRepairs, Filter: changefeed.Eq("id", "r1")},
		Fetch: fetch,
	})
	require.NoError(t, v.Start(context.Background()))
	defer v.Stop()

	assert.Equal(t, "CONFIRMED", v.Snapshot()["status"])
	assert.Equal(t, 7.0, v.Snapshot()["technician_id"])
}

func TestDetailViewResyncRefetches(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	defer feed.Close()
	var calls atomic.Int32
	v, _ := startDetail(t, feed, func(context.Context) (changefeed.Row, error) {
		n := calls.Add(1)
		if n == 1 {
			return changefeed.Row{"id": "r1", "status": "SCHEDULED"}, nil
		}
		return changefeed.Row{"id": "r1", "status": "EN_ROUTE"}, nil
	})

	feed.Disconnect()
	require.Eventually(t, func() bool { return v.Snapshot()["status"] == "EN_ROUTE" }, wait, tick())
	assert.Equal(t, int32(2), calls.Load())
}

func TestDetailViewRetriesFailedResync(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	defer feed.Close()
	var calls atomic.Int32
	v, _ := startDetail(t, feed, func(context.Context) (changefeed.Row, error) {
		switch calls.Add(1) {
		case 1:
			return changefeed.Row{"id": "r1", "status": "SCHEDULED"}, nil
		case 2:
			return nil, errors.New("connection reset")
		}
		return changefeed.Row{"id": "r1", "status": "EN_ROUTE"}, nil
	})

	feed.Disconnect()
	require.Eventually(t, func() bool { return v.Snapshot()["status"] == "EN_ROUTE" }, wait, tick())
	assert.Equal(t, int32(3), calls.Load())
}

func TestDetailViewReportsRepeatedFailures(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	defer feed.Close()

	var calls atomic.Int32
	reported := make(chan error, 4)
	v := NewDetailView(DetailConfig{
		Feed:  feed,
		Query: changefeed.Query{Table: TableRepairs},
		Fetch: func(context.Context) (changefeed.Row, error) {
			if calls.Add(1) == 1 {
				return changefeed.Row{"id": "r1"}, nil
			}
			return nil, errors.New("connection refused")
		},
		OnError: func(err error) { reported <- err },
	})
	require.NoError(t, v.Start(context.Background()))
	defer v.Stop()

	feed.Disconnect()
	select {
	case err := <-reported:
		assert.ErrorIs(t, err, model.ErrFeedDisconnected)
	case <-time.After(wait):
		t.Fatal("no error reported")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(1+MaxResyncFailures))

	// still retrying after the report, and reported only once
	n := calls.Load()
	require.Eventually(t, func() bool { return calls.Load() > n }, wait, tick())
	assert.Len(t, reported, 0)
	assert.Equal(t, "r1", v.Snapshot()["id"], "last good snapshot is kept")
}

func TestDetailViewStopEndsRetries(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	defer feed.Close()
	var calls atomic.Int32
	v, _ := startDetail(t, feed, func(context.Context) (changefeed.Row, error) {
		if calls.Add(1) == 1 {
			return changefeed.Row{"id": "r1", "status": "SCHEDULED"}, nil
		}
		return nil, errors.New("down")
	})

	feed.Disconnect()
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, wait, tick())
	v.Stop()
	time.Sleep(20 * maxResyncBackoff)
	n := calls.Load()
	time.Sleep(20 * maxResyncBackoff)
	assert.Equal(t, n, calls.Load())
}

func TestListViewRetriesFailedRefresh(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	defer feed.Close()

	var fetches atomic.Int32
	v := NewQueueView(feed, func(context.Context) ([]model.Repair, error) {
		switch fetches.Add(1) {
		case 1:
			return []model.Repair{{ID: "a", Status: model.StatusPending}}, nil
		case 2:
			return nil, errors.New("timeout")
		}
		return nil, nil
	}, nil, nil)
	require.NoError(t, v.Start(context.Background()))
	defer v.Stop()
	require.Len(t, v.Repairs(), 1)

	feed.Disconnect()
	require.Eventually(t, func() bool { return len(v.Repairs()) == 0 }, wait, tick())
	assert.Equal(t, int32(3), fetches.Load())
}

func TestListViewRefetchesOnAnyEvent(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	defer feed.Close()

	var mu sync.Mutex
	queue := []model.Repair{{ID: "a", Status: model.StatusPending}}
	var fetches atomic.Int32
	v := NewQueueView(feed, func(context.Context) ([]model.Repair, error) {
		fetches.Add(1)
		mu.Lock()
		defer mu.Unlock()
		return append([]model.Repair(nil), queue...), nil
	}, nil, nil)
	require.NoError(t, v.Start(context.Background()))
	defer v.Stop()
	require.Len(t, v.Repairs(), 1)

	// another technician claims "a": the row leaves my projection
	mu.Lock()
	queue = nil
	mu.Unlock()
	require.NoError(t, feed.Publish(context.Background(), changefeed.Event{Table: TableRepairs, Op: changefeed.OpUpdate,
		Row: changefeed.Row{"id": "a", "status": "CONFIRMED", "technician_id": 8.0}}))
	require.Eventually(t, func() bool { return len(v.Repairs()) == 0 }, wait, tick())
	assert.GreaterOrEqual(t, fetches.Load(), int32(2))
}

type fakeSource struct {
	mu       sync.Mutex
	repair   model.Repair
	messages []model.Message
	loc      *model.TechLocation
}

func (s *fakeSource) GetRepair(_ context.Context, id string) (model.Repair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repair.ID != id {
		return model.Repair{}, model.ErrNotFound
	}
	return s.repair, nil
}

func (s *fakeSource) ListMessages(context.Context, string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.messages...), nil
}

func (s *fakeSource) GetLocation(context.Context, string) (model.TechLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc == nil {
		return model.TechLocation{}, model.ErrNotFound
	}
	return *s.loc, nil
}

type nopSender struct{}

func (nopSender) SendMessage(_ context.Context, repairID, clientID, body string) (model.Message, error) {
	return model.Message{ID: 1, ClientID: clientID, RepairID: repairID, Body: body, CreatedAt: time.Now()}, nil
}

func publishRow(t *testing.T, feed *changefeed.MemoryFeed, table string, op changefeed.Op, v any) {
	t.Helper()
	row, err := changefeed.RowOf(v)
	require.NoError(t, err)
	require.NoError(t, feed.Publish(context.Background(), changefeed.Event{Table: table, Op: op, Row: row}))
}

func TestCustomerViewLocationAndETA(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	defer feed.Close()
	lat, lng := 52.53, 13.405
	tech := uint64(7)
	src := &fakeSource{repair: model.Repair{ID: "r1", CustomerID: 1, TechnicianID: &tech, Status: model.StatusEnRoute,
		AddressLat: &lat, AddressLng: &lng}}

	v := NewCustomerView(ViewConfig{
		Feed: feed, Source: src, Sender: nopSender{},
		Me:       chat.Participant{UserID: 1, Role: model.RoleCustomer},
		RepairID: "r1",
	}, nil)
	require.NoError(t, v.Start(context.Background()))
	defer v.Stop()
	assert.Nil(t, v.State().Location)

	publishRow(t, feed, TableLocations, changefeed.OpUpdate, model.TechLocation{
		RepairID: "r1", TechnicianID: 7, Lat: 52.52, Lng: 13.405, Speed: 10, UpdatedAt: time.Now().UTC(),
	})
	require.Eventually(t, func() bool { return v.State().ETA != nil }, wait, tick())
	st := v.State()
	assert.InDelta(t, 1113, st.ETA.DistanceMeters, 5)

	publishRow(t, feed, TableMessages, changefeed.OpInsert, model.Message{
		ID: 5, ClientID: "c5", RepairID: "r1", SenderID: 7, SenderRole: model.RoleTechnician, Body: "on my way", CreatedAt: time.Now().UTC(),
	})
	require.Eventually(t, func() bool { return len(v.State().Messages) == 1 }, wait, tick())
	assert.Equal(t, 1, v.Thread().Unread(nil))

	publishRow(t, feed, TableLocations, changefeed.OpDelete, map[string]any{"repair_id": "r1"})
	require.Eventually(t, func() bool { return v.State().Location == nil }, wait, tick())
}

type memBackend struct {
	mu     sync.Mutex
	fields model.PaymentFields
}

func (b *memBackend) SavePayment(_ context.Context, _ string, f model.PaymentFields) error {
	b.mu.Lock()
	b.fields = f
	b.mu.Unlock()
	return nil
}

func (b *memBackend) CreateLink(context.Context, payment.LinkRequest) (string, error) {
	return "https://pay.example/r1", nil
}

func (b *memBackend) StoreSignature(context.Context, string, []byte) (string, error) {
	return "sig", nil
}

func (b *memBackend) Finalize(context.Context, string, string) (model.Repair, error) {
	return model.Repair{}, errors.New("not used")
}

func TestTechnicianViewFeedsWizard(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	defer feed.Close()
	tech := uint64(7)
	r := model.Repair{ID: "r1", CustomerID: 1, TechnicianID: &tech, Status: model.StatusArrived, ServiceFeeCents: 9000}
	src := &fakeSource{repair: r}

	v := NewTechnicianView(ViewConfig{
		Feed: feed, Source: src, Sender: nopSender{},
		Me:       chat.Participant{UserID: 7, Role: model.RoleTechnician},
		RepairID: "r1",
	}, &memBackend{}, payment.Options{}, nil, nil)
	require.NoError(t, v.Start(context.Background()))
	defer v.Stop()

	err := v.Wizard(func(*payment.Wizard) error { return nil })
	assert.ErrorIs(t, err, model.ErrTransitionRejected)

	r.Status = model.StatusInProgress
	r.UpdatedAt = time.Now().UTC()
	publishRow(t, feed, TableRepairs, changefeed.OpUpdate, r)
	require.Eventually(t, func() bool { return v.State().Step == payment.StepTip }, wait, tick())

	require.NoError(t, v.Wizard(func(w *payment.Wizard) error {
		if err := w.SelectTip(context.Background(), 0); err != nil {
			return err
		}
		return w.SelectMethod(context.Background(), model.MethodLink)
	}))
	assert.Equal(t, payment.StepCapture, v.State().Step)

	// the provider webhook completes the payment server-side
	r.PaymentMethod = model.MethodLink
	r.PaymentStatus = model.PaymentCompleted
	r.UpdatedAt = r.UpdatedAt.Add(time.Second)
	publishRow(t, feed, TableRepairs, changefeed.OpUpdate, r)
	require.Eventually(t, func() bool { return v.State().Step == payment.StepSignature }, wait, tick())
}

func TestTechnicianViewDropsWizardOnCancel(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	defer feed.Close()
	tech := uint64(7)
	r := model.Repair{ID: "r1", CustomerID: 1, TechnicianID: &tech, Status: model.StatusInProgress, ServiceFeeCents: 9000}
	src := &fakeSource{repair: r}

	v := NewTechnicianView(ViewConfig{
		Feed: feed, Source: src, Sender: nopSender{},
		Me:       chat.Participant{UserID: 7, Role: model.RoleTechnician},
		RepairID: "r1",
	}, &memBackend{}, payment.Options{}, nil, nil)
	require.NoError(t, v.Start(context.Background()))
	defer v.Stop()
	require.Eventually(t, func() bool { return v.State().Step == payment.StepTip }, wait, tick())

	r.Status = model.StatusCancelled
	r.UpdatedAt = time.Now().UTC()
	publishRow(t, feed, TableRepairs, changefeed.OpUpdate, r)
	require.Eventually(t, func() bool { return v.State().Step == "" }, wait, tick())

	err := v.Wizard(func(w *payment.Wizard) error { return w.SelectTip(context.Background(), 0) })
	assert.ErrorIs(t, err, model.ErrTransitionRejected)
}
