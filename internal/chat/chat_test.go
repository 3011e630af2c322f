package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/repair-sync/internal/changefeed"
	"github.com/iliyamo/repair-sync/internal/model"
)

type fakeSender struct {
	mu     sync.Mutex
	nextID uint64
	fail   error
	seen   []string
	// block, when set, is waited on before the send returns.
	block chan struct{}
}

func (f *fakeSender) SendMessage(_ context.Context, repairID, clientID, body string) (model.Message, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, clientID)
	if f.fail != nil {
		return model.Message{}, f.fail
	}
	f.nextID++
	return model.Message{
		ID:         f.nextID,
		ClientID:   clientID,
		RepairID:   repairID,
		SenderID:   1,
		SenderRole: model.RoleCustomer,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

var me = Participant{UserID: 1, Role: model.RoleCustomer}

func TestSendThenEchoShowsOnce(t *testing.T) {
	sender := &fakeSender{}
	th := NewThread("r-1", me, sender, nil)

	restore, err := th.Send(context.Background(), "  is 3pm ok?  ")
	require.NoError(t, err)
	assert.Empty(t, restore)

	entries := th.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].IsPending())
	assert.Equal(t, "is 3pm ok?", entries[0].Message.Body)

	// The feed echo of the same row arrives afterwards.
	row, err := changefeed.RowOf(entries[0].Message)
	require.NoError(t, err)
	th.HandleEvent(changefeed.Event{Table: "messages", Op: changefeed.OpInsert, Row: row})

	assert.Len(t, th.Entries(), 1)
}

func TestEchoBeforeResponseReplacesPending(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{})}
	var mu sync.Mutex
	var states [][]Entry
	th := NewThread("r-1", me, sender, func(es []Entry) {
		mu.Lock()
		states = append(states, es)
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() {
		_, err := th.Send(context.Background(), "hello")
		done <- err
	}()

	require.Eventually(t, func() bool { return len(th.Entries()) == 1 }, time.Second, time.Millisecond)
	pending := th.Entries()[0]
	require.True(t, pending.IsPending())

	// The echo wins the race against the HTTP response.
	th.Receive(model.Message{ID: 41, ClientID: pending.Message.ClientID, RepairID: "r-1", SenderRole: model.RoleCustomer, Body: "hello", CreatedAt: time.Now().UTC()})
	assert.Len(t, th.Entries(), 1)
	assert.Equal(t, Confirmed{ServerID: 41}, th.Entries()[0].Delivery)

	close(sender.block)
	require.NoError(t, <-done)
	assert.Len(t, th.Entries(), 1)
}

func TestSendFailureRollsBack(t *testing.T) {
	sender := &fakeSender{fail: errors.New("db down")}
	th := NewThread("r-1", me, sender, nil)

	restore, err := th.Send(context.Background(), "on my way")
	assert.ErrorIs(t, err, model.ErrPersistenceFailed)
	assert.Equal(t, "on my way", restore)
	assert.Empty(t, th.Entries())
}

func TestSendFailureAfterEchoKeepsMessage(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{}), fail: context.DeadlineExceeded}
	th := NewThread("r-1", me, sender, nil)

	type result struct {
		restore string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		restore, err := th.Send(context.Background(), "hello")
		done <- result{restore, err}
	}()

	require.Eventually(t, func() bool { return len(th.Entries()) == 1 }, time.Second, time.Millisecond)
	pending := th.Entries()[0]

	// the row was stored and echoed, but the response timed out
	th.Receive(model.Message{ID: 7, ClientID: pending.Message.ClientID, RepairID: "r-1", SenderRole: model.RoleCustomer, Body: "hello", CreatedAt: time.Now().UTC()})
	close(sender.block)

	res := <-done
	require.NoError(t, res.err)
	assert.Empty(t, res.restore)
	entries := th.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, Confirmed{ServerID: 7}, entries[0].Delivery)
}

func TestSendRejectsInvalidBody(t *testing.T) {
	sender := &fakeSender{}
	th := NewThread("r-1", me, sender, nil)

	_, err := th.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = th.Send(context.Background(), strings.Repeat("x", model.MaxMessageRunes+1))
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	assert.Empty(t, sender.seen)
	assert.Empty(t, th.Entries())
}

func TestValidateBodyCountsRunes(t *testing.T) {
	body := strings.Repeat("é", model.MaxMessageRunes)
	got, err := ValidateBody(body)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestRenderEscapes(t *testing.T) {
	assert.Equal(t, "&lt;script&gt;alert(1)&lt;/script&gt;", Render("<script>alert(1)</script>"))
	assert.Equal(t, "Tom &amp; Jerry&#39;s", Render("Tom & Jerry's"))
}

func TestUnreadCount(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	techMsg := func(id uint64, at time.Time) model.Message {
		return model.Message{ID: id, RepairID: "r-1", SenderRole: model.RoleTechnician, CreatedAt: at}
	}
	msgs := []model.Message{
		techMsg(1, base),
		techMsg(2, base.Add(time.Minute)),
		techMsg(3, base.Add(2*time.Minute)),
		{ID: 4, RepairID: "r-1", SenderRole: model.RoleCustomer, CreatedAt: base.Add(3 * time.Minute)},
	}

	assert.Equal(t, 3, CountUnread(msgs, model.RoleCustomer, nil), "no cursor")

	readAt := base.Add(5 * time.Minute)
	msgs = append(msgs, techMsg(5, readAt.Add(time.Second)))
	assert.Equal(t, 1, CountUnread(msgs, model.RoleCustomer, &readAt))

	// The technician's cursor is independent of the customer's.
	assert.Equal(t, 1, CountUnread(msgs, model.RoleTechnician, nil))

	// Strictly after: a message at the cursor instant is read.
	atCursor := []model.Message{techMsg(6, readAt)}
	assert.Equal(t, 0, CountUnread(atCursor, model.RoleCustomer, &readAt))
}

func TestThreadLoadKeepsPending(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{})}
	th := NewThread("r-1", me, sender, nil)
	go func() { _, _ = th.Send(context.Background(), "pending one") }()
	require.Eventually(t, func() bool { return len(th.Entries()) == 1 }, time.Second, time.Millisecond)

	th.Load([]model.Message{{ID: 9, ClientID: "other", RepairID: "r-1", SenderRole: model.RoleTechnician, Body: "hi", CreatedAt: time.Now().UTC().Add(-time.Minute)}})
	entries := th.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(9), entries[0].Message.ID)
	assert.True(t, entries[1].IsPending())
	assert.Equal(t, 1, th.Unread(nil))

	close(sender.block)
}
