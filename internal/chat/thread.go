package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/changefeed"
	"github.com/iliyamo/repair-sync/internal/model"
)

// Delivery is the state of one thread entry: Pending until the store
// acknowledges it, then Confirmed with the server id.
type Delivery interface {
	delivery()
}

// Pending is a locally inserted message not yet acknowledged.
type Pending struct {
	LocalID string
}

// Confirmed is a message the store has persisted.
type Confirmed struct {
	ServerID uint64
}

func (Pending) delivery()   {}
func (Confirmed) delivery() {}

// Entry is one message in the thread.
type Entry struct {
	Message  model.Message
	Delivery Delivery
}

// IsPending reports whether the entry awaits acknowledgement.
func (e Entry) IsPending() bool {
	_, ok := e.Delivery.(Pending)
	return ok
}

// Sender persists a message. clientID must be stored with the row so
// the feed echo can be matched to the optimistic entry.
type Sender interface {
	SendMessage(ctx context.Context, repairID, clientID, body string) (model.Message, error)
}

// Participant identifies the local user of a thread.
type Participant struct {
	UserID uint64
	Role   model.Role
}

// Thread is one participant's view of a repair conversation.
type Thread struct {
	repairID string
	me       Participant
	sender   Sender
	now      func() time.Time

	mu       sync.Mutex
	entries  []Entry
	onChange func([]Entry)
}

// NewThread returns an empty thread. onChange, when set, receives a
// copy of the entries after every mutation.
func NewThread(repairID string, me Participant, sender Sender, onChange func([]Entry)) *Thread {
	return &Thread{
		repairID: repairID,
		me:       me,
		sender:   sender,
		now:      func() time.Time { return time.Now().UTC() },
		onChange: onChange,
	}
}

// Send validates body, shows it immediately as pending and persists it.
// On failure the pending entry is removed and the original body is
// returned so the compose input can be restored. If the feed echo
// confirmed the entry before the failure surfaced, the row was saved
// and Send reports success.
func (t *Thread) Send(ctx context.Context, body string) (restore string, err error) {
	clean, err := ValidateBody(body)
	if err != nil {
		return body, err
	}
	localID := uuid.NewString()
	t.mutate(func() {
		t.entries = append(t.entries, Entry{
			Message: model.Message{
				ClientID:   localID,
				RepairID:   t.repairID,
				SenderID:   t.me.UserID,
				SenderRole: t.me.Role,
				Body:       clean,
				CreatedAt:  t.now(),
			},
			Delivery: Pending{LocalID: localID},
		})
	})

	saved, err := t.sender.SendMessage(ctx, t.repairID, localID, clean)
	if err != nil {
		saved := false
		t.mutate(func() {
			i := t.indexLocked(model.Message{ClientID: localID})
			if i >= 0 && !t.entries[i].IsPending() {
				saved = true
				return
			}
			t.removeLocked(localID)
		})
		if saved {
			return "", nil
		}
		return body, errors.Wrapf(model.ErrPersistenceFailed, "send message: %v", err)
	}
	t.Receive(saved)
	return "", nil
}

// Receive merges a persisted message, from the sender's response or the
// feed. An entry with the same client id or server id is replaced, so an
// echo never shows twice.
func (t *Thread) Receive(m model.Message) {
	if m.RepairID != "" && m.RepairID != t.repairID {
		return
	}
	t.mutate(func() {
		e := Entry{Message: m, Delivery: Confirmed{ServerID: m.ID}}
		if i := t.indexLocked(m); i >= 0 {
			t.entries[i] = e
		} else {
			t.entries = append(t.entries, e)
		}
		t.sortLocked()
	})
}

// HandleEvent is a changefeed.Handler for the messages table.
func (t *Thread) HandleEvent(ev changefeed.Event) {
	if ev.Op != changefeed.OpInsert && ev.Op != changefeed.OpUpdate {
		return
	}
	var m model.Message
	if err := ev.Decode(&m); err != nil {
		return
	}
	t.Receive(m)
}

// Load replaces confirmed entries with a fetched history and keeps the
// local pending ones that the history does not contain yet.
func (t *Thread) Load(history []model.Message) {
	t.mutate(func() {
		pending := make([]Entry, 0)
		for _, e := range t.entries {
			if e.IsPending() {
				pending = append(pending, e)
			}
		}
		t.entries = t.entries[:0]
		for _, m := range history {
			t.entries = append(t.entries, Entry{Message: m, Delivery: Confirmed{ServerID: m.ID}})
		}
		for _, p := range pending {
			if t.indexLocked(p.Message) < 0 {
				t.entries = append(t.entries, p)
			}
		}
		t.sortLocked()
	})
}

// Entries returns a copy of the thread in display order.
func (t *Thread) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyLocked()
}

// Unread counts the other party's messages after lastReadAt.
func (t *Thread) Unread(lastReadAt *time.Time) int {
	t.mu.Lock()
	msgs := make([]model.Message, 0, len(t.entries))
	for _, e := range t.entries {
		if !e.IsPending() {
			msgs = append(msgs, e.Message)
		}
	}
	t.mu.Unlock()
	return CountUnread(msgs, t.me.Role, lastReadAt)
}

func (t *Thread) indexLocked(m model.Message) int {
	for i, e := range t.entries {
		if m.ClientID != "" && e.Message.ClientID == m.ClientID {
			return i
		}
		if m.ID != 0 && e.Message.ID == m.ID {
			return i
		}
	}
	return -1
}

func (t *Thread) removeLocked(clientID string) {
	for i, e := range t.entries {
		if e.Message.ClientID == clientID {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// sortLocked orders by creation time, keeping arrival order for ties.
func (t *Thread) sortLocked() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].Message.CreatedAt.Before(t.entries[j].Message.CreatedAt)
	})
}

func (t *Thread) copyLocked() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Thread) mutate(fn func()) {
	t.mu.Lock()
	fn()
	snapshot := t.copyLocked()
	cb := t.onChange
	t.mu.Unlock()
	if cb != nil {
		cb(snapshot)
	}
}
