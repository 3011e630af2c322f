// Package testutil provides in-memory stores and fakes with the same
// conditional-write semantics as the MySQL repositories.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/model"
)

// Store implements the service store interfaces in memory. One mutex
// stands in for the row locks MySQL takes on a conditional UPDATE.
type Store struct {
	mu        sync.Mutex
	now       func() time.Time
	repairs   map[string]model.Repair
	messages  []model.Message
	cursors   map[string]time.Time
	locations map[string]model.TechLocation
	users     map[uint64]model.User

	// FailWrites makes every write return an error.
	FailWrites bool
}

func NewStore() *Store {
	return &Store{
		now:       func() time.Time { return time.Now().UTC() },
		repairs:   map[string]model.Repair{},
		cursors:   map[string]time.Time{},
		locations: map[string]model.TechLocation{},
		users:     map[uint64]model.User{},
	}
}

var errWrite = errors.New("testutil: write failed")

func rejected(format string, args ...any) error {
	return errors.Wrapf(model.ErrTransitionRejected, format, args...)
}

// AddUser seeds a user for lookups.
func (s *Store) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Put seeds or overwrites a repair as is.
func (s *Store) Put(r model.Repair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repairs[r.ID] = r
}

func (s *Store) Create(_ context.Context, r model.Repair) (model.Repair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return model.Repair{}, errWrite
	}
	r.CreatedAt, r.UpdatedAt = s.now(), s.now()
	s.repairs[r.ID] = r
	return r, nil
}

func (s *Store) Get(_ context.Context, id string) (model.Repair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repairs[id]
	if !ok {
		return model.Repair{}, errors.Wrap(model.ErrNotFound, "get repair")
	}
	return r, nil
}

func (s *Store) list(keep func(model.Repair) bool) []model.Repair {
	out := []model.Repair{}
	for _, r := range s.repairs {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) ListByCustomer(_ context.Context, customerID uint64) ([]model.Repair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(r model.Repair) bool { return r.CustomerID == customerID }), nil
}

func (s *Store) ListQueue(_ context.Context, technicianID uint64) ([]model.Repair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(r model.Repair) bool {
		return r.AssignedTo(technicianID) || (r.TechnicianID == nil && r.Status == model.StatusPending)
	}), nil
}

// update applies fn to the repair under the lock when cond holds.
func (s *Store) update(id string, cond func(model.Repair) bool, fn func(*model.Repair), format string, args ...any) (model.Repair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return model.Repair{}, errWrite
	}
	r, ok := s.repairs[id]
	if !ok || !cond(r) {
		return model.Repair{}, rejected(format, args...)
	}
	fn(&r)
	r.UpdatedAt = s.now()
	s.repairs[id] = r
	return r, nil
}

func (s *Store) Claim(_ context.Context, id string, technicianID uint64) (model.Repair, error) {
	return s.update(id,
		func(r model.Repair) bool { return r.TechnicianID == nil && r.Status == model.StatusPending },
		func(r *model.Repair) {
			tech := technicianID
			r.TechnicianID = &tech
			r.Status = model.StatusConfirmed
		}, "repair %s already claimed", id)
}

func (s *Store) Transition(_ context.Context, id string, from, to model.RepairStatus) (model.Repair, error) {
	return s.update(id,
		func(r model.Repair) bool { return r.Status == from },
		func(r *model.Repair) {
			r.Status = to
			if from == model.StatusEnRoute {
				delete(s.locations, id)
			}
		}, "repair %s is no longer %s", id, from)
}

func (s *Store) SetIntakeSignature(_ context.Context, id, ref string) (model.Repair, error) {
	return s.update(id,
		func(r model.Repair) bool { return r.Status == model.StatusArrived },
		func(r *model.Repair) { r.IntakeSignatureRef = &ref },
		"repair %s is not ARRIVED", id)
}

func (s *Store) SavePayment(_ context.Context, id string, f model.PaymentFields) (model.Repair, error) {
	return s.update(id,
		func(r model.Repair) bool {
			return r.Status == model.StatusInProgress && r.PaymentStatus != model.PaymentCompleted
		},
		func(r *model.Repair) {
			r.TipCents, r.PaymentMethod, r.PaymentStatus = f.TipCents, f.Method, f.Status
			r.CashReceivedCents, r.CashPortionCents, r.CardChargeCents = f.CashReceivedCents, f.CashPortionCents, f.CardChargeCents
			r.PaidAt = nil
			if f.Status == model.PaymentCompleted {
				now := s.now()
				r.PaidAt = &now
			}
		}, "payment of repair %s cannot change", id)
}

func (s *Store) MarkLinkPaid(_ context.Context, id string, amountCents int64) (model.Repair, error) {
	return s.update(id,
		func(r model.Repair) bool {
			return r.Status == model.StatusInProgress && r.PaymentStatus != model.PaymentCompleted &&
				(r.PaymentMethod == model.MethodLink || r.PaymentMethod == model.MethodSplit) &&
				r.CardAmountCents() == amountCents
		},
		func(r *model.Repair) {
			now := s.now()
			r.PaymentStatus, r.PaidAt = model.PaymentCompleted, &now
		}, "repair %s is not awaiting a link payment", id)
}

func (s *Store) Complete(_ context.Context, id string, technicianID uint64, ref string) (model.Repair, error) {
	return s.update(id,
		func(r model.Repair) bool {
			return r.AssignedTo(technicianID) && r.Status == model.StatusInProgress && r.PaymentStatus == model.PaymentCompleted
		},
		func(r *model.Repair) {
			r.Status = model.StatusComplete
			r.CompletionSignatureRef = &ref
		}, "repair %s cannot complete", id)
}

// Messages

func (s *Store) Messages() MessageStore { return MessageStore{s} }

// MessageStore is the message half of Store; Go does not allow two
// Create methods on one type.
type MessageStore struct{ s *Store }

func (m MessageStore) Create(_ context.Context, msg model.Message) (model.Message, bool, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return model.Message{}, false, errWrite
	}
	for _, existing := range s.messages {
		if existing.ClientID == msg.ClientID {
			if existing.RepairID != msg.RepairID || existing.SenderID != msg.SenderID {
				return model.Message{}, false, errors.Wrapf(model.ErrInvalidInput, "client id %q is taken", msg.ClientID)
			}
			return existing, false, nil
		}
	}
	msg.ID = uint64(len(s.messages) + 1)
	s.messages = append(s.messages, msg)
	return msg, true, nil
}

func (m MessageStore) ListByRepair(_ context.Context, repairID string) ([]model.Message, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Message{}
	for _, msg := range s.messages {
		if msg.RepairID == repairID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func cursorKey(repairID string, userID uint64) string {
	return fmt.Sprintf("%s/%d", repairID, userID)
}

func (m MessageStore) MarkRead(_ context.Context, repairID string, userID uint64, at time.Time) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[cursorKey(repairID, userID)] = at
	return nil
}

func (m MessageStore) LastRead(_ context.Context, repairID string, userID uint64) (*time.Time, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.cursors[cursorKey(repairID, userID)]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

func (m MessageStore) CountUnread(ctx context.Context, repairID string, userID uint64, viewer model.Role) (int, error) {
	cursor, _ := m.LastRead(ctx, repairID, userID)
	msgs, _ := m.ListByRepair(ctx, repairID)
	n := 0
	for _, msg := range msgs {
		if msg.SenderRole != viewer && (cursor == nil || msg.CreatedAt.After(*cursor)) {
			n++
		}
	}
	return n, nil
}

// Locations

func (s *Store) Locations() LocationStore { return LocationStore{s} }

// LocationStore is the tech_locations half of Store.
type LocationStore struct{ s *Store }

func (l LocationStore) Upsert(_ context.Context, loc model.TechLocation) error {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return errWrite
	}
	r, ok := s.repairs[loc.RepairID]
	if !ok || r.Status != model.StatusEnRoute || !r.AssignedTo(loc.TechnicianID) {
		return rejected("repair %s is not en route for technician %d", loc.RepairID, loc.TechnicianID)
	}
	s.locations[loc.RepairID] = loc
	return nil
}

func (l LocationStore) Get(_ context.Context, repairID string) (model.TechLocation, error) {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[repairID]
	if !ok {
		return model.TechLocation{}, errors.Wrap(model.ErrNotFound, "get location")
	}
	return loc, nil
}

func (l LocationStore) Delete(_ context.Context, repairID string) (bool, error) {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.locations[repairID]
	delete(s.locations, repairID)
	return ok, nil
}

// Users

func (s *Store) GetByID(_ context.Context, id uint64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, errors.Wrap(model.ErrNotFound, "get user")
	}
	return u, nil
}
