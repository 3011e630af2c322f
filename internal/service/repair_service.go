package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/repair-sync/internal/changefeed"
	"github.com/iliyamo/repair-sync/internal/lifecycle"
	"github.com/iliyamo/repair-sync/internal/model"
	"github.com/iliyamo/repair-sync/internal/storage"
)

// BookingRequest is what a customer submits to create a repair.
type BookingRequest struct {
	DeviceBrand     string         `json:"device_brand"`
	DeviceModel     string         `json:"device_model"`
	Issues          model.IssueSet `json:"issues"`
	ScheduledDate   string         `json:"scheduled_date"` // YYYY-MM-DD
	TimeSlot        string         `json:"time_slot"`
	Address         string         `json:"address"`
	Lat             *float64       `json:"lat"`
	Lng             *float64       `json:"lng"`
	ServiceFeeCents int64          `json:"service_fee_cents"`
	LaborFeeCents   int64          `json:"labor_fee_cents"`
	PartsInStock    *bool          `json:"parts_in_stock"`
}

func (b BookingRequest) validate(now time.Time) (time.Time, error) {
	if strings.TrimSpace(b.DeviceBrand) == "" || strings.TrimSpace(b.DeviceModel) == "" {
		return time.Time{}, errors.Wrap(model.ErrInvalidInput, "device brand and model are required")
	}
	if len(b.Issues) == 0 {
		return time.Time{}, errors.Wrap(model.ErrInvalidInput, "at least one issue is required")
	}
	for _, is := range b.Issues {
		if strings.TrimSpace(is.Code) == "" || strings.TrimSpace(is.Tier) == "" {
			return time.Time{}, errors.Wrap(model.ErrInvalidInput, "every issue needs a code and a tier")
		}
	}
	day, err := time.Parse("2006-01-02", b.ScheduledDate)
	if err != nil {
		return time.Time{}, errors.Wrap(model.ErrInvalidInput, "scheduled_date must be YYYY-MM-DD")
	}
	if day.Before(now.UTC().Truncate(24 * time.Hour)) {
		return time.Time{}, errors.Wrap(model.ErrInvalidInput, "scheduled_date is in the past")
	}
	if strings.TrimSpace(b.TimeSlot) == "" || strings.TrimSpace(b.Address) == "" {
		return time.Time{}, errors.Wrap(model.ErrInvalidInput, "time_slot and address are required")
	}
	if (b.Lat == nil) != (b.Lng == nil) {
		return time.Time{}, errors.Wrap(model.ErrInvalidInput, "lat and lng go together")
	}
	if b.Lat != nil && (*b.Lat < -90 || *b.Lat > 90 || *b.Lng < -180 || *b.Lng > 180) {
		return time.Time{}, errors.Wrap(model.ErrInvalidInput, "coordinates out of range")
	}
	if b.ServiceFeeCents < 0 || b.LaborFeeCents < 0 {
		return time.Time{}, errors.Wrap(model.ErrInvalidInput, "fees must not be negative")
	}
	return day, nil
}

// RepairService runs the status machine against the store.
type RepairService struct {
	repairs RepairStore
	blobs   storage.BlobStore
	events  events
	now     func() time.Time
}

func NewRepairService(repairs RepairStore, feed Publisher, blobs storage.BlobStore) *RepairService {
	return &RepairService{
		repairs: repairs,
		blobs:   blobs,
		events:  events{feed: feed},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Book creates a PENDING repair for the customer.
func (s *RepairService) Book(ctx context.Context, actor lifecycle.Actor, req BookingRequest) (model.Repair, error) {
	if actor.Role != model.RoleCustomer {
		return model.Repair{}, errors.Wrap(model.ErrForbidden, "only customers book repairs")
	}
	day, err := req.validate(s.now())
	if err != nil {
		return model.Repair{}, err
	}
	r, err := s.repairs.Create(ctx, model.Repair{
		ID:              uuid.NewString(),
		CustomerID:      actor.UserID,
		DeviceBrand:     strings.TrimSpace(req.DeviceBrand),
		DeviceModel:     strings.TrimSpace(req.DeviceModel),
		Issues:          req.Issues,
		ScheduledDate:   day,
		TimeSlot:        strings.TrimSpace(req.TimeSlot),
		Address:         strings.TrimSpace(req.Address),
		AddressLat:      req.Lat,
		AddressLng:      req.Lng,
		ServiceFeeCents: req.ServiceFeeCents,
		LaborFeeCents:   req.LaborFeeCents,
		TotalCents:      req.ServiceFeeCents + req.LaborFeeCents,
		Status:          model.StatusPending,
		PartsInStock:    req.PartsInStock,
	})
	if err != nil {
		return model.Repair{}, err
	}
	s.events.publish(ctx, TableRepairs, changefeed.OpInsert, r)
	return r, nil
}

// Get returns the repair when actor may see it.
func (s *RepairService) Get(ctx context.Context, actor lifecycle.Actor, id string) (model.Repair, error) {
	r, err := s.repairs.Get(ctx, id)
	if err != nil {
		return model.Repair{}, err
	}
	if !lifecycle.CanView(r, actor) {
		return model.Repair{}, errors.Wrap(model.ErrForbidden, "repair belongs to someone else")
	}
	return r, nil
}

// List returns the customer's repairs or the technician's queue.
func (s *RepairService) List(ctx context.Context, actor lifecycle.Actor) ([]model.Repair, error) {
	if actor.Role == model.RoleTechnician {
		return s.repairs.ListQueue(ctx, actor.UserID)
	}
	return s.repairs.ListByCustomer(ctx, actor.UserID)
}

// Claim assigns a pending repair to the technician. Exactly one of two
// racing technicians wins; the other gets ErrTransitionRejected.
func (s *RepairService) Claim(ctx context.Context, actor lifecycle.Actor, id string) (model.Repair, error) {
	r, err := s.repairs.Get(ctx, id)
	if err != nil {
		return model.Repair{}, err
	}
	if _, err := lifecycle.Plan(r, actor, lifecycle.ActionClaim); err != nil {
		return model.Repair{}, err
	}
	r, err = s.repairs.Claim(ctx, id, actor.UserID)
	if err != nil {
		return model.Repair{}, err
	}
	s.logger(r.ID).WithField("technician_id", actor.UserID).Info("repair claimed")
	s.events.repair(ctx, r)
	return r, nil
}

// Advance moves the repair one step along its effective sequence.
func (s *RepairService) Advance(ctx context.Context, actor lifecycle.Actor, id string) (model.Repair, error) {
	return s.apply(ctx, actor, id, lifecycle.ActionAdvance)
}

// Cancel moves the repair to CANCELLED.
func (s *RepairService) Cancel(ctx context.Context, actor lifecycle.Actor, id string) (model.Repair, error) {
	return s.apply(ctx, actor, id, lifecycle.ActionCancel)
}

func (s *RepairService) apply(ctx context.Context, actor lifecycle.Actor, id string, action lifecycle.Action) (model.Repair, error) {
	r, err := s.repairs.Get(ctx, id)
	if err != nil {
		return model.Repair{}, err
	}
	t, err := lifecycle.Plan(r, actor, action)
	if err != nil {
		return model.Repair{}, err
	}
	r, err = s.repairs.Transition(ctx, id, t.From, t.To)
	if err != nil {
		return model.Repair{}, err
	}
	s.logger(id).WithFields(log.Fields{"action": action, "from": t.From, "to": t.To}).Info("repair transitioned")
	s.events.repair(ctx, r)
	if t.Has(lifecycle.EffectStopLocation) {
		s.events.locationGone(ctx, id)
	}
	return r, nil
}

// RecordIntakeSignature stores the customer's intake signature while the
// technician is on site. Work cannot start without it.
func (s *RepairService) RecordIntakeSignature(ctx context.Context, actor lifecycle.Actor, id string, image []byte) (model.Repair, error) {
	r, err := s.repairs.Get(ctx, id)
	if err != nil {
		return model.Repair{}, err
	}
	if actor.Role != model.RoleTechnician || !r.AssignedTo(actor.UserID) {
		return model.Repair{}, errors.Wrap(model.ErrForbidden, "only the assigned technician records signatures")
	}
	if r.Status != model.StatusArrived {
		return model.Repair{}, errors.Wrapf(model.ErrTransitionRejected, "intake signature while %s", r.Status)
	}
	ref, err := storage.SaveSignature(ctx, s.blobs, id, storage.SignatureIntake, image)
	if err != nil {
		return model.Repair{}, err
	}
	r, err = s.repairs.SetIntakeSignature(ctx, id, ref)
	if err != nil {
		return model.Repair{}, err
	}
	s.events.repair(ctx, r)
	return r, nil
}

func (s *RepairService) logger(id string) *log.Entry {
	return log.WithFields(log.Fields{"component": "repair", "repair_id": id})
}
