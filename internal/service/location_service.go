package service

import (
	"context"

	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/changefeed"
	"github.com/iliyamo/repair-sync/internal/lifecycle"
	"github.com/iliyamo/repair-sync/internal/location"
	"github.com/iliyamo/repair-sync/internal/model"
)

// LocationService stores the technician's live position.
type LocationService struct {
	repairs   RepairStore
	locations LocationStore
	events    events
}

func NewLocationService(repairs RepairStore, locations LocationStore, feed Publisher) *LocationService {
	return &LocationService{repairs: repairs, locations: locations, events: events{feed: feed}}
}

// Push overwrites the live row. The store refuses the write unless the
// repair is EN_ROUTE and assigned to the caller.
func (s *LocationService) Push(ctx context.Context, actor lifecycle.Actor, repairID string, sm location.Sample) (model.TechLocation, error) {
	if actor.Role != model.RoleTechnician {
		return model.TechLocation{}, errors.Wrap(model.ErrForbidden, "only technicians share location")
	}
	if err := sm.Validate(); err != nil {
		return model.TechLocation{}, err
	}
	row := sm.Row(repairID, actor.UserID)
	if err := s.locations.Upsert(ctx, row); err != nil {
		return model.TechLocation{}, err
	}
	s.events.publish(ctx, TableLocations, changefeed.OpUpdate, row)
	return row, nil
}

// Get returns the live row for a party of the repair.
func (s *LocationService) Get(ctx context.Context, actor lifecycle.Actor, repairID string) (model.TechLocation, error) {
	r, err := s.repairs.Get(ctx, repairID)
	if err != nil {
		return model.TechLocation{}, err
	}
	if !lifecycle.IsParty(r, actor) {
		return model.TechLocation{}, errors.Wrap(model.ErrForbidden, "not a party to this repair")
	}
	if r.Status != model.StatusEnRoute {
		return model.TechLocation{}, errors.Wrap(model.ErrNotFound, "repair is not en route")
	}
	return s.locations.Get(ctx, repairID)
}

// Estimate returns distance and ETA to the repair address.
func (s *LocationService) Estimate(ctx context.Context, actor lifecycle.Actor, repairID string) (location.Estimate, error) {
	l, err := s.Get(ctx, actor, repairID)
	if err != nil {
		return location.Estimate{}, err
	}
	r, err := s.repairs.Get(ctx, repairID)
	if err != nil {
		return location.Estimate{}, err
	}
	if r.AddressLat == nil || r.AddressLng == nil {
		return location.Estimate{}, errors.Wrap(model.ErrNotFound, "repair address has no coordinates")
	}
	return location.EstimateArrival(
		location.Point(l.Lat, l.Lng),
		location.Point(*r.AddressLat, *r.AddressLng),
		l.Speed,
	), nil
}

// Clear removes the live row when the technician stops sharing.
func (s *LocationService) Clear(ctx context.Context, actor lifecycle.Actor, repairID string) error {
	r, err := s.repairs.Get(ctx, repairID)
	if err != nil {
		return err
	}
	if actor.Role != model.RoleTechnician || !r.AssignedTo(actor.UserID) {
		return errors.Wrap(model.ErrForbidden, "only the assigned technician stops sharing")
	}
	deleted, err := s.locations.Delete(ctx, repairID)
	if err != nil {
		return err
	}
	if deleted {
		s.events.locationGone(ctx, repairID)
	}
	return nil
}

// SinkFor adapts the service to location.Sink for an in-process
// publisher.
func (s *LocationService) SinkFor(actor lifecycle.Actor) location.Sink {
	return locationSink{svc: s, actor: actor}
}

type locationSink struct {
	svc   *LocationService
	actor lifecycle.Actor
}

func (l locationSink) Push(ctx context.Context, repairID string, sm location.Sample) error {
	_, err := l.svc.Push(ctx, l.actor, repairID, sm)
	return err
}

func (l locationSink) Clear(ctx context.Context, repairID string) error {
	return l.svc.Clear(ctx, l.actor, repairID)
}
