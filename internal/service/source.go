package service

import (
	"context"

	"github.com/iliyamo/repair-sync/internal/lifecycle"
	"github.com/iliyamo/repair-sync/internal/model"
)

// Source reads through the services as one actor. It satisfies the
// client views' snapshot source for in-process use.
type Source struct {
	Actor     lifecycle.Actor
	Repairs   *RepairService
	Messages  *MessageService
	Locations *LocationService
}

func (s Source) GetRepair(ctx context.Context, id string) (model.Repair, error) {
	return s.Repairs.Get(ctx, s.Actor, id)
}

func (s Source) ListMessages(ctx context.Context, repairID string) ([]model.Message, error) {
	return s.Messages.List(ctx, s.Actor, repairID)
}

func (s Source) GetLocation(ctx context.Context, repairID string) (model.TechLocation, error) {
	return s.Locations.Get(ctx, s.Actor, repairID)
}

func (s Source) ListQueue(ctx context.Context) ([]model.Repair, error) {
	return s.Repairs.List(ctx, s.Actor)
}
