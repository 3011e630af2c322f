package syncview

import (
	"context"

	"github.com/iliyamo/repair-sync/internal/changefeed"
	"github.com/iliyamo/repair-sync/internal/model"
)

// Table names published by the service.
const (
	TableRepairs   = "repairs"
	TableMessages  = "messages"
	TableLocations = "tech_locations"
)

// RepairFetcher loads one repair by id.
type RepairFetcher func(ctx context.Context, id string) (model.Repair, error)

// RepairView is a DetailView over one row of the repairs table that
// decodes into model.Repair.
type RepairView struct {
	*DetailView
}

// NewRepairView watches repairs.id = id. onChange receives the decoded
// repair, or ok=false when the row is gone.
func NewRepairView(feed changefeed.Subscriber, id string, fetch RepairFetcher, onChange func(r model.Repair, ok bool)) *RepairView {
	cfg := DetailConfig{
		Feed:  feed,
		Query: changefeed.Query{Table: TableRepairs, Filter: changefeed.Eq("id", id)},
		Fetch: func(ctx context.Context) (changefeed.Row, error) {
			r, err := fetch(ctx, id)
			if err != nil {
				return nil, err
			}
			return changefeed.RowOf(r)
		},
	}
	if onChange != nil {
		cfg.OnChange = func(row changefeed.Row) {
			r, ok := decodeRepair(row)
			onChange(r, ok)
		}
	}
	return &RepairView{DetailView: NewDetailView(cfg)}
}

// Repair decodes the current snapshot.
func (v *RepairView) Repair() (model.Repair, bool) {
	return decodeRepair(v.Snapshot())
}

func decodeRepair(row changefeed.Row) (model.Repair, bool) {
	if row == nil {
		return model.Repair{}, false
	}
	var r model.Repair
	if err := changefeed.DecodeRow(row, &r); err != nil {
		return model.Repair{}, false
	}
	return r, true
}
