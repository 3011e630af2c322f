package service

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/repair-sync/internal/changefeed"
	"github.com/iliyamo/repair-sync/internal/model"
)

// Table names on the change feed.
const (
	TableRepairs   = "repairs"
	TableMessages  = "messages"
	TableLocations = "tech_locations"
)

// publishTimeout bounds a post-commit publish. The write already
// happened, so a slow feed must not hold the request.
const publishTimeout = 2 * time.Second

// Publisher is the write side of the change feed.
type Publisher = changefeed.Publisher

// events publishes post-commit changes. A nil feed publishes nothing.
type events struct {
	feed Publisher
}

func (e events) publish(ctx context.Context, table string, op changefeed.Op, v any) {
	if e.feed == nil {
		return
	}
	logger := log.WithFields(log.Fields{"component": "changefeed", "table": table, "op": op})
	row, err := changefeed.RowOf(v)
	if err != nil {
		logger.WithError(err).Error("encode row")
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.feed.Publish(pctx, changefeed.Event{Table: table, Op: op, Row: row, At: time.Now().UTC()}); err != nil {
		logger.WithError(err).Warn("publish failed")
	}
}

func (e events) repair(ctx context.Context, r model.Repair) {
	e.publish(ctx, TableRepairs, changefeed.OpUpdate, r)
}

func (e events) locationGone(ctx context.Context, repairID string) {
	e.publish(ctx, TableLocations, changefeed.OpDelete, map[string]any{"repair_id": repairID})
}

// QueueFilter matches the rows a technician's queue shows: assigned to
// them, or unassigned and pending.
func QueueFilter(technicianID uint64) changefeed.Filter {
	return changefeed.Or(
		changefeed.Eq("technician_id", technicianID),
		changefeed.And(changefeed.IsNull("technician_id"), changefeed.Eq("status", string(model.StatusPending))),
	)
}
