package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/model"
)

// LocationRepo keeps the single live location row per repair.
type LocationRepo struct{ DB *sqlx.DB }

func NewLocationRepo(db *sqlx.DB) *LocationRepo { return &LocationRepo{DB: db} }

// Upsert overwrites the row, but only while the repair is EN_ROUTE and
// assigned to l.TechnicianID. A flush that arrives after the status moved
// on affects nothing and is reported as a rejected transition.
func (r *LocationRepo) Upsert(ctx context.Context, l model.TechLocation) error {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO tech_locations
		(repair_id, technician_id, lat, lng, heading, speed, accuracy, updated_at)
		SELECT id, technician_id, ?, ?, ?, ?, ?, ? FROM repairs
		WHERE id=? AND status='EN_ROUTE' AND technician_id=?
		ON DUPLICATE KEY UPDATE lat=VALUES(lat), lng=VALUES(lng), heading=VALUES(heading),
		speed=VALUES(speed), accuracy=VALUES(accuracy), updated_at=VALUES(updated_at)`,
		l.Lat, l.Lng, l.Heading, l.Speed, l.Accuracy, l.UpdatedAt, l.RepairID, l.TechnicianID)
	if err != nil {
		return errors.Wrap(err, "upsert location")
	}
	return affected(res, "repair %s is not en route for technician %d", l.RepairID, l.TechnicianID)
}

// Get returns the live row or model.ErrNotFound.
func (r *LocationRepo) Get(ctx context.Context, repairID string) (model.TechLocation, error) {
	var l model.TechLocation
	err := r.DB.GetContext(ctx, &l, `SELECT repair_id, technician_id, lat, lng, heading, speed, accuracy, updated_at
		FROM tech_locations WHERE repair_id=?`, repairID)
	if err != nil {
		return model.TechLocation{}, notFound(err, "get location")
	}
	return l, nil
}

// Delete removes the row and reports whether there was one.
func (r *LocationRepo) Delete(ctx context.Context, repairID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM tech_locations WHERE repair_id=?", repairID)
	if err != nil {
		return false, errors.Wrap(err, "delete location")
	}
	n, err := res.RowsAffected()
	return n > 0, errors.Wrap(err, "rows affected")
}
