package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/model"
)

const repairColumns = `id, customer_id, technician_id, device_brand, device_model, issues,
	scheduled_date, time_slot, address, address_lat, address_lng,
	service_fee_cents, labor_fee_cents, total_cents, tip_cents,
	payment_method, payment_status, cash_received_cents, cash_portion_cents, card_charge_cents,
	status, parts_in_stock, intake_signature_ref, completion_signature_ref,
	created_at, updated_at, paid_at`

// RepairRepo reads and writes the repairs table.
type RepairRepo struct{ DB *sqlx.DB }

func NewRepairRepo(db *sqlx.DB) *RepairRepo { return &RepairRepo{DB: db} }

// Create inserts a new PENDING repair. r.ID must already be set.
func (r *RepairRepo) Create(ctx context.Context, rep model.Repair) (model.Repair, error) {
	_, err := r.DB.NamedExecContext(ctx, `INSERT INTO repairs
		(id, customer_id, device_brand, device_model, issues, scheduled_date, time_slot,
		 address, address_lat, address_lng, service_fee_cents, labor_fee_cents, total_cents,
		 status, parts_in_stock)
		VALUES
		(:id, :customer_id, :device_brand, :device_model, :issues, :scheduled_date, :time_slot,
		 :address, :address_lat, :address_lng, :service_fee_cents, :labor_fee_cents, :total_cents,
		 :status, :parts_in_stock)`, rep)
	if err != nil {
		return model.Repair{}, errors.Wrap(err, "insert repair")
	}
	return r.Get(ctx, rep.ID)
}

// Get loads one repair.
func (r *RepairRepo) Get(ctx context.Context, id string) (model.Repair, error) {
	var rep model.Repair
	err := r.DB.GetContext(ctx, &rep, "SELECT "+repairColumns+" FROM repairs WHERE id=? LIMIT 1", id)
	if err != nil {
		return model.Repair{}, notFound(err, "get repair")
	}
	return rep, nil
}

// ListByCustomer returns the customer's repairs, newest first.
func (r *RepairRepo) ListByCustomer(ctx context.Context, customerID uint64) ([]model.Repair, error) {
	out := []model.Repair{}
	err := r.DB.SelectContext(ctx, &out,
		"SELECT "+repairColumns+" FROM repairs WHERE customer_id=? ORDER BY created_at DESC", customerID)
	return out, errors.Wrap(err, "list customer repairs")
}

// ListQueue returns what a technician sees: repairs assigned to them and
// unclaimed PENDING ones.
func (r *RepairRepo) ListQueue(ctx context.Context, technicianID uint64) ([]model.Repair, error) {
	out := []model.Repair{}
	err := r.DB.SelectContext(ctx, &out, "SELECT "+repairColumns+` FROM repairs
		WHERE technician_id=? OR (technician_id IS NULL AND status='PENDING')
		ORDER BY scheduled_date, created_at`, technicianID)
	return out, errors.Wrap(err, "list queue")
}

// Claim assigns the technician if nobody else got there first.
func (r *RepairRepo) Claim(ctx context.Context, id string, technicianID uint64) (model.Repair, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE repairs SET technician_id=?, status='CONFIRMED'
		WHERE id=? AND technician_id IS NULL AND status='PENDING'`, technicianID, id)
	if err != nil {
		return model.Repair{}, errors.Wrap(err, "claim repair")
	}
	if err := affected(res, "repair %s already claimed", id); err != nil {
		return model.Repair{}, err
	}
	return r.Get(ctx, id)
}

// Transition moves the repair from one status to another. Leaving
// EN_ROUTE deletes the live location in the same transaction.
func (r *RepairRepo) Transition(ctx context.Context, id string, from, to model.RepairStatus) (model.Repair, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return model.Repair{}, errors.Wrap(err, "begin")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, "UPDATE repairs SET status=? WHERE id=? AND status=?", to, id, from)
	if err != nil {
		return model.Repair{}, errors.Wrap(err, "update status")
	}
	if err := affected(res, "repair %s is no longer %s", id, from); err != nil {
		return model.Repair{}, err
	}
	if from == model.StatusEnRoute {
		if _, err := tx.ExecContext(ctx, "DELETE FROM tech_locations WHERE repair_id=?", id); err != nil {
			return model.Repair{}, errors.Wrap(err, "delete location")
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Repair{}, errors.Wrap(err, "commit")
	}
	committed = true
	return r.Get(ctx, id)
}

// SetIntakeSignature records the intake signature while ARRIVED.
func (r *RepairRepo) SetIntakeSignature(ctx context.Context, id, ref string) (model.Repair, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE repairs SET intake_signature_ref=? WHERE id=? AND status='ARRIVED'", ref, id)
	if err != nil {
		return model.Repair{}, errors.Wrap(err, "set intake signature")
	}
	if err := affected(res, "repair %s is not ARRIVED", id); err != nil {
		return model.Repair{}, err
	}
	return r.Get(ctx, id)
}

// SavePayment writes the whole payment state of an IN_PROGRESS repair.
// A completed payment is never overwritten.
func (r *RepairRepo) SavePayment(ctx context.Context, id string, f model.PaymentFields) (model.Repair, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE repairs SET
		tip_cents=?, payment_method=?, payment_status=?,
		cash_received_cents=?, cash_portion_cents=?, card_charge_cents=?,
		paid_at=CASE WHEN ?='completed' THEN UTC_TIMESTAMP() ELSE NULL END
		WHERE id=? AND status='IN_PROGRESS' AND payment_status<>'completed'`,
		f.TipCents, f.Method, f.Status, f.CashReceivedCents, f.CashPortionCents, f.CardChargeCents,
		f.Status, id)
	if err != nil {
		return model.Repair{}, errors.Wrap(err, "save payment")
	}
	if err := affected(res, "payment of repair %s cannot change", id); err != nil {
		return model.Repair{}, err
	}
	return r.Get(ctx, id)
}

// MarkLinkPaid is the provider webhook write. amountCents must equal the
// current card amount, so a link created before a switch to split cannot
// settle the smaller card leg.
func (r *RepairRepo) MarkLinkPaid(ctx context.Context, id string, amountCents int64) (model.Repair, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE repairs SET payment_status='completed', paid_at=UTC_TIMESTAMP()
		WHERE id=? AND status='IN_PROGRESS' AND payment_method IN ('link','split') AND payment_status<>'completed'
		AND (CASE WHEN payment_method='split' THEN card_charge_cents
			ELSE IF(total_cents>0, total_cents, service_fee_cents+labor_fee_cents)+tip_cents END)=?`, id, amountCents)
	if err != nil {
		return model.Repair{}, errors.Wrap(err, "mark paid")
	}
	if err := affected(res, "repair %s is not awaiting a link payment", id); err != nil {
		return model.Repair{}, err
	}
	return r.Get(ctx, id)
}

// Complete sets the completion signature and moves to COMPLETE in one
// conditional write that re-checks status, assignment and payment.
func (r *RepairRepo) Complete(ctx context.Context, id string, technicianID uint64, signatureRef string) (model.Repair, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE repairs SET status='COMPLETE', completion_signature_ref=?
		WHERE id=? AND technician_id=? AND status='IN_PROGRESS' AND payment_status='completed'`,
		signatureRef, id, technicianID)
	if err != nil {
		return model.Repair{}, errors.Wrap(err, "complete repair")
	}
	if err := affected(res, "repair %s cannot complete", id); err != nil {
		return model.Repair{}, err
	}
	return r.Get(ctx, id)
}
