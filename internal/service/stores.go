// Package service applies the repair lifecycle against the stores and
// publishes every committed write to the change feed.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/repair-sync/internal/model"
	"github.com/iliyamo/repair-sync/internal/queue"
)

// RepairStore is implemented by repository.RepairRepo.
type RepairStore interface {
	Create(ctx context.Context, r model.Repair) (model.Repair, error)
	Get(ctx context.Context, id string) (model.Repair, error)
	ListByCustomer(ctx context.Context, customerID uint64) ([]model.Repair, error)
	ListQueue(ctx context.Context, technicianID uint64) ([]model.Repair, error)
	Claim(ctx context.Context, id string, technicianID uint64) (model.Repair, error)
	Transition(ctx context.Context, id string, from, to model.RepairStatus) (model.Repair, error)
	SetIntakeSignature(ctx context.Context, id, ref string) (model.Repair, error)
	SavePayment(ctx context.Context, id string, f model.PaymentFields) (model.Repair, error)
	MarkLinkPaid(ctx context.Context, id string, amountCents int64) (model.Repair, error)
	Complete(ctx context.Context, id string, technicianID uint64, signatureRef string) (model.Repair, error)
}

// MessageStore is implemented by repository.MessageRepo.
type MessageStore interface {
	Create(ctx context.Context, m model.Message) (model.Message, bool, error)
	ListByRepair(ctx context.Context, repairID string) ([]model.Message, error)
	MarkRead(ctx context.Context, repairID string, userID uint64, at time.Time) error
	LastRead(ctx context.Context, repairID string, userID uint64) (*time.Time, error)
	CountUnread(ctx context.Context, repairID string, userID uint64, viewer model.Role) (int, error)
}

// LocationStore is implemented by repository.LocationRepo.
type LocationStore interface {
	Upsert(ctx context.Context, l model.TechLocation) error
	Get(ctx context.Context, repairID string) (model.TechLocation, error)
	Delete(ctx context.Context, repairID string) (bool, error)
}

// UserLookup resolves the customer's email for the invoice.
type UserLookup interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// Notifier hands completed repairs to the invoice pipeline.
type Notifier interface {
	PublishInvoice(ctx context.Context, ev queue.InvoiceRequested) error
}
