// Package queue carries invoice requests over RabbitMQ: the service
// publishes one when a repair completes and a worker consumes it.
package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// InvoiceQueue is the durable queue invoice requests go to.
const InvoiceQueue = "repair.invoice.requested"

// DefaultDialTimeout bounds the TCP connect and AMQP handshake.
const DefaultDialTimeout = 5 * time.Second

// dial connects to url within timeout, or sooner if ctx has an earlier
// deadline.
func dial(ctx context.Context, url string, timeout time.Duration) (*amqp.Connection, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, errors.Wrap(context.DeadlineExceeded, "dial broker")
	}
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
}

// InvoiceRequested is published after a repair reached COMPLETE. It
// carries what an invoice needs without another database read.
type InvoiceRequested struct {
	RepairID      string    `json:"repair_id"`
	CustomerID    uint64    `json:"customer_id"`
	CustomerEmail string    `json:"customer_email"`
	TechnicianID  uint64    `json:"technician_id"`
	Device        string    `json:"device"`
	ServiceFee    int64     `json:"service_fee_cents"`
	LaborFee      int64     `json:"labor_fee_cents"`
	Tip           int64     `json:"tip_cents"`
	Total         int64     `json:"total_cents"`
	PaymentMethod string    `json:"payment_method"`
	CashPortion   int64     `json:"cash_portion_cents,omitempty"`
	CardCharge    int64     `json:"card_charge_cents,omitempty"`
	SignatureRef  string    `json:"signature_ref"`
	CompletedAt   time.Time `json:"completed_at"`
}
