package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// Mailer delivers an invoice to the customer.
type Mailer interface {
	SendInvoice(ctx context.Context, ev InvoiceRequested) error
}

// LogMailer appends one line per invoice to a file instead of sending
// mail.
type LogMailer struct {
	Path string
	mu   sync.Mutex
}

func NewLogMailer(path string) *LogMailer {
	if path == "" {
		path = filepath.Join("logs", "invoice.log")
	}
	return &LogMailer{Path: path}
}

func (m *LogMailer) SendInvoice(_ context.Context, ev InvoiceRequested) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(m.Path), 0o755); err != nil {
		return errors.Wrap(err, "mkdir logs")
	}
	f, err := os.OpenFile(m.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open invoice log")
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] Invoice | repair_id=%s | customer_id=%d | email=%q | device=%q | service=%d | labor=%d | tip=%d | total=%d cents | method=%s | signature=%s\n",
		ev.CompletedAt.UTC().Format(time.RFC3339), ev.RepairID, ev.CustomerID, ev.CustomerEmail, ev.Device,
		ev.ServiceFee, ev.LaborFee, ev.Tip, ev.Total, ev.PaymentMethod, ev.SignatureRef)
	_, err = f.WriteString(line)
	return errors.Wrap(err, "write invoice log")
}

// Consumer reads invoice requests and hands them to a Mailer.
type Consumer struct {
	URL      string
	Queue    string
	Prefetch int
	Mailer   Mailer
}

func NewConsumer(url string, prefetch int, mailer Mailer) *Consumer {
	if prefetch <= 0 {
		prefetch = 50
	}
	return &Consumer{URL: url, Queue: InvoiceQueue, Prefetch: prefetch, Mailer: mailer}
}

// Run dials the broker and consumes until ctx is done, reconnecting with
// exponential backoff.
func (c *Consumer) Run(ctx context.Context) error {
	logger := log.WithField("component", "invoice-consumer")
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := dial(ctx, c.URL, DefaultDialTimeout)
		if err != nil {
			logger.WithError(err).Warnf("failed to dial broker; retrying in %s", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		logger.WithError(err).Warn("consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "channel open")
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.Prefetch, 0, false); err != nil {
		log.WithField("component", "invoice-consumer").WithError(err).Warn("set QoS failed")
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "queue declare")
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "queue consume")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(ctx, d.Body); err != nil {
				log.WithField("component", "invoice-consumer").WithError(err).Error("handle message failed")
				_ = d.Nack(false, false) // do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle decodes one delivery body and mails it.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var ev InvoiceRequested
	if err := json.Unmarshal(body, &ev); err != nil {
		return errors.Wrap(err, "unmarshal")
	}
	if ev.RepairID == "" {
		return errors.New("invoice event without repair id")
	}
	return c.Mailer.SendInvoice(ctx, ev)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
