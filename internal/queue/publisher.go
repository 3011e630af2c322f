package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// Publisher sends invoice requests. It dials per publish; completions
// are rare enough that a pooled connection is not worth its reconnect
// handling.
type Publisher struct {
	URL     string
	Queue   string
	Timeout time.Duration
}

func NewPublisher(url string) *Publisher {
	return &Publisher{URL: url, Queue: InvoiceQueue, Timeout: DefaultDialTimeout}
}

// PublishInvoice publishes ev as a persistent JSON message.
func (p *Publisher) PublishInvoice(ctx context.Context, ev InvoiceRequested) error {
	logger := log.WithFields(log.Fields{"component": "invoice-publisher", "repair_id": ev.RepairID})

	conn, err := dial(ctx, p.URL, p.Timeout)
	if err != nil {
		logger.WithError(err).Warn("rabbitmq: dial failed")
		return errors.Wrap(err, "dial broker")
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "open channel")
	}
	defer func() { _ = ch.Close() }()

	// idempotent; durable so messages survive broker restarts
	if _, err := ch.QueueDeclare(p.Queue, true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "declare queue")
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal invoice event")
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    ev.RepairID,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.Queue, false, false, pub); err != nil {
		return errors.Wrap(err, "publish")
	}
	logger.Info("invoice requested")
	return nil
}
