package queue

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerHandleWritesInvoiceLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoice.log")
	c := NewConsumer("amqp://unused", 0, NewLogMailer(path))
	assert.Equal(t, 50, c.Prefetch)

	body, err := json.Marshal(InvoiceRequested{
		RepairID: "r1", CustomerID: 1, Device: "Apple iPhone 13",
		ServiceFee: 5000, LaborFee: 3000, Tip: 1000, Total: 9000, PaymentMethod: "cash",
		CompletedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, c.Handle(context.Background(), body))

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(out), "repair_id=r1")
	assert.Contains(t, string(out), "tip=1000")
	assert.Contains(t, string(out), "[2026-03-01T12:00:00Z]")
}

func TestConsumerRejectsBadBodies(t *testing.T) {
	c := NewConsumer("amqp://unused", 1, NewLogMailer(filepath.Join(t.TempDir(), "x.log")))
	assert.Error(t, c.Handle(context.Background(), []byte("{")))
	assert.Error(t, c.Handle(context.Background(), []byte(`{"customer_id":1}`)))
}

func TestConsumerRunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewConsumer("amqp://127.0.0.1:1/", 1, NewLogMailer(filepath.Join(t.TempDir(), "x.log")))
	assert.NoError(t, c.Run(ctx))
}

func TestPublishGivesUpOnSilentBroker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		// accept and never answer the handshake
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	}()

	p := NewPublisher("amqp://guest:guest@" + ln.Addr().String() + "/")
	p.Timeout = 100 * time.Millisecond
	start := time.Now()
	err = p.PublishInvoice(context.Background(), InvoiceRequested{RepairID: "r1"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestPublishRespectsContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	err := NewPublisher("amqp://127.0.0.1:1/").PublishInvoice(ctx, InvoiceRequested{RepairID: "r1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
