package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/payment"
	"github.com/iliyamo/repair-sync/internal/queue"
)

// Notifier records invoice requests.
type Notifier struct {
	mu     sync.Mutex
	events []queue.InvoiceRequested
	Err    error
}

func (n *Notifier) PublishInvoice(_ context.Context, ev queue.InvoiceRequested) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.events = append(n.events, ev)
	return nil
}

// Invoices returns what was published.
func (n *Notifier) Invoices() []queue.InvoiceRequested {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]queue.InvoiceRequested(nil), n.events...)
}

// Blobs is an in-memory object store.
type Blobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *Blobs) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	ref := "mem://" + key
	b.objects[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (b *Blobs) Get(_ context.Context, ref string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[ref]
	if !ok {
		return nil, errors.Errorf("no object %s", ref)
	}
	return data, nil
}

// Links is a hosted-link provider that records requests.
type Links struct {
	mu       sync.Mutex
	Requests []payment.LinkRequest
	Err      error
}

func (l *Links) CreateLink(_ context.Context, req payment.LinkRequest) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return "", l.Err
	}
	l.Requests = append(l.Requests, req)
	return fmt.Sprintf("https://pay.test/%s/%d", req.Reference, req.AmountCents), nil
}

// PNG is the smallest byte string recognised as a PNG image.
var PNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
