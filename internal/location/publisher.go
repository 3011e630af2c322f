package location

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultInterval is the flush cadence used when none is configured.
const DefaultInterval = 5 * time.Second

// writeTimeout bounds a single push or clear. Writes run on a context
// detached from the caller so that navigating away never aborts them.
const writeTimeout = 5 * time.Second

// Sink persists the single live location row of a repair.
type Sink interface {
	Push(ctx context.Context, repairID string, s Sample) error
	Clear(ctx context.Context, repairID string) error
}

// TickerFunc returns a tick channel and its stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Publisher buffers the latest sample and writes it to the sink on a
// fixed interval, independent of how often the device reports.
type Publisher struct {
	repairID string
	sink     Sink
	interval time.Duration
	ticker   TickerFunc

	mu     sync.Mutex
	latest Sample
	dirty  bool
	pushes int
}

// NewPublisher builds a publisher. A nil ticker uses time.NewTicker.
func NewPublisher(repairID string, sink Sink, interval time.Duration, ticker TickerFunc) *Publisher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if ticker == nil {
		ticker = realTicker
	}
	return &Publisher{repairID: repairID, sink: sink, interval: interval, ticker: ticker}
}

// Offer replaces the buffered sample. Nothing is written until the next
// tick.
func (p *Publisher) Offer(s Sample) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.At.IsZero() {
		s.At = time.Now().UTC()
	}
	p.mu.Lock()
	p.latest = s
	p.dirty = true
	p.mu.Unlock()
	return nil
}

// Pushes reports how many samples reached the sink.
func (p *Publisher) Pushes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pushes
}

// Run flushes on every tick until ctx is done, then clears the row.
func (p *Publisher) Run(ctx context.Context) {
	c, stop := p.ticker(p.interval)
	defer stop()
	defer p.clear(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c:
			p.flush(ctx)
		}
	}
}

func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if !p.dirty {
		p.mu.Unlock()
		return
	}
	s := p.latest
	p.dirty = false
	p.mu.Unlock()

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := p.sink.Push(wctx, p.repairID, s); err != nil {
		log.WithFields(log.Fields{"component": "location", "repair_id": p.repairID}).
			WithError(err).Warn("location push failed")
		p.mu.Lock()
		p.dirty = true // retry on the next tick
		p.mu.Unlock()
		return
	}
	p.mu.Lock()
	p.pushes++
	p.mu.Unlock()
}

func (p *Publisher) clear(ctx context.Context) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := p.sink.Clear(wctx, p.repairID); err != nil {
		log.WithFields(log.Fields{"component": "location", "repair_id": p.repairID}).
			WithError(errors.WithStack(err)).Warn("location clear failed")
	}
}
