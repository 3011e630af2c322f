package location

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/model"
)

// ErrNotSharing is returned by Offer while no publisher is running.
var ErrNotSharing = errors.New("location: not sharing")

// Broadcaster ties a publisher to the repair status and the permission
// state. It shares only while the repair is EN_ROUTE and permission is
// granted.
type Broadcaster struct {
	repairID string
	sink     Sink
	interval time.Duration
	ticker   TickerFunc
	perm     *PermissionState

	mu      sync.Mutex
	status  model.RepairStatus
	stopped bool // explicit stop for the current EN_ROUTE phase
	pub     *Publisher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBroadcaster returns an idle broadcaster. A nil perm starts in the
// prompt state.
func NewBroadcaster(repairID string, sink Sink, interval time.Duration, ticker TickerFunc, perm *PermissionState) *Broadcaster {
	if perm == nil {
		perm = &PermissionState{}
	}
	return &Broadcaster{repairID: repairID, sink: sink, interval: interval, ticker: ticker, perm: perm}
}

// Permission exposes the permission machine.
func (b *Broadcaster) Permission() *PermissionState { return b.perm }

// Sharing reports whether a publisher is running.
func (b *Broadcaster) Sharing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pub != nil
}

// SetStatus follows the repair status. Entering EN_ROUTE starts sharing
// when permission is granted; any other status stops it. A missing
// permission is reported but the status change itself is never refused.
func (b *Broadcaster) SetStatus(ctx context.Context, s model.RepairStatus) error {
	b.mu.Lock()
	prev := b.status
	b.status = s
	if s != model.StatusEnRoute {
		b.stopped = false
		b.mu.Unlock()
		b.stop()
		return nil
	}
	if prev != model.StatusEnRoute {
		b.stopped = false
	}
	b.mu.Unlock()
	return b.maybeStart(ctx)
}

// Grant resolves the prompt positively and starts sharing if the repair
// is already en route.
func (b *Broadcaster) Grant(ctx context.Context) error {
	if err := b.perm.Resolve(true); err != nil {
		return err
	}
	return b.maybeStart(ctx)
}

// Deny resolves the prompt negatively.
func (b *Broadcaster) Deny() error {
	return b.perm.Resolve(false)
}

// Offer hands a sample to the running publisher.
func (b *Broadcaster) Offer(s Sample) error {
	b.mu.Lock()
	pub := b.pub
	b.mu.Unlock()
	if pub == nil {
		return ErrNotSharing
	}
	return pub.Offer(s)
}

// StopSharing stops the publisher for the rest of this EN_ROUTE phase.
func (b *Broadcaster) StopSharing() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.stop()
}

// Close ends the session. It waits for the final clear.
func (b *Broadcaster) Close() {
	b.StopSharing()
}

func (b *Broadcaster) maybeStart(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != model.StatusEnRoute || b.stopped || b.pub != nil {
		return nil
	}
	if err := b.perm.Check(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.pub = NewPublisher(b.repairID, b.sink, b.interval, b.ticker)
	b.cancel = cancel
	b.done = make(chan struct{})
	go func(p *Publisher, done chan struct{}) {
		defer close(done)
		p.Run(runCtx)
	}(b.pub, b.done)
	return nil
}

func (b *Broadcaster) stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.pub, b.cancel, b.done = nil, nil, nil
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
