package changefeed

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/repair-sync/internal/model"
)

// RedisFeed carries events over Redis pub/sub, one channel per table
// named "<prefix>:<table>". Filters are applied on the receiving side.
type RedisFeed struct {
	rdb    *redis.Client
	prefix string
	nextID atomic.Uint64
}

// NewRedisFeed wraps a connected client.
func NewRedisFeed(rdb *redis.Client, prefix string) *RedisFeed {
	if prefix == "" {
		prefix = "feed"
	}
	return &RedisFeed{rdb: rdb, prefix: prefix}
}

func (f *RedisFeed) channel(table string) string {
	return f.prefix + ":" + table
}

// Publish implements Publisher.
func (f *RedisFeed) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "changefeed: marshal event")
	}
	return errors.Wrap(f.rdb.Publish(ctx, f.channel(ev.Table), b).Err(), "changefeed: publish")
}

// Subscribe implements Subscriber. The first subscribe confirmation is
// consumed here; any later one means go-redis reconnected and
// resubscribed, so the consumer is told to resync.
func (f *RedisFeed) Subscribe(ctx context.Context, q Query, h Handler, opts ...Option) (*Subscription, error) {
	if q.Table == "" || h == nil {
		return nil, errors.New("changefeed: table and handler are required")
	}
	ps := f.rdb.Subscribe(ctx, f.channel(q.Table))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrapf(model.ErrFeedDisconnected, "subscribe %s: %v", q.Table, err)
	}

	s := newSink(f.nextID.Add(1), q, h, buildOptions(opts))
	go s.run(true)
	go f.pump(ps, s)

	sub := &Subscription{done: s.done}
	sub.cancel = func() {
		_ = ps.Close()
		s.stop()
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-s.done:
		}
	}()
	return sub, nil
}

func (f *RedisFeed) pump(ps *redis.PubSub, s *sink) {
	logger := log.WithFields(log.Fields{"component": "changefeed", "table": s.q.Table, "sub": s.id})
	ch := ps.ChannelWithSubscriptions()
	for {
		select {
		case <-s.quit:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case *redis.Subscription:
				if m.Kind == "subscribe" {
					logger.Info("resubscribed after reconnect")
					s.requestResync()
				}
			case *redis.Message:
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					logger.WithError(err).Warn("dropping malformed event")
					continue
				}
				s.offer(ev)
			}
		}
	}
}
