package syncview

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Delays between failed refetches after a resync. The first retry waits
// resyncBackoff and each further one doubles, up to maxResyncBackoff.
var (
	resyncBackoff    = 250 * time.Millisecond
	maxResyncBackoff = 10 * time.Second
)

// retryFetch calls fetch until it succeeds, ctx ends or stop is closed.
// It runs on the subscription's delivery goroutine, so events arriving
// meanwhile queue up behind it.
func retryFetch(ctx context.Context, stop <-chan struct{}, table string, fetch func(context.Context) error) {
	delay := resyncBackoff
	for {
		err := fetch(ctx)
		if err == nil {
			return
		}
		log.WithFields(log.Fields{"component": "syncview", "table": table, "retry_in": delay}).
			WithError(err).Warn("resync fetch failed")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-stop:
			t.Stop()
			return
		case <-t.C:
		}
		delay *= 2
		if delay > maxResyncBackoff {
			delay = maxResyncBackoff
		}
	}
}
