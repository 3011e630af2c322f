package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/repair-sync/internal/changefeed"
	"github.com/iliyamo/repair-sync/internal/lifecycle"
	"github.com/iliyamo/repair-sync/internal/model"
	"github.com/iliyamo/repair-sync/internal/service"
)

// FeedHandler bridges the change feed to server-sent events.
type FeedHandler struct {
	Feed      changefeed.Subscriber
	Repairs   *service.RepairService
	Heartbeat time.Duration
	Buffer    int
}

func NewFeedHandler(feed changefeed.Subscriber, repairs *service.RepairService, heartbeat time.Duration, buffer int) *FeedHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &FeedHandler{Feed: feed, Repairs: repairs, Heartbeat: heartbeat, Buffer: buffer}
}

// frame is one SSE message. A nil data with name "resync" tells the
// client to refetch.
type frame struct {
	name string
	data any
}

// stream is the per-connection fan-in of several subscriptions.
type stream struct {
	ctx  context.Context
	out  chan frame
	subs []*changefeed.Subscription
}

func newStream(c echo.Context) *stream {
	return &stream{ctx: c.Request().Context(), out: make(chan frame, 64)}
}

func (s *stream) emit(f frame) {
	select {
	case s.out <- f:
	case <-s.ctx.Done():
	}
}

func (s *stream) onState(st changefeed.State) {
	if st == changefeed.StateResync {
		s.emit(frame{name: "resync", data: echo.Map{"at": time.Now().UTC()}})
	}
}

func (s *stream) close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
}

func (h *FeedHandler) subscribe(s *stream, q changefeed.Query, fn changefeed.Handler) error {
	sub, err := h.Feed.Subscribe(s.ctx, q, fn, changefeed.WithStateHandler(s.onState), changefeed.WithBuffer(h.Buffer))
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// pump writes frames and heartbeats until the client goes away.
func (h *FeedHandler) pump(c echo.Context, s *stream) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(res, ": connected\n\n"); err != nil {
		return nil
	}
	res.Flush()

	hb := time.NewTicker(h.Heartbeat)
	defer hb.Stop()
	logger := log.WithFields(log.Fields{"component": "sse", "path": c.Path()})
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-hb.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
		case f := <-s.out:
			b, err := json.Marshal(f.data)
			if err != nil {
				logger.WithError(err).Warn("encode frame")
				continue
			}
			if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", f.name, b); err != nil {
				return nil
			}
		}
		res.Flush()
	}
}

// Repair handles GET /v1/feed/repairs/:id: the repair row, its messages
// and the technician location.
func (h *FeedHandler) Repair(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	ctx, cancel := requestContext(c)
	_, err = h.Repairs.Get(ctx, a, id)
	cancel()
	if err != nil {
		return fail(c, err)
	}

	s := newStream(c)
	defer s.close()
	forward := func(ev changefeed.Event) {
		s.emit(frame{name: ev.Table, data: ev})
	}
	queries := []changefeed.Query{
		{Table: service.TableRepairs, Filter: changefeed.Eq("id", id)},
		{Table: service.TableMessages, Filter: changefeed.Eq("repair_id", id)},
		{Table: service.TableLocations, Filter: changefeed.Eq("repair_id", id)},
	}
	for _, q := range queries {
		if err := h.subscribe(s, q, forward); err != nil {
			return fail(c, err)
		}
	}
	return h.pump(c, s)
}

// Queue handles GET /v1/feed/queue for technicians. Rows in the caller's
// queue are sent in full; any other repair change is sent as an id-only
// invalidate so the client drops it from the list.
func (h *FeedHandler) Queue(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if a.Role != model.RoleTechnician {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	s := newStream(c)
	defer s.close()
	if err := h.subscribe(s, changefeed.Query{Table: service.TableRepairs}, queueForwarder(a, s.emit)); err != nil {
		return fail(c, err)
	}
	return h.pump(c, s)
}

func queueForwarder(a lifecycle.Actor, emit func(frame)) changefeed.Handler {
	mine := service.QueueFilter(a.UserID)
	return func(ev changefeed.Event) {
		if ev.Op != changefeed.OpDelete && mine.Match(ev.Row) {
			emit(frame{name: "repair", data: ev})
			return
		}
		emit(frame{name: "invalidate", data: echo.Map{"id": ev.Row["id"]}})
	}
}
