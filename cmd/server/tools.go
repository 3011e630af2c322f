package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/iliyamo/repair-sync/internal/chat"
	"github.com/iliyamo/repair-sync/internal/config"
	"github.com/iliyamo/repair-sync/internal/database"
	"github.com/iliyamo/repair-sync/internal/lifecycle"
	"github.com/iliyamo/repair-sync/internal/location"
	"github.com/iliyamo/repair-sync/internal/model"
	"github.com/iliyamo/repair-sync/internal/queue"
	"github.com/iliyamo/repair-sync/internal/service"
	"github.com/iliyamo/repair-sync/internal/syncview"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply or revert schema migrations",
		Subcommands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "apply all pending migrations",
				Action: func(*cli.Context) error { return migrateUp(config.Load()) },
			},
			{
				Name:  "down",
				Usage: "revert the latest migration",
				Action: func(*cli.Context) error {
					cfg := config.Load()
					return database.Migrate(dsn(cfg), database.Down)
				},
			},
		},
	}
}

func dsn(cfg config.Config) string {
	return database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

func migrateUp(cfg config.Config) error {
	return database.Migrate(dsn(cfg), database.Up)
}

func invoiceWorkerCommand() *cli.Command {
	return &cli.Command{
		Name:  "invoice-worker",
		Usage: "consume invoice requests from RabbitMQ",
		Action: func(c *cli.Context) error {
			bc, err := config.LoadBroker()
			if err != nil {
				return errors.Wrap(err, "load broker settings")
			}
			if bc.URL == "" {
				return errors.New("BROKER_RABBITMQ_URL is required")
			}
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return queue.NewConsumer(bc.URL, bc.Prefetch, queue.NewLogMailer(bc.MailLog)).Run(ctx)
		},
	}
}

func actorFlags(repairRequired bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "repair", Required: repairRequired, Usage: "repair id"},
		&cli.Uint64Flag{Name: "user", Required: true, Usage: "acting user id"},
	}
}

func actorFrom(c *cli.Context, role model.Role) lifecycle.Actor {
	return lifecycle.Actor{UserID: c.Uint64("user"), Role: role}
}

func sourceFor(b *backend, actor lifecycle.Actor) service.Source {
	return service.Source{Actor: actor, Repairs: b.repairs, Messages: b.messages, Locations: b.locations}
}

func viewConfig(b *backend, actor lifecycle.Actor, repairID string) syncview.ViewConfig {
	return syncview.ViewConfig{
		Feed:     b.feed,
		Source:   sourceFor(b, actor),
		Sender:   b.messages.SenderFor(actor),
		Me:       chat.Participant{UserID: actor.UserID, Role: actor.Role},
		RepairID: repairID,
		OnError: func(err error) {
			log.WithError(err).WithField("repair_id", repairID).Warn("view error")
		},
	}
}

// watchCommand follows one repair the way a client screen would and logs
// every state it renders. A technician without --repair watches the job
// queue instead.
func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "follow a repair as its customer or technician",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "role", Value: string(model.RoleCustomer), Usage: "CUSTOMER or TECHNICIAN"},
		}, actorFlags(false)...),
		Action: watch,
	}
}

func watch(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	role := model.Role(c.String("role"))
	if role != model.RoleCustomer && role != model.RoleTechnician {
		return errors.Errorf("unknown role %q", role)
	}
	b, err := newBackend(ctx, config.Load())
	if err != nil {
		return err
	}
	defer b.Close()

	repairID := c.String("repair")
	actor := actorFrom(c, role)
	cfg := viewConfig(b, actor, repairID)
	logger := log.WithFields(log.Fields{"component": "watch", "repair_id": repairID})

	switch {
	case repairID == "" && role == model.RoleTechnician:
		v := syncview.NewQueueView(b.feed, sourceFor(b, actor).ListQueue, func(rs []model.Repair) {
			ids := make([]string, 0, len(rs))
			for _, r := range rs {
				ids = append(ids, r.ID+":"+string(r.Status))
			}
			logger.WithField("jobs", ids).Info("queue")
		}, cfg.OnError)
		if err := v.Start(ctx); err != nil {
			return err
		}
		defer v.Stop()
	case repairID == "":
		return errors.New("--repair is required for customers")
	case role == model.RoleCustomer:
		v := syncview.NewCustomerView(cfg, func(st syncview.CustomerState) {
			f := log.Fields{"found": st.Found, "status": st.Repair.Status, "messages": len(st.Messages)}
			if st.ETA != nil {
				f["distance_m"] = int(st.ETA.DistanceMeters)
				f["eta"] = st.ETA.ETA
			}
			logger.WithFields(f).Info("customer view")
		})
		if err := v.Start(ctx); err != nil {
			return err
		}
		defer v.Stop()
	default:
		v := syncview.NewTechnicianView(cfg, b.payments.BackendFor(actor), b.payments.Options(), nil, func(st syncview.TechnicianState) {
			logger.WithFields(log.Fields{
				"found":    st.Found,
				"status":   st.Repair.Status,
				"messages": len(st.Messages),
				"step":     st.Step,
			}).Info("technician view")
		})
		if err := v.Start(ctx); err != nil {
			return err
		}
		defer v.Stop()
	}
	<-ctx.Done()
	return nil
}

// simulateRouteCommand drives the location broadcaster along a straight
// line from a start point to the repair address.
func simulateRouteCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate-route",
		Usage: "share a simulated technician location for an EN_ROUTE repair",
		Flags: append([]cli.Flag{
			&cli.Float64Flag{Name: "from-lat", Required: true},
			&cli.Float64Flag{Name: "from-lng", Required: true},
			&cli.IntFlag{Name: "steps", Value: 20},
			&cli.Float64Flag{Name: "speed", Value: location.DefaultSpeed, Usage: "reported speed in m/s"},
		}, actorFlags(true)...),
		Action: simulateRoute,
	}
}

func simulateRoute(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	b, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	repairID := c.String("repair")
	actor := actorFrom(c, model.RoleTechnician)
	r, err := b.repairs.Get(ctx, actor, repairID)
	if err != nil {
		return err
	}
	if r.AddressLat == nil || r.AddressLng == nil {
		return errors.Wrap(model.ErrInvalidInput, "repair has no address coordinates")
	}

	interval := cfg.Realtime.LocationInterval
	bc := location.NewBroadcaster(repairID, b.locations.SinkFor(actor), interval, nil, nil)
	if err := bc.Grant(ctx); err != nil {
		return err
	}
	view := syncview.NewTechnicianView(viewConfig(b, actor, repairID), b.payments.BackendFor(actor), b.payments.Options(), bc, func(syncview.TechnicianState) {})
	if err := view.Start(ctx); err != nil {
		return err
	}
	defer view.Stop()

	logger := log.WithFields(log.Fields{"component": "simulate-route", "repair_id": repairID})
	route := location.Interpolate(location.Point(c.Float64("from-lat"), c.Float64("from-lng")), location.Point(*r.AddressLat, *r.AddressLng), c.Int("steps"))
	for i, p := range route {
		heading := 0.0
		if i+1 < len(route) {
			heading = location.Bearing(p, route[i+1])
		}
		err := bc.Offer(location.Sample{Lat: p[1], Lng: p[0], Heading: heading, Speed: c.Float64("speed"), At: time.Now().UTC()})
		if errors.Is(err, location.ErrNotSharing) {
			logger.Info("sharing stopped")
			return nil
		}
		if err != nil {
			return err
		}
		logger.WithFields(log.Fields{"step": i, "lat": p[1], "lng": p[0]}).Debug("offered")
		if !sleepCtx(ctx, interval) {
			return nil
		}
	}
	logger.Info("arrived at destination")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
