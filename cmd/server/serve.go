package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/repair-sync/internal/config"
	"github.com/iliyamo/repair-sync/internal/handler"
	"github.com/iliyamo/repair-sync/internal/middleware"
	"github.com/iliyamo/repair-sync/internal/queue"
	"github.com/iliyamo/repair-sync/internal/router"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API and the realtime streams",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "migrate", Usage: "apply pending migrations before serving", EnvVars: []string{"AUTO_MIGRATE"}},
			&cli.BoolFlag{Name: "invoice-worker", Usage: "also consume invoice requests in this process", EnvVars: []string{"RUN_INVOICE_WORKER"}},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if c.Bool("migrate") {
		if err := migrateUp(cfg); err != nil {
			return err
		}
	}
	b, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	e := newEcho(b)
	addr := ":" + cfg.Port
	logger := log.WithFields(log.Fields{"component": "server", "addr": addr, "env": cfg.Env})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return e.Shutdown(sctx)
	})
	if c.Bool("invoice-worker") {
		if cfg.Broker.URL == "" {
			logger.Warn("invoice worker requested without BROKER_RABBITMQ_URL; skipped")
		} else {
			consumer := queue.NewConsumer(cfg.Broker.URL, cfg.Broker.Prefetch, queue.NewLogMailer(cfg.Broker.MailLog))
			g.Go(func() error { return consumer.Run(gctx) })
		}
	}
	return g.Wait()
}

// newEcho builds the HTTP surface over the backend's services.
func newEcho(b *backend) *echo.Echo {
	cfg := b.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger())

	rl := config.LoadRateLimits()
	limits := router.Limits{
		API:      middleware.NewTokenBucket(rl.API, b.rdb),
		Chat:     middleware.NewTokenBucket(rl.Chat, b.rdb),
		Location: middleware.NewTokenBucket(rl.Location, b.rdb),
	}

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, b.users, b.tokens), cfg.JWTSecret, limits)
	router.RegisterRepairs(e,
		handler.NewRepairHandler(b.repairs),
		handler.NewChatHandler(b.messages),
		handler.NewLocationHandler(b.locations),
		cfg.JWTSecret, limits)
	router.RegisterPayment(e, handler.NewPaymentHandler(b.payments, cfg.Payment.WebhookSecret), cfg.JWTSecret, limits)
	router.RegisterFeed(e, handler.NewFeedHandler(b.feed, b.repairs, cfg.Realtime.Heartbeat, cfg.Realtime.Buffer), cfg.JWTSecret)
	return e
}
