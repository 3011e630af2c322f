package main

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/repair-sync/internal/changefeed"
	"github.com/iliyamo/repair-sync/internal/config"
	"github.com/iliyamo/repair-sync/internal/database"
	"github.com/iliyamo/repair-sync/internal/payment"
	"github.com/iliyamo/repair-sync/internal/queue"
	"github.com/iliyamo/repair-sync/internal/repository"
	"github.com/iliyamo/repair-sync/internal/service"
	"github.com/iliyamo/repair-sync/internal/storage"
)

// backend is everything the commands share: connections, repositories
// and the services built on them.
type backend struct {
	cfg  config.Config
	db   *sqlx.DB
	rdb  *redis.Client
	feed changefeed.Feed

	users  *repository.UserRepo
	tokens *repository.TokenRepo

	repairs   *service.RepairService
	messages  *service.MessageService
	locations *service.LocationService
	payments  *service.PaymentService

	closers []func() error
}

func newBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	logger := log.WithField("component", "wire")
	b := &backend{cfg: cfg}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, err
	}
	b.db = db
	b.closers = append(b.closers, db.Close)

	b.rdb = config.NewRedisClient()
	if b.rdb != nil {
		b.closers = append(b.closers, b.rdb.Close)
		b.feed = changefeed.NewRedisFeed(b.rdb, cfg.Realtime.FeedPrefix)
		logger.Info("change feed on redis")
	} else {
		mem := changefeed.NewMemoryFeed()
		b.closers = append(b.closers, func() error { mem.Close(); return nil })
		b.feed = mem
		logger.Warn("change feed is in-process only")
	}

	blobs, err := b.blobStore(ctx)
	if err != nil {
		b.Close()
		return nil, err
	}

	var links payment.LinkProvider
	if cfg.Payment.LinkEndpoint != "" {
		links = payment.NewHTTPLinkProvider(cfg.Payment.LinkEndpoint, cfg.Payment.LinkAPIKey, cfg.Payment.LinkTimeout)
		if b.rdb != nil {
			links = &payment.CachedLinks{Provider: links, Redis: b.rdb, TTL: cfg.Payment.LinkCacheTTL}
		}
	} else {
		logger.Warn("no payment link provider; link payments will fail")
	}

	var notifier service.Notifier
	if cfg.Broker.URL != "" {
		notifier = queue.NewPublisher(cfg.Broker.URL)
	}

	repairRepo := repository.NewRepairRepo(db)
	b.users = repository.NewUserRepo(db)
	b.tokens = repository.NewTokenRepo(db)

	b.repairs = service.NewRepairService(repairRepo, b.feed, blobs)
	b.messages = service.NewMessageService(repairRepo, repository.NewMessageRepo(db), b.feed)
	b.locations = service.NewLocationService(repairRepo, repository.NewLocationRepo(db), b.feed)
	b.payments = service.NewPaymentService(repairRepo, b.users, blobs, links, notifier, b.feed, cfg.Payment.Options())
	return b, nil
}

func (b *backend) blobStore(ctx context.Context) (storage.BlobStore, error) {
	sc := b.cfg.Storage
	if sc.Bucket == "" {
		return storage.NewDiskStore(sc.Dir), nil
	}
	gcs, err := storage.NewGCSStore(ctx, sc.Bucket, sc.CredentialsFile)
	if err != nil {
		return nil, errors.Wrap(err, "open signature bucket")
	}
	b.closers = append(b.closers, gcs.Close)
	return gcs, nil
}

// Close releases connections in reverse order of opening.
func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.WithError(err).Warn("close failed")
		}
	}
	b.closers = nil
}
