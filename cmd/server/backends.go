package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"policyvault/internal/notify"
	"policyvault/internal/platform/config"
	"policyvault/internal/platform/lock"
	"policyvault/internal/platform/postgres"
	"policyvault/internal/platform/ratelimit"
	"policyvault/internal/platform/redis"
	"policyvault/internal/vault/ledger"
	"policyvault/internal/vault/service"
	"policyvault/internal/vault/store"
	"policyvault/internal/vault/store/memory"
	vaultpg "policyvault/internal/vault/store/postgres"
)

// backends holds the storage, custody and lock implementations selected by
// configuration.
type backends struct {
	kind    string
	repo    service.Repository
	outbox  store.Outbox
	custody ledger.Ledger
	locker  lock.Locker
	redis   *redis.Client
	checks  []func(ctx context.Context) error
	closers []func()
}

func (b *backends) health(ctx context.Context) error {
	var errs []error
	for _, check := range b.checks {
		errs = append(errs, check(ctx))
	}
	return errors.Join(errs...)
}

// Close releases connections in reverse order of opening.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backends, error) {
	b := &backends{locker: lock.Noop{}}

	var next ledger.Ledger
	if cfg.Postgres.URL == "" {
		log.Warn("POLICYVAULT_DATABASE_URL not set; using in-memory store and ledger")
		st := memory.New().WithTimeout(cfg.Postgres.TxTimeout)
		b.kind = "memory"
		b.repo = st
		b.outbox = st
		next = ledger.NewInMemory()
	} else {
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = db.Close() })
		b.checks = append(b.checks, db.PingContext)

		if cfg.Postgres.Migrate {
			if err := postgres.Migrate(db, log); err != nil {
				b.Close()
				return nil, err
			}
		}
		st := vaultpg.New(db).WithTimeout(cfg.Postgres.TxTimeout)
		b.kind = "postgres"
		b.repo = st
		b.outbox = st
		next = ledger.NewPostgres(db)
	}

	b.custody = ledger.NewBreaker(next, ledger.BreakerConfig{
		Name:                "custody",
		ConsecutiveFailures: cfg.Custody.BreakerFailures,
		OpenTimeout:         cfg.Custody.BreakerOpenTimeout,
		HalfOpenRequests:    cfg.Custody.BreakerHalfOpenRequest,
	}, ledger.WithBreakerLogger(log))

	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		b.Close()
		return nil, err
	}
	if client != nil {
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.checks = append(b.checks, client.Health)
		b.redis = client

		opts := lock.DefaultOptions()
		opts.Expiry = cfg.Redis.LockExpiry
		opts.Tries = cfg.Redis.LockTries
		locker, err := lock.NewRedis(client.Client, opts, log)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("build policy locker: %w", err)
		}
		b.locker = locker
	}
	return b, nil
}

// newSpendLimiter returns nil when the spend rate limit is disabled. Limits are
// shared through Redis when it is configured.
func newSpendLimiter(cfg config.RateLimit, b *backends, log *slog.Logger) (*ratelimit.Limiter, error) {
	if cfg.SpendPerWindow == 0 {
		return nil, nil
	}
	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if b.redis != nil {
		store = ratelimit.NewRedisStore(b.redis.Client, "policyvault:ratelimit:")
	}
	limiter, err := ratelimit.New(store, cfg.SpendPerWindow, cfg.Window,
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(ratelimit.NewMetrics()),
	)
	if err != nil {
		return nil, fmt.Errorf("build spend rate limiter: %w", err)
	}
	return limiter, nil
}

// newPublisher returns the Kafka publisher when brokers are configured and the
// log publisher otherwise.
func newPublisher(ctx context.Context, cfg config.Kafka, log *slog.Logger) (notify.Publisher, func(), error) {
	if len(cfg.Brokers) == 0 {
		log.Warn("POLICYVAULT_KAFKA_BROKERS not set; spend notifications go to the log")
		return notify.NewLogPublisher(log), func() {}, nil
	}

	kcfg := notify.KafkaConfig{
		Brokers:           cfg.Brokers,
		Topic:             cfg.Topic,
		ClientID:          cfg.ClientID,
		Partitions:        cfg.Partitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}
	if cfg.EnsureTopic {
		if err := notify.EnsureTopic(ctx, kcfg); err != nil {
			return nil, nil, err
		}
	}
	publisher, err := notify.NewKafkaPublisher(kcfg)
	if err != nil {
		return nil, nil, err
	}
	return publisher, publisher.Close, nil
}
