// Package lock provides cluster-wide mutual exclusion keyed by string.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"policyvault/pkg/platform/sentinel"
)

// Locker runs fn while holding the lock named key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Noop runs fn without locking. Used when a single process owns the store.
type Noop struct{}

func (Noop) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Options tunes lock acquisition.
type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
	Prefix     string
}

// DefaultOptions suits spend intents: short critical sections, fast retry.
func DefaultOptions() Options {
	return Options{
		Expiry:     10 * time.Second,
		Tries:      20,
		RetryDelay: 50 * time.Millisecond,
		Prefix:     "policyvault:lock:",
	}
}

// RedisLocker is a redsync mutex per key on a single Redis deployment.
type RedisLocker struct {
	rs     *redsync.Redsync
	opts   Options
	logger *slog.Logger
}

var _ Locker = (*RedisLocker)(nil)

func NewRedis(client redis.UniversalClient, opts Options, logger *slog.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Expiry <= 0 || opts.Tries <= 0 {
		return nil, fmt.Errorf("invalid lock options: expiry %s, tries %d", opts.Expiry, opts.Tries)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}, nil
}

// WithLock acquires the lock or fails with sentinel.ErrUnavailable. Errors
// from fn are returned unchanged.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("lock key is required")
	}
	name := l.opts.Prefix + key
	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		l.logger.WarnContext(ctx, "failed to acquire lock", "lock_key", name, "error", err)
		return fmt.Errorf("acquire lock %s: %w: %w", name, err, sentinel.ErrUnavailable)
	}
	defer func() {
		// Release on a fresh context so a cancelled request still unlocks.
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			l.logger.ErrorContext(ctx, "failed to release lock", "lock_key", name, "unlock_ok", ok, "error", err)
		}
	}()

	return fn(ctx)
}
