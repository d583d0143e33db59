// Package ratelimit bounds how many requests one key may make inside a
// sliding window. Stores are in-memory (single process) or Redis (shared).
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Result describes one admission decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, only set when not allowed
}

// Store records request timestamps per key.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
	Reset(ctx context.Context, key string) error
}

// Limiter applies one limit and window to every key.
type Limiter struct {
	store   Store
	limit   int
	window  time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// New builds a limiter admitting limit requests per key per window.
func New(store Store, limit int, window time.Duration, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}
	if limit <= 0 {
		return nil, errors.New("rate limit must be positive")
	}
	if window <= 0 {
		return nil, errors.New("rate limit window must be positive")
	}
	l := &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Check admits or rejects one request for key.
func (l *Limiter) Check(ctx context.Context, key string) (*Result, error) {
	result, err := l.store.Allow(ctx, key, l.limit, l.window)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		result.RetryAfter = retryAfter(result.ResetAt, time.Now())
		if l.metrics != nil {
			l.metrics.IncrementRejected()
		}
	}
	return result, nil
}

func retryAfter(resetAt, now time.Time) int {
	secs := int(resetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
