// Package service orchestrates vault administration and spend authorization.
//
// Every mutating operation runs inside one store transaction scoped to the
// policy (or vault) it touches. SpendIntent additionally takes the
// cluster-wide policy lock, evaluates the rule chain, appends the audit
// record, enqueues the SpendRecorded notification and calls custody last, so
// a custody failure discards everything the intent wrote.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"policyvault/internal/platform/lock"
	"policyvault/internal/vault/ledger"
	"policyvault/internal/vault/metrics"
	"policyvault/internal/vault/store"
	dErrors "policyvault/pkg/domain-errors"
	"policyvault/pkg/requestcontext"
)

const (
	defaultCustodyTimeout = 5 * time.Second
	defaultAuditPageSize  = 100
	maxAuditPageSize      = 1000
)

// Repository is the store the service needs: keyed records plus a
// transaction boundary.
type Repository interface {
	store.Store
	store.Tx
}

type Service struct {
	repo           Repository
	custody        ledger.Ledger
	locker         lock.Locker
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	now            func(ctx context.Context) time.Time
	custodyTimeout time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock replaces the request-scoped time with a fixed source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = func(context.Context) time.Time { return now() }
	}
}

// WithPolicyLocker adds cluster-wide exclusion around every policy mutation.
func WithPolicyLocker(l lock.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithCustodyTimeout bounds each custody transfer.
func WithCustodyTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.custodyTimeout = d
	}
}

func New(repo Repository, custody ledger.Ledger, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("vault store is required")
	}
	if custody == nil {
		return nil, errors.New("custody ledger is required")
	}

	svc := &Service{
		repo:           repo,
		custody:        custody,
		locker:         lock.Noop{},
		logger:         slog.Default(),
		tracer:         otel.Tracer("policyvault/vault"),
		now:            requestcontext.Now,
		custodyTimeout: defaultCustodyTimeout,
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.locker == nil {
		svc.locker = lock.Noop{}
	}
	return svc, nil
}

// endSpan records err on span before ending it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}
