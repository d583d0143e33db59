package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"policyvault/internal/vault/store"
)

const (
	defaultRelayInterval = time.Second
	defaultBatchSize     = 100
)

// Relay moves outbox entries to a Publisher in creation order.
type Relay struct {
	outbox    store.Outbox
	publisher Publisher
	logger    *slog.Logger
	metrics   *Metrics
	interval  time.Duration
	batchSize int
}

type RelayOption func(*Relay)

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithRelayMetrics(m *Metrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewRelay(outbox store.Outbox, publisher Publisher, opts ...RelayOption) (*Relay, error) {
	if outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	r := &Relay{
		outbox:    outbox,
		publisher: publisher,
		logger:    slog.Default(),
		interval:  defaultRelayInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run relays on every tick until ctx is cancelled. Publish failures are
// logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "notification relay batch failed", "error", err)
			}
		}
	}
}

// drain flushes full batches until the outbox is empty or a batch fails.
func (r *Relay) drain(ctx context.Context) error {
	for {
		n, err := r.Flush(ctx)
		if err != nil {
			return err
		}
		if n < r.batchSize {
			return nil
		}
	}
}

// Flush publishes one batch and returns how many entries were delivered. The
// batch stops at the first failure so no later entry overtakes an earlier
// one; entries published before the failure are still marked delivered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	entries, err := r.outbox.PendingNotifications(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending notifications: %w", err)
	}
	if len(entries) == 0 {
		r.setBacklog(0)
		return 0, nil
	}

	delivered := make([]int64, 0, len(entries))
	var publishErr error
	for _, e := range entries {
		if err := r.publisher.Publish(ctx, e.Key, e.Payload); err != nil {
			publishErr = fmt.Errorf("publish notification %d: %w", e.ID, err)
			break
		}
		delivered = append(delivered, e.ID)
	}

	if len(delivered) > 0 {
		if err := r.outbox.MarkDelivered(ctx, delivered...); err != nil {
			return 0, fmt.Errorf("mark notifications delivered: %w", err)
		}
	}
	if r.metrics != nil {
		r.metrics.Published.Add(float64(len(delivered)))
		if publishErr != nil {
			r.metrics.PublishFailures.Inc()
		}
	}
	r.setBacklog(len(entries) - len(delivered))
	return len(delivered), publishErr
}

func (r *Relay) setBacklog(n int) {
	if r.metrics != nil {
		r.metrics.Backlog.Set(float64(n))
	}
}
