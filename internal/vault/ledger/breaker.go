package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	id "policyvault/pkg/domain"
	"policyvault/pkg/platform/sentinel"
)

// BreakerConfig tunes the custody circuit breaker.
type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// DefaultBreakerConfig trips after five consecutive custody failures and
// probes again after thirty seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "custody",
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// BreakerLedger fails fast while custody is unhealthy. A refused debit
// (insufficient funds) is a business answer, not a custody failure, and never
// trips the breaker.
type BreakerLedger struct {
	next    Ledger
	breaker *gobreaker.CircuitBreaker
}

var _ Ledger = (*BreakerLedger)(nil)

// BreakerOption configures a BreakerLedger.
type BreakerOption func(*gobreaker.Settings)

// WithStateChangeHook is called on every breaker transition.
func WithStateChangeHook(fn func(name string, from, to gobreaker.State)) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.OnStateChange = fn
	}
}

// WithBreakerLogger logs breaker transitions.
func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(s *gobreaker.Settings) {
		prev := s.OnStateChange
		s.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn("custody circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if prev != nil {
				prev(name, from, to)
			}
		}
	}
}

func NewBreaker(next Ledger, cfg BreakerConfig, opts ...BreakerOption) *BreakerLedger {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, sentinel.ErrInsufficientFunds)
		},
	}
	for _, opt := range opts {
		opt(&settings)
	}
	return &BreakerLedger{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerLedger) DebitCredit(ctx context.Context, vaultID id.VaultID, recipient id.Identity, amount uint64) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.next.DebitCredit(ctx, vaultID, recipient, amount)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("custody circuit %s: %w: %w", b.breaker.Name(), err, sentinel.ErrUnavailable)
	}
	return err
}

// State reports the breaker state for health checks.
func (b *BreakerLedger) State() gobreaker.State {
	return b.breaker.State()
}

// Deposit passes through when the wrapped ledger can fund vaults.
func (b *BreakerLedger) Deposit(ctx context.Context, vaultID id.VaultID, amount uint64) error {
	d, ok := b.next.(Depositor)
	if !ok {
		return fmt.Errorf("ledger does not accept deposits: %w", sentinel.ErrInvalidState)
	}
	return d.Deposit(ctx, vaultID, amount)
}

func (b *BreakerLedger) Balance(ctx context.Context, vaultID id.VaultID) (uint64, error) {
	d, ok := b.next.(Depositor)
	if !ok {
		return 0, fmt.Errorf("ledger does not report balances: %w", sentinel.ErrInvalidState)
	}
	return d.Balance(ctx, vaultID)
}
