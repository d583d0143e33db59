//go:build integration

package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"policyvault/internal/vault/ledger"
	"policyvault/internal/vault/metrics"
	"policyvault/internal/vault/models"
	vaultpg "policyvault/internal/vault/store/postgres"
	dErrors "policyvault/pkg/domain-errors"
	"policyvault/pkg/testutil/containers"
)

// =============================================================================
// Vault Service PostgreSQL Integration Suite
// =============================================================================
// Verifies that the policy row lock, the audit chain and the custody debit
// share one PostgreSQL transaction.

type PostgresServiceSuite struct {
	suite.Suite
	ctx    context.Context
	db     *sql.DB
	ledger *ledger.PostgresLedger
	svc    *Service
	now    time.Time
}

func TestPostgresServiceSuite(t *testing.T) {
	suite.Run(t, new(PostgresServiceSuite))
}

func (s *PostgresServiceSuite) SetupSuite() {
	s.ctx = context.Background()
	s.db = containers.NewPostgres(s.T())
}

func (s *PostgresServiceSuite) SetupTest() {
	_, err := s.db.ExecContext(s.ctx, `
		TRUNCATE notification_outbox, audit_events, recipient_spends, recipient_balances,
		         vault_balances, policies, vaults CASCADE
	`)
	s.Require().NoError(err)

	s.now = time.Unix(1_700_000_000, 0).UTC()
	s.ledger = ledger.NewPostgres(s.db)
	svc, err := New(vaultpg.New(s.db), s.ledger,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(metrics.NewWithRegisterer(prometheus.NewRegistry())),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
	s.svc = svc
}

func (s *PostgresServiceSuite) fundedPolicy(budget, funds uint64, cooldown uint32) *models.Policy {
	vault, err := s.svc.CreateVault(s.ctx, owner)
	s.Require().NoError(err)
	policy, err := s.svc.CreatePolicy(s.ctx, CreatePolicyRequest{
		VaultID:         vault.ID,
		Authority:       owner,
		Agent:           agent,
		DailyBudget:     budget,
		CooldownSeconds: cooldown,
	})
	s.Require().NoError(err)
	if funds > 0 {
		_, err = s.svc.Deposit(s.ctx, vault.ID, owner, funds)
		s.Require().NoError(err)
	}
	return policy
}

func (s *PostgresServiceSuite) TestSpendCommitsDecisionAndTransfer() {
	policy := s.fundedPolicy(1000, 500, 0)

	res, err := s.svc.SpendIntent(s.ctx, policy.ID, agent, recipient, 120)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(uint64(0), res.Sequence)

	balance, err := s.ledger.Balance(s.ctx, policy.VaultID)
	s.Require().NoError(err)
	s.Equal(uint64(380), balance)

	stored, err := s.svc.GetPolicy(s.ctx, policy.ID)
	s.Require().NoError(err)
	s.Equal(uint64(120), stored.SpentToday)
	s.Equal(uint64(1), stored.NextSequence)

	tracker, err := s.svc.GetRecipientSpend(s.ctx, policy.ID, recipient)
	s.Require().NoError(err)
	s.Equal(uint64(120), tracker.SpentToday)

	s.NoError(s.svc.VerifyAuditTrail(s.ctx, policy.ID, 0, 0))
}

func (s *PostgresServiceSuite) TestInsufficientFundsRollsBack() {
	policy := s.fundedPolicy(1000, 50, 0)

	_, err := s.svc.SpendIntent(s.ctx, policy.ID, agent, recipient, 120)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientFunds))

	stored, err := s.svc.GetPolicy(s.ctx, policy.ID)
	s.Require().NoError(err)
	s.Equal(uint64(0), stored.SpentToday)
	s.Equal(uint64(0), stored.NextSequence)

	events, err := s.svc.ListAuditEvents(s.ctx, policy.ID, 0, 0)
	s.Require().NoError(err)
	s.Empty(events)

	_, err = s.svc.GetRecipientSpend(s.ctx, policy.ID, recipient)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	balance, err := s.ledger.Balance(s.ctx, policy.VaultID)
	s.Require().NoError(err)
	s.Equal(uint64(50), balance)
}

func (s *PostgresServiceSuite) TestDenialIsRecordedWithoutTransfer() {
	policy := s.fundedPolicy(100, 500, 0)

	res, err := s.svc.SpendIntent(s.ctx, policy.ID, agent, recipient, 101)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(models.ReasonBudgetExceeded, res.ReasonCode)

	balance, err := s.ledger.Balance(s.ctx, policy.VaultID)
	s.Require().NoError(err)
	s.Equal(uint64(500), balance)

	pending, err := vaultpg.New(s.db).PendingNotifications(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(policy.ID.String(), pending[0].Key)
	s.False(pending[0].Payload.Allowed)
}

func (s *PostgresServiceSuite) TestConcurrentIntentsSerializeOnPolicyRow() {
	policy := s.fundedPolicy(100, 1000, 0)

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.svc.SpendIntent(s.ctx, policy.ID, agent, recipient, 10)
			if err != nil {
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(10, allowed)

	events, err := s.svc.ListAuditEvents(s.ctx, policy.ID, 0, maxAuditPageSize)
	s.Require().NoError(err)
	s.Len(events, workers)
	for i, e := range events {
		s.Equal(uint64(i), e.Sequence)
	}
	s.NoError(s.svc.VerifyAuditTrail(s.ctx, policy.ID, 0, maxAuditPageSize))

	balance, err := s.ledger.Balance(s.ctx, policy.VaultID)
	s.Require().NoError(err)
	s.Equal(uint64(900), balance)
}
