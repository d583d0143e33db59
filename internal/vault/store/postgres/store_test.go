package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/suite"

	"policyvault/internal/vault/models"
	"policyvault/internal/vault/store"
	id "policyvault/pkg/domain"
	"policyvault/pkg/platform/sentinel"
)

// =============================================================================
// Postgres Store Test Suite
// =============================================================================
// Justification for unit tests: error translation, transaction plumbing and
// row locking are store contracts the service depends on. sqlmock pins the
// SQL shape without a database; the integration suite covers real Postgres.

type StoreSuite struct {
	suite.Suite
	db    *sql.DB
	mock  sqlmock.Sqlmock
	store *Store
	now   time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	db, mock, err := sqlmock.New()
	s.Require().NoError(err)
	s.db = db
	s.mock = mock
	s.store = New(db)
	s.now = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
}

func (s *StoreSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	_ = s.db.Close()
}

func (s *StoreSuite) policyRow(policyID id.PolicyID, vaultID id.VaultID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "vault_id", "authority", "agent", "daily_budget", "spent_today", "day_index",
		"cooldown_seconds", "last_spend_time", "next_sequence", "paused", "allowlist_enabled",
		"allowed_recipient", "per_recipient_daily_cap", "policy_version", "last_audit_hash",
		"created_at", "updated_at",
	}).AddRow(
		policyID.String(), vaultID.String(), "owner", nil, "18446744073709551615", "40", int64(20_545),
		int64(60), int64(1_775_000_000), "7", false, true,
		"r1", "0", "3", make([]byte, 32),
		s.now, s.now,
	)
}

// =============================================================================
// Error translation
// =============================================================================

func (s *StoreSuite) TestCreateVaultUniqueViolationIsConflict() {
	vault, err := models.NewVault(id.NewVaultID(), "owner", s.now)
	s.Require().NoError(err)

	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO vaults")).
		WithArgs(sqlmock.AnyArg(), "owner", s.now).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = s.store.CreateVault(context.Background(), vault)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *StoreSuite) TestFindVaultMissingIsNotFound() {
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner, created_at FROM vaults")).
		WillReturnError(sql.ErrNoRows)

	_, err := s.store.FindVault(context.Background(), id.NewVaultID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestDeleteWithNoRowsIsNotFound() {
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_events")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.store.DeleteAuditEvent(context.Background(), id.NewPolicyID(), 3)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM recipient_spends")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.NoError(s.store.DeleteRecipientSpend(context.Background(), id.NewPolicyID(), "r1"))
}

// =============================================================================
// Policies
// =============================================================================

func (s *StoreSuite) TestFindPolicyDecodesRow() {
	policyID, vaultID := id.NewPolicyID(), id.NewVaultID()
	s.mock.ExpectQuery(`SELECT .+ FROM policies WHERE id = \$1$`).
		WillReturnRows(s.policyRow(policyID, vaultID))

	p, err := s.store.FindPolicy(context.Background(), policyID)
	s.Require().NoError(err)
	s.Equal(policyID, p.ID)
	s.Equal(vaultID, p.VaultID)
	s.True(p.Agent.IsZero())
	s.Equal(uint64(18446744073709551615), p.DailyBudget)
	s.Equal(uint64(40), p.SpentToday)
	s.Equal(uint32(60), p.CooldownSeconds)
	s.Equal(uint64(7), p.NextSequence)
	s.Equal(id.Identity("r1"), p.AllowedRecipient)
	s.Equal(uint64(3), p.Version)
	s.True(p.LastAuditHash.IsZero())
}

func (s *StoreSuite) TestFindPolicyLocksRowInsideTransaction() {
	policyID := id.NewPolicyID()
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`SELECT .+ FROM policies WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(s.policyRow(policyID, id.NewVaultID()))
	s.mock.ExpectCommit()

	err := s.store.RunInTx(context.Background(), func(ctx context.Context, st store.Store) error {
		_, err := st.FindPolicy(ctx, policyID)
		return err
	})
	s.NoError(err)
}

// =============================================================================
// Transactions
// =============================================================================

func (s *StoreSuite) TestRunInTxRollsBackOnError() {
	boom := errors.New("custody failed")
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectRollback()

	err := s.store.RunInTx(context.Background(), func(ctx context.Context, st store.Store) error {
		if err := st.AppendAuditEvent(ctx, &models.AuditEvent{PolicyID: id.NewPolicyID()}); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)
}

func (s *StoreSuite) TestRunInTxCommitsOutboxWithDecision() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notification_outbox")).
		WithArgs("policy-key", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	s.mock.ExpectCommit()

	err := s.store.RunInTx(context.Background(), func(ctx context.Context, st store.Store) error {
		if err := st.AppendAuditEvent(ctx, &models.AuditEvent{PolicyID: id.NewPolicyID()}); err != nil {
			return err
		}
		return st.EnqueueNotification(ctx, "policy-key", models.SpendRecorded{Sequence: 1})
	})
	s.NoError(err)
}

// =============================================================================
// Audit and outbox reads
// =============================================================================

func (s *StoreSuite) TestListAuditEvents() {
	policyID := id.NewPolicyID()
	hash := make([]byte, 32)
	hash[0] = 0xab
	rows := sqlmock.NewRows([]string{
		"sequence", "ts", "recipient", "amount", "allowed", "reason_code",
		"policy_version", "prev_hash", "hash",
	}).
		AddRow("4", int64(1_775_000_000), "r1", "25", true, int64(1), "2", make([]byte, 32), hash).
		AddRow("5", int64(1_775_000_010), "r1", "0", false, int64(4), "2", hash, hash)

	s.mock.ExpectQuery(regexp.QuoteMeta("FROM audit_events")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 10).
		WillReturnRows(rows)

	events, err := s.store.ListAuditEvents(context.Background(), policyID, 4, 10)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(uint64(4), events[0].Sequence)
	s.Equal(uint64(25), events[0].Amount)
	s.Equal(models.ReasonInvalidAmount, events[1].Reason)
	s.Equal(events[0].Hash, events[1].PrevHash)
	s.Equal(policyID, events[1].PolicyID)
}

func (s *StoreSuite) TestPendingNotificationsDecodesPayload() {
	rows := sqlmock.NewRows([]string{"id", "aggregate_key", "payload", "created_at"}).
		AddRow(int64(9), "k", []byte(`{"sequence":3,"allowed":true,"reason_code":1}`), s.now)
	s.mock.ExpectQuery(regexp.QuoteMeta("FROM notification_outbox")).
		WithArgs(50).
		WillReturnRows(rows)

	entries, err := s.store.PendingNotifications(context.Background(), 50)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(int64(9), entries[0].ID)
	s.Equal(uint64(3), entries[0].Payload.Sequence)
	s.Equal(models.ReasonOK, entries[0].Payload.ReasonCode)
}

func (s *StoreSuite) TestMarkDelivered() {
	s.mock.ExpectExec(regexp.QuoteMeta("UPDATE notification_outbox")).WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(regexp.QuoteMeta("UPDATE notification_outbox")).WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.NoError(s.store.MarkDelivered(context.Background(), 1, 2))
}
