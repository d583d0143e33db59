// Package postgres implements the vault store ports on PostgreSQL through the
// pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"policyvault/internal/vault/models"
	"policyvault/internal/vault/store"
	id "policyvault/pkg/domain"
	dErrors "policyvault/pkg/domain-errors"
	"policyvault/pkg/platform/pgnum"
	"policyvault/pkg/platform/sentinel"
	txcontext "policyvault/pkg/platform/tx"
)

const uniqueViolation = "23505"

// defaultTxTimeout bounds a transaction that arrives without a deadline.
const defaultTxTimeout = 5 * time.Second

// Store persists vault records. Calls made with a context from RunInTx join
// that transaction; other calls run on the pool.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Tx     = (*Store)(nil)
	_ store.Outbox = (*Store)(nil)
)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithTimeout overrides the default transaction timeout.
func (s *Store) WithTimeout(timeout time.Duration) *Store {
	s.timeout = timeout
	return s
}

func (s *Store) execer(ctx context.Context) txcontext.Executor {
	return txcontext.Use(ctx, s.db)
}

// RunInTx runs fn inside a database transaction carried by fn's context.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, st store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, nested := txcontext.From(ctx); nested {
		return fn(ctx, s)
	}

	timeout := s.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx), s); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Vaults
// -----------------------------------------------------------------------------

func (s *Store) CreateVault(ctx context.Context, vault *models.Vault) error {
	query := `INSERT INTO vaults (id, owner, created_at) VALUES ($1, $2, $3)`
	_, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(vault.ID), vault.Owner.String(), vault.CreatedAt)
	if err != nil {
		return translateWriteError("insert vault", err)
	}
	return nil
}

func (s *Store) FindVault(ctx context.Context, vaultID id.VaultID) (*models.Vault, error) {
	query := `SELECT id, owner, created_at FROM vaults WHERE id = $1`
	var (
		rawID uuid.UUID
		owner string
		v     models.Vault
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(vaultID)).Scan(&rawID, &owner, &v.CreatedAt)
	if err != nil {
		return nil, translateReadError("find vault", err)
	}
	v.ID = id.VaultID(rawID)
	v.Owner = id.Identity(owner)
	return &v, nil
}

// -----------------------------------------------------------------------------
// Policies
// -----------------------------------------------------------------------------

const policyColumns = `id, vault_id, authority, agent, daily_budget, spent_today, day_index,
	cooldown_seconds, last_spend_time, next_sequence, paused, allowlist_enabled,
	allowed_recipient, per_recipient_daily_cap, policy_version, last_audit_hash,
	created_at, updated_at`

func (s *Store) CreatePolicy(ctx context.Context, p *models.Policy) error {
	query := `INSERT INTO policies (` + policyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(p.ID),
		uuid.UUID(p.VaultID),
		p.Authority.String(),
		nullableIdentity(p.Agent),
		pgnum.Uint64(p.DailyBudget),
		pgnum.Uint64(p.SpentToday),
		p.DayIndex,
		int64(p.CooldownSeconds),
		p.LastSpendTime,
		pgnum.Uint64(p.NextSequence),
		p.Paused,
		p.AllowlistEnabled,
		nullableIdentity(p.AllowedRecipient),
		pgnum.Uint64(p.PerRecipientDailyCap),
		pgnum.Uint64(p.Version),
		p.LastAuditHash[:],
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return translateWriteError("insert policy", err)
	}
	return nil
}

// FindPolicy locks the row with FOR UPDATE when ctx carries a transaction so
// concurrent spend intents on one policy serialize.
func (s *Store) FindPolicy(ctx context.Context, policyID id.PolicyID) (*models.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE id = $1`
	if _, inTx := txcontext.From(ctx); inTx {
		query += ` FOR UPDATE`
	}
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(policyID))
	p, err := scanPolicy(row)
	if err != nil {
		return nil, translateReadError("find policy", err)
	}
	return p, nil
}

func (s *Store) UpdatePolicy(ctx context.Context, p *models.Policy) error {
	query := `
		UPDATE policies SET
			agent = $2, daily_budget = $3, spent_today = $4, day_index = $5,
			cooldown_seconds = $6, last_spend_time = $7, next_sequence = $8,
			paused = $9, allowlist_enabled = $10, allowed_recipient = $11,
			per_recipient_daily_cap = $12, policy_version = $13,
			last_audit_hash = $14, updated_at = $15
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(p.ID),
		nullableIdentity(p.Agent),
		pgnum.Uint64(p.DailyBudget),
		pgnum.Uint64(p.SpentToday),
		p.DayIndex,
		int64(p.CooldownSeconds),
		p.LastSpendTime,
		pgnum.Uint64(p.NextSequence),
		p.Paused,
		p.AllowlistEnabled,
		nullableIdentity(p.AllowedRecipient),
		pgnum.Uint64(p.PerRecipientDailyCap),
		pgnum.Uint64(p.Version),
		p.LastAuditHash[:],
		p.UpdatedAt,
	)
	if err != nil {
		return translateWriteError("update policy", err)
	}
	return requireAffected(res, "update policy")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*models.Policy, error) {
	var (
		p                       models.Policy
		rawID, rawVault         uuid.UUID
		authority               string
		agent, allowedRecipient sql.NullString
		cooldown                int64
		lastHash                []byte
	)
	err := row.Scan(
		&rawID,
		&rawVault,
		&authority,
		&agent,
		pgnum.Into(&p.DailyBudget),
		pgnum.Into(&p.SpentToday),
		&p.DayIndex,
		&cooldown,
		&p.LastSpendTime,
		pgnum.Into(&p.NextSequence),
		&p.Paused,
		&p.AllowlistEnabled,
		&allowedRecipient,
		pgnum.Into(&p.PerRecipientDailyCap),
		pgnum.Into(&p.Version),
		&lastHash,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ID = id.PolicyID(rawID)
	p.VaultID = id.VaultID(rawVault)
	p.Authority = id.Identity(authority)
	p.Agent = id.Identity(agent.String)
	p.AllowedRecipient = id.Identity(allowedRecipient.String)
	p.CooldownSeconds = uint32(cooldown)
	if err := copyHash(&p.LastAuditHash, lastHash); err != nil {
		return nil, err
	}
	return &p, nil
}

// -----------------------------------------------------------------------------
// Recipient trackers
// -----------------------------------------------------------------------------

func (s *Store) FindRecipientSpend(ctx context.Context, policyID id.PolicyID, recipient id.Identity) (*models.RecipientSpend, error) {
	query := `
		SELECT spent_today, day_index FROM recipient_spends
		WHERE policy_id = $1 AND recipient = $2
	`
	r := models.RecipientSpend{PolicyID: policyID, Recipient: recipient}
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(policyID), recipient.String()).
		Scan(pgnum.Into(&r.SpentToday), &r.DayIndex)
	if err != nil {
		return nil, translateReadError("find recipient spend", err)
	}
	return &r, nil
}

func (s *Store) SaveRecipientSpend(ctx context.Context, r *models.RecipientSpend) error {
	query := `
		INSERT INTO recipient_spends (policy_id, recipient, spent_today, day_index)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (policy_id, recipient)
		DO UPDATE SET spent_today = EXCLUDED.spent_today, day_index = EXCLUDED.day_index
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(r.PolicyID), r.Recipient.String(), pgnum.Uint64(r.SpentToday), r.DayIndex)
	if err != nil {
		return translateWriteError("save recipient spend", err)
	}
	return nil
}

func (s *Store) DeleteRecipientSpend(ctx context.Context, policyID id.PolicyID, recipient id.Identity) error {
	query := `DELETE FROM recipient_spends WHERE policy_id = $1 AND recipient = $2`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(policyID), recipient.String())
	if err != nil {
		return fmt.Errorf("delete recipient spend: %w", err)
	}
	return requireAffected(res, "delete recipient spend")
}

// -----------------------------------------------------------------------------
// Audit events
// -----------------------------------------------------------------------------

func (s *Store) AppendAuditEvent(ctx context.Context, e *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (
			policy_id, sequence, ts, recipient, amount, allowed,
			reason_code, policy_version, prev_hash, hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(e.PolicyID),
		pgnum.Uint64(e.Sequence),
		e.Timestamp,
		e.Recipient.String(),
		pgnum.Uint64(e.Amount),
		e.Allowed,
		int16(e.Reason),
		pgnum.Uint64(e.PolicyVersion),
		e.PrevHash[:],
		e.Hash[:],
	)
	if err != nil {
		return translateWriteError("insert audit event", err)
	}
	return nil
}

func (s *Store) ListAuditEvents(ctx context.Context, policyID id.PolicyID, fromSequence uint64, limit int) ([]*models.AuditEvent, error) {
	query := `
		SELECT sequence, ts, recipient, amount, allowed, reason_code,
			   policy_version, prev_hash, hash
		FROM audit_events
		WHERE policy_id = $1 AND sequence >= $2
		ORDER BY sequence
		LIMIT $3
	`
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(policyID), pgnum.Uint64(fromSequence), limitArg)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		e := &models.AuditEvent{PolicyID: policyID}
		var (
			recipient      string
			reason         int16
			prevHash, hash []byte
		)
		err := rows.Scan(
			pgnum.Into(&e.Sequence),
			&e.Timestamp,
			&recipient,
			pgnum.Into(&e.Amount),
			&e.Allowed,
			&reason,
			pgnum.Into(&e.PolicyVersion),
			&prevHash,
			&hash,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Recipient = id.Identity(recipient)
		e.Reason = models.ReasonCode(reason)
		if err := copyHash(&e.PrevHash, prevHash); err != nil {
			return nil, err
		}
		if err := copyHash(&e.Hash, hash); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func (s *Store) DeleteAuditEvent(ctx context.Context, policyID id.PolicyID, sequence uint64) error {
	query := `DELETE FROM audit_events WHERE policy_id = $1 AND sequence = $2`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(policyID), pgnum.Uint64(sequence))
	if err != nil {
		return fmt.Errorf("delete audit event: %w", err)
	}
	return requireAffected(res, "delete audit event")
}

// -----------------------------------------------------------------------------
// Notification outbox
// -----------------------------------------------------------------------------

// EnqueueNotification writes a notification to the outbox table. Inside a
// spend transaction it commits or rolls back with the decision.
func (s *Store) EnqueueNotification(ctx context.Context, key string, n models.SpendRecorded) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	query := `INSERT INTO notification_outbox (aggregate_key, payload) VALUES ($1, $2)`
	if _, err := s.execer(ctx).ExecContext(ctx, query, key, payload); err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *Store) PendingNotifications(ctx context.Context, limit int) ([]models.OutboxEntry, error) {
	query := `
		SELECT id, aggregate_key, payload, created_at
		FROM notification_outbox
		WHERE delivered_at IS NULL
		ORDER BY id
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []models.OutboxEntry
	for rows.Next() {
		var (
			entry   models.OutboxEntry
			payload []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Key, &payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		if err := json.Unmarshal(payload, &entry.Payload); err != nil {
			return nil, fmt.Errorf("decode outbox entry %d: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

func (s *Store) MarkDelivered(ctx context.Context, ids ...int64) error {
	query := `UPDATE notification_outbox SET delivered_at = NOW() WHERE id = $1`
	for _, entryID := range ids {
		if _, err := s.db.ExecContext(ctx, query, entryID); err != nil {
			return fmt.Errorf("mark outbox entry %d delivered: %w", entryID, err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func nullableIdentity(v id.Identity) sql.NullString {
	return sql.NullString{String: v.String(), Valid: !v.IsZero()}
}

func copyHash(dst *models.Hash, src []byte) error {
	if len(src) == 0 {
		*dst = models.Hash{}
		return nil
	}
	if len(src) != len(dst) {
		return fmt.Errorf("stored hash has %d bytes, want %d", len(src), len(dst))
	}
	copy(dst[:], src)
	return nil
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func translateReadError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func translateWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
