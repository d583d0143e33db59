package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "policyvault/pkg/domain"
	"policyvault/pkg/platform/pgnum"
	"policyvault/pkg/platform/sentinel"
	txcontext "policyvault/pkg/platform/tx"
)

// PostgresLedger keeps balances next to the vault tables. When the context
// carries a transaction (a spend intent in flight) the transfer joins it, so
// the debit commits or rolls back with the audit record.
type PostgresLedger struct {
	db *sql.DB
}

var (
	_ Ledger    = (*PostgresLedger)(nil)
	_ Depositor = (*PostgresLedger)(nil)
)

func NewPostgres(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) DebitCredit(ctx context.Context, vaultID id.VaultID, recipient id.Identity, amount uint64) error {
	return l.inTx(ctx, func(exec txcontext.Executor) error {
		debit := `
			UPDATE vault_balances SET balance = balance - $2
			WHERE vault_id = $1 AND balance >= $2
		`
		res, err := exec.ExecContext(ctx, debit, uuid.UUID(vaultID), pgnum.Uint64(amount))
		if err != nil {
			return fmt.Errorf("debit vault: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("debit vault: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("debit vault %s: %w", vaultID, sentinel.ErrInsufficientFunds)
		}

		credit := `
			INSERT INTO recipient_balances (recipient, balance) VALUES ($1, $2)
			ON CONFLICT (recipient)
			DO UPDATE SET balance = recipient_balances.balance + EXCLUDED.balance
		`
		if _, err := exec.ExecContext(ctx, credit, recipient.String(), pgnum.Uint64(amount)); err != nil {
			return fmt.Errorf("credit recipient: %w", err)
		}
		return nil
	})
}

func (l *PostgresLedger) Deposit(ctx context.Context, vaultID id.VaultID, amount uint64) error {
	query := `
		INSERT INTO vault_balances (vault_id, balance) VALUES ($1, $2)
		ON CONFLICT (vault_id)
		DO UPDATE SET balance = vault_balances.balance + EXCLUDED.balance
	`
	if _, err := txcontext.Use(ctx, l.db).ExecContext(ctx, query, uuid.UUID(vaultID), pgnum.Uint64(amount)); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Balance(ctx context.Context, vaultID id.VaultID) (uint64, error) {
	query := `SELECT balance FROM vault_balances WHERE vault_id = $1`
	var balance uint64
	err := txcontext.Use(ctx, l.db).QueryRowContext(ctx, query, uuid.UUID(vaultID)).Scan(pgnum.Into(&balance))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// inTx runs fn on the caller's transaction, or on a short transaction of its
// own so debit and credit never apply separately.
func (l *PostgresLedger) inTx(ctx context.Context, fn func(exec txcontext.Executor) error) error {
	if tx, ok := txcontext.From(ctx); ok {
		return fn(tx)
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	return nil
}
