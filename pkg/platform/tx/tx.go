// Package tx threads a database transaction through context so stores and the
// Postgres ledger taking part in one spend intent share a single *sql.Tx.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

// Executor is the subset of *sql.DB and *sql.Tx used by stores.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(ctxKey{}).(*sql.Tx)
	return tx, ok
}

// Use returns the transaction bound to ctx, falling back to db.
func Use(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := From(ctx); ok {
		return tx
	}
	return db
}

type keyCtxKey struct{}

// WithKey names the record a transaction is scoped to. Stores that serialize
// by key (in-memory lock striping) use it to pick a lock.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyCtxKey{}, key)
}

// Key returns the transaction key set by WithKey.
func Key(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(keyCtxKey{}).(string)
	return key, ok && key != ""
}
