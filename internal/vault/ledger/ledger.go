// Package ledger moves funds out of vaults. The service treats it as the
// custody capability: a debit either completes in full or fails with no
// partial transfer.
package ledger

import (
	"context"

	id "policyvault/pkg/domain"
)

//go:generate mockgen -source=ledger.go -destination=mocks/mocks.go -package=mocks

// Ledger transfers amount from a vault to a recipient. It returns
// sentinel.ErrInsufficientFunds when the vault balance is too low and
// sentinel.ErrUnavailable when custody cannot be reached.
type Ledger interface {
	DebitCredit(ctx context.Context, vaultID id.VaultID, recipient id.Identity, amount uint64) error
}

// Depositor is implemented by ledgers that can fund a vault.
type Depositor interface {
	Deposit(ctx context.Context, vaultID id.VaultID, amount uint64) error
	Balance(ctx context.Context, vaultID id.VaultID) (uint64, error)
}
