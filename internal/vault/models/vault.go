package models

import (
	"time"

	id "policyvault/pkg/domain"
	dErrors "policyvault/pkg/domain-errors"
)

// Vault is a custodial balance container. The balance itself lives in the
// ledger; the vault record only binds the container to its owner.
//
// Invariants:
//   - Owner is non-empty
//   - At most one vault exists per owner (enforced by the store)
type Vault struct {
	ID        id.VaultID  `json:"id"`
	Owner     id.Identity `json:"owner"`
	CreatedAt time.Time   `json:"created_at"`
}

func NewVault(vaultID id.VaultID, owner id.Identity, now time.Time) (*Vault, error) {
	if vaultID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "vault id cannot be nil")
	}
	if owner.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "vault owner cannot be empty")
	}
	return &Vault{ID: vaultID, Owner: owner, CreatedAt: now}, nil
}
