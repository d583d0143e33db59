// Package store defines the persistence ports of the vault service. The
// memory and postgres subpackages implement them.
//
// Implementations return pkg/platform/sentinel errors:
//   - ErrNotFound when a record does not exist
//   - ErrConflict when a uniqueness rule is violated (one vault per owner,
//     one policy per vault, one audit record per sequence)
package store

import (
	"context"

	"policyvault/internal/vault/models"
	id "policyvault/pkg/domain"
)

// Store is the keyed record store for vaults, policies, recipient trackers,
// audit events and pending notifications.
type Store interface {
	CreateVault(ctx context.Context, vault *models.Vault) error
	FindVault(ctx context.Context, vaultID id.VaultID) (*models.Vault, error)

	CreatePolicy(ctx context.Context, policy *models.Policy) error
	// FindPolicy loads a policy. Inside RunInTx it also locks the policy for
	// the rest of the transaction.
	FindPolicy(ctx context.Context, policyID id.PolicyID) (*models.Policy, error)
	UpdatePolicy(ctx context.Context, policy *models.Policy) error

	FindRecipientSpend(ctx context.Context, policyID id.PolicyID, recipient id.Identity) (*models.RecipientSpend, error)
	SaveRecipientSpend(ctx context.Context, spend *models.RecipientSpend) error
	DeleteRecipientSpend(ctx context.Context, policyID id.PolicyID, recipient id.Identity) error

	AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error
	// ListAuditEvents returns up to limit events with sequence >= fromSequence,
	// ordered by sequence.
	ListAuditEvents(ctx context.Context, policyID id.PolicyID, fromSequence uint64, limit int) ([]*models.AuditEvent, error)
	DeleteAuditEvent(ctx context.Context, policyID id.PolicyID, sequence uint64) error

	EnqueueNotification(ctx context.Context, key string, notification models.SpendRecorded) error
}

// Tx provides the transactional boundary for one operation. fn receives a
// context carrying the transaction; collaborators that share the database
// (the postgres ledger) must use it. All writes made through the Store passed
// to fn commit together when fn returns nil and are discarded otherwise.
type Tx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// Outbox is the relay side of the notification outbox.
type Outbox interface {
	// PendingNotifications returns undelivered entries oldest first.
	PendingNotifications(ctx context.Context, limit int) ([]models.OutboxEntry, error)
	MarkDelivered(ctx context.Context, ids ...int64) error
}
