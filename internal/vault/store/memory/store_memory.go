// Package memory is an in-process implementation of the vault store ports,
// used by tests and single-node development setups.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"policyvault/internal/vault/models"
	"policyvault/internal/vault/store"
	id "policyvault/pkg/domain"
	"policyvault/pkg/platform/sentinel"
)

type trackerKey struct {
	policy    id.PolicyID
	recipient id.Identity
}

// InMemoryVaultStore keeps every record in maps guarded by one RWMutex.
// Transactions additionally serialize per policy (see RunInTx) and stage
// their writes until fn succeeds.
type InMemoryVaultStore struct {
	mu            sync.RWMutex
	vaults        map[id.VaultID]*models.Vault
	vaultsByOwner map[id.Identity]id.VaultID
	policies      map[id.PolicyID]*models.Policy
	policyByVault map[id.VaultID]id.PolicyID
	trackers      map[trackerKey]*models.RecipientSpend
	audit         map[id.PolicyID]map[uint64]*models.AuditEvent
	outbox        []models.OutboxEntry
	nextOutboxID  int64

	locksMu sync.Mutex
	locks   map[string]*keyLock
	timeout time.Duration
	now     func() time.Time
}

var (
	_ store.Store  = (*InMemoryVaultStore)(nil)
	_ store.Tx     = (*InMemoryVaultStore)(nil)
	_ store.Outbox = (*InMemoryVaultStore)(nil)
)

func New() *InMemoryVaultStore {
	return &InMemoryVaultStore{
		vaults:        make(map[id.VaultID]*models.Vault),
		vaultsByOwner: make(map[id.Identity]id.VaultID),
		policies:      make(map[id.PolicyID]*models.Policy),
		policyByVault: make(map[id.VaultID]id.PolicyID),
		trackers:      make(map[trackerKey]*models.RecipientSpend),
		audit:         make(map[id.PolicyID]map[uint64]*models.AuditEvent),
		locks:         make(map[string]*keyLock),
		now:           time.Now,
	}
}

func (s *InMemoryVaultStore) FindVault(_ context.Context, vaultID id.VaultID) (*models.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findVaultLocked(vaultID)
}

func (s *InMemoryVaultStore) findVaultLocked(vaultID id.VaultID) (*models.Vault, error) {
	v, ok := s.vaults[vaultID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *v
	return &clone, nil
}

func (s *InMemoryVaultStore) FindPolicy(_ context.Context, policyID id.PolicyID) (*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findPolicyLocked(policyID)
}

func (s *InMemoryVaultStore) findPolicyLocked(policyID id.PolicyID) (*models.Policy, error) {
	p, ok := s.policies[policyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *InMemoryVaultStore) FindRecipientSpend(_ context.Context, policyID id.PolicyID, recipient id.Identity) (*models.RecipientSpend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findTrackerLocked(trackerKey{policyID, recipient})
}

func (s *InMemoryVaultStore) findTrackerLocked(key trackerKey) (*models.RecipientSpend, error) {
	t, ok := s.trackers[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (s *InMemoryVaultStore) findAuditLocked(policyID id.PolicyID, sequence uint64) (*models.AuditEvent, bool) {
	e, ok := s.audit[policyID][sequence]
	return e, ok
}

func (s *InMemoryVaultStore) ListAuditEvents(_ context.Context, policyID id.PolicyID, fromSequence uint64, limit int) ([]*models.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.audit[policyID]
	sequences := make([]uint64, 0, len(events))
	for seq := range events {
		if seq >= fromSequence {
			sequences = append(sequences, seq)
		}
	}
	slices.Sort(sequences)
	if limit > 0 && len(sequences) > limit {
		sequences = sequences[:limit]
	}

	out := make([]*models.AuditEvent, 0, len(sequences))
	for _, seq := range sequences {
		clone := *events[seq]
		out = append(out, &clone)
	}
	return out, nil
}

// Write methods called outside RunInTx run as single-operation transactions.

func (s *InMemoryVaultStore) CreateVault(ctx context.Context, vault *models.Vault) error {
	return s.RunInTx(ctx, func(ctx context.Context, st store.Store) error {
		return st.CreateVault(ctx, vault)
	})
}

func (s *InMemoryVaultStore) CreatePolicy(ctx context.Context, policy *models.Policy) error {
	return s.RunInTx(ctx, func(ctx context.Context, st store.Store) error {
		return st.CreatePolicy(ctx, policy)
	})
}

func (s *InMemoryVaultStore) UpdatePolicy(ctx context.Context, policy *models.Policy) error {
	return s.RunInTx(ctx, func(ctx context.Context, st store.Store) error {
		return st.UpdatePolicy(ctx, policy)
	})
}

func (s *InMemoryVaultStore) SaveRecipientSpend(ctx context.Context, spend *models.RecipientSpend) error {
	return s.RunInTx(ctx, func(ctx context.Context, st store.Store) error {
		return st.SaveRecipientSpend(ctx, spend)
	})
}

func (s *InMemoryVaultStore) DeleteRecipientSpend(ctx context.Context, policyID id.PolicyID, recipient id.Identity) error {
	return s.RunInTx(ctx, func(ctx context.Context, st store.Store) error {
		return st.DeleteRecipientSpend(ctx, policyID, recipient)
	})
}

func (s *InMemoryVaultStore) AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	return s.RunInTx(ctx, func(ctx context.Context, st store.Store) error {
		return st.AppendAuditEvent(ctx, event)
	})
}

func (s *InMemoryVaultStore) DeleteAuditEvent(ctx context.Context, policyID id.PolicyID, sequence uint64) error {
	return s.RunInTx(ctx, func(ctx context.Context, st store.Store) error {
		return st.DeleteAuditEvent(ctx, policyID, sequence)
	})
}

func (s *InMemoryVaultStore) EnqueueNotification(ctx context.Context, key string, notification models.SpendRecorded) error {
	return s.RunInTx(ctx, func(ctx context.Context, st store.Store) error {
		return st.EnqueueNotification(ctx, key, notification)
	})
}

func (s *InMemoryVaultStore) PendingNotifications(_ context.Context, limit int) ([]models.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.outbox)
	if limit > 0 && n > limit {
		n = limit
	}
	return slices.Clone(s.outbox[:n]), nil
}

func (s *InMemoryVaultStore) MarkDelivered(_ context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outbox = slices.DeleteFunc(s.outbox, func(e models.OutboxEntry) bool {
		return slices.Contains(ids, e.ID)
	})
	return nil
}
