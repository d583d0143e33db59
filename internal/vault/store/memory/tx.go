package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"policyvault/internal/vault/models"
	"policyvault/internal/vault/store"
	id "policyvault/pkg/domain"
	dErrors "policyvault/pkg/domain-errors"
	"policyvault/pkg/platform/sentinel"
	txcontext "policyvault/pkg/platform/tx"
)

// defaultTxTimeout bounds a transaction that arrives without a deadline.
const defaultTxTimeout = 5 * time.Second

// WithTimeout overrides the default transaction timeout.
func (s *InMemoryVaultStore) WithTimeout(timeout time.Duration) *InMemoryVaultStore {
	s.timeout = timeout
	return s
}

// RunInTx runs fn against a staged view of the store. Writes become visible
// only when fn returns nil; any error discards them.
func (s *InMemoryVaultStore) RunInTx(ctx context.Context, fn func(ctx context.Context, st store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
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

	key, _ := txcontext.Key(ctx)
	unlock := s.lockKey(key)
	defer unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	staged := newTxStore(s)
	if err := fn(ctx, staged); err != nil {
		return err
	}
	return staged.commit()
}

// keyLock serializes transactions on one key (the policy ID set with
// tx.WithKey). Unkeyed transactions share the empty key. Entries are dropped
// once no transaction holds or waits on them.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (s *InMemoryVaultStore) lockKey(key string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.locksMu.Unlock()
	}
}

type auditKey struct {
	policy   id.PolicyID
	sequence uint64
}

type pendingNotification struct {
	key     string
	payload models.SpendRecorded
}

// txStore stages writes on top of the committed maps. A nil tracker or audit
// entry marks a staged delete.
type txStore struct {
	base *InMemoryVaultStore

	vaults          map[id.VaultID]*models.Vault
	policies        map[id.PolicyID]*models.Policy
	createdPolicies map[id.PolicyID]bool
	trackers        map[trackerKey]*models.RecipientSpend
	audit           map[auditKey]*models.AuditEvent
	outbox          []pendingNotification
}

func newTxStore(base *InMemoryVaultStore) *txStore {
	return &txStore{
		base:            base,
		vaults:          make(map[id.VaultID]*models.Vault),
		policies:        make(map[id.PolicyID]*models.Policy),
		createdPolicies: make(map[id.PolicyID]bool),
		trackers:        make(map[trackerKey]*models.RecipientSpend),
		audit:           make(map[auditKey]*models.AuditEvent),
	}
}

func (t *txStore) CreateVault(_ context.Context, vault *models.Vault) error {
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()

	if _, exists := t.base.vaults[vault.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := t.base.vaultsByOwner[vault.Owner]; exists {
		return sentinel.ErrConflict
	}
	for _, staged := range t.vaults {
		if staged.ID == vault.ID || staged.Owner == vault.Owner {
			return sentinel.ErrConflict
		}
	}
	clone := *vault
	t.vaults[vault.ID] = &clone
	return nil
}

func (t *txStore) FindVault(_ context.Context, vaultID id.VaultID) (*models.Vault, error) {
	if v, ok := t.vaults[vaultID]; ok {
		clone := *v
		return &clone, nil
	}
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()
	return t.base.findVaultLocked(vaultID)
}

func (t *txStore) CreatePolicy(_ context.Context, policy *models.Policy) error {
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()

	if _, exists := t.base.policies[policy.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := t.base.policyByVault[policy.VaultID]; exists {
		return sentinel.ErrConflict
	}
	for _, staged := range t.policies {
		if staged.ID == policy.ID || (t.createdPolicies[staged.ID] && staged.VaultID == policy.VaultID) {
			return sentinel.ErrConflict
		}
	}
	clone := *policy
	t.policies[policy.ID] = &clone
	t.createdPolicies[policy.ID] = true
	return nil
}

func (t *txStore) FindPolicy(_ context.Context, policyID id.PolicyID) (*models.Policy, error) {
	if p, ok := t.policies[policyID]; ok {
		clone := *p
		return &clone, nil
	}
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()
	return t.base.findPolicyLocked(policyID)
}

func (t *txStore) UpdatePolicy(ctx context.Context, policy *models.Policy) error {
	if _, err := t.FindPolicy(ctx, policy.ID); err != nil {
		return err
	}
	clone := *policy
	t.policies[policy.ID] = &clone
	return nil
}

func (t *txStore) FindRecipientSpend(_ context.Context, policyID id.PolicyID, recipient id.Identity) (*models.RecipientSpend, error) {
	key := trackerKey{policyID, recipient}
	if r, ok := t.trackers[key]; ok {
		if r == nil {
			return nil, sentinel.ErrNotFound
		}
		clone := *r
		return &clone, nil
	}
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()
	return t.base.findTrackerLocked(key)
}

func (t *txStore) SaveRecipientSpend(_ context.Context, spend *models.RecipientSpend) error {
	clone := *spend
	t.trackers[trackerKey{spend.PolicyID, spend.Recipient}] = &clone
	return nil
}

func (t *txStore) DeleteRecipientSpend(ctx context.Context, policyID id.PolicyID, recipient id.Identity) error {
	if _, err := t.FindRecipientSpend(ctx, policyID, recipient); err != nil {
		return err
	}
	t.trackers[trackerKey{policyID, recipient}] = nil
	return nil
}

func (t *txStore) AppendAuditEvent(_ context.Context, event *models.AuditEvent) error {
	key := auditKey{event.PolicyID, event.Sequence}
	if _, staged := t.audit[key]; staged {
		return sentinel.ErrConflict
	}
	t.base.mu.RLock()
	_, exists := t.base.findAuditLocked(event.PolicyID, event.Sequence)
	t.base.mu.RUnlock()
	if exists {
		return sentinel.ErrConflict
	}
	clone := *event
	t.audit[key] = &clone
	return nil
}

func (t *txStore) ListAuditEvents(ctx context.Context, policyID id.PolicyID, fromSequence uint64, limit int) ([]*models.AuditEvent, error) {
	committed, err := t.base.ListAuditEvents(ctx, policyID, fromSequence, 0)
	if err != nil {
		return nil, err
	}
	bySeq := make(map[uint64]*models.AuditEvent, len(committed))
	for _, e := range committed {
		bySeq[e.Sequence] = e
	}
	for key, e := range t.audit {
		if key.policy != policyID || key.sequence < fromSequence {
			continue
		}
		if e == nil {
			delete(bySeq, key.sequence)
			continue
		}
		clone := *e
		bySeq[key.sequence] = &clone
	}

	out := make([]*models.AuditEvent, 0, len(bySeq))
	for _, e := range bySeq {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *models.AuditEvent) int {
		switch {
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		}
		return 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *txStore) DeleteAuditEvent(_ context.Context, policyID id.PolicyID, sequence uint64) error {
	key := auditKey{policyID, sequence}
	if e, staged := t.audit[key]; staged {
		if e == nil {
			return sentinel.ErrNotFound
		}
	} else {
		t.base.mu.RLock()
		_, exists := t.base.findAuditLocked(policyID, sequence)
		t.base.mu.RUnlock()
		if !exists {
			return sentinel.ErrNotFound
		}
	}
	t.audit[key] = nil
	return nil
}

func (t *txStore) EnqueueNotification(_ context.Context, key string, notification models.SpendRecorded) error {
	t.outbox = append(t.outbox, pendingNotification{key: key, payload: notification})
	return nil
}

// commit re-checks uniqueness against writes committed by transactions on
// other keys, then applies the write set.
func (t *txStore) commit() error {
	b := t.base
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, v := range t.vaults {
		if _, exists := b.vaults[v.ID]; exists {
			return sentinel.ErrConflict
		}
		if _, exists := b.vaultsByOwner[v.Owner]; exists {
			return sentinel.ErrConflict
		}
	}
	for policyID := range t.createdPolicies {
		p := t.policies[policyID]
		if _, exists := b.policies[p.ID]; exists {
			return sentinel.ErrConflict
		}
		if _, exists := b.policyByVault[p.VaultID]; exists {
			return sentinel.ErrConflict
		}
	}
	for key, e := range t.audit {
		if e == nil {
			continue
		}
		if _, exists := b.findAuditLocked(key.policy, key.sequence); exists {
			return sentinel.ErrConflict
		}
	}

	for _, v := range t.vaults {
		b.vaults[v.ID] = v
		b.vaultsByOwner[v.Owner] = v.ID
	}
	for _, p := range t.policies {
		b.policies[p.ID] = p
		b.policyByVault[p.VaultID] = p.ID
	}
	for key, r := range t.trackers {
		if r == nil {
			delete(b.trackers, key)
			continue
		}
		b.trackers[key] = r
	}
	for key, e := range t.audit {
		if e == nil {
			delete(b.audit[key.policy], key.sequence)
			continue
		}
		if b.audit[key.policy] == nil {
			b.audit[key.policy] = make(map[uint64]*models.AuditEvent)
		}
		b.audit[key.policy][key.sequence] = e
	}
	now := b.now()
	for _, n := range t.outbox {
		b.nextOutboxID++
		b.outbox = append(b.outbox, models.OutboxEntry{
			ID:        b.nextOutboxID,
			Key:       n.key,
			Payload:   n.payload,
			CreatedAt: now,
		})
	}
	return nil
}
