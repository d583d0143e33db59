package ledger

import (
	"context"
	"fmt"
	"sync"

	id "policyvault/pkg/domain"
	"policyvault/pkg/platform/sentinel"
)

// InMemoryLedger keeps vault and recipient balances in process.
type InMemoryLedger struct {
	mu         sync.Mutex
	vaults     map[id.VaultID]uint64
	recipients map[id.Identity]uint64
}

var (
	_ Ledger    = (*InMemoryLedger)(nil)
	_ Depositor = (*InMemoryLedger)(nil)
)

func NewInMemory() *InMemoryLedger {
	return &InMemoryLedger{
		vaults:     make(map[id.VaultID]uint64),
		recipients: make(map[id.Identity]uint64),
	}
}

func (l *InMemoryLedger) DebitCredit(_ context.Context, vaultID id.VaultID, recipient id.Identity, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.vaults[vaultID]
	if balance < amount {
		return fmt.Errorf("vault %s holds %d, debit %d: %w", vaultID, balance, amount, sentinel.ErrInsufficientFunds)
	}
	credited := l.recipients[recipient] + amount
	if credited < amount {
		return fmt.Errorf("recipient %s balance: %w", recipient, sentinel.ErrOverflow)
	}
	l.vaults[vaultID] = balance - amount
	l.recipients[recipient] = credited
	return nil
}

func (l *InMemoryLedger) Deposit(_ context.Context, vaultID id.VaultID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.vaults[vaultID] + amount
	if balance < amount {
		return fmt.Errorf("vault %s balance: %w", vaultID, sentinel.ErrOverflow)
	}
	l.vaults[vaultID] = balance
	return nil
}

func (l *InMemoryLedger) Balance(_ context.Context, vaultID id.VaultID) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vaults[vaultID], nil
}

// RecipientBalance reports what a recipient has received in total.
func (l *InMemoryLedger) RecipientBalance(recipient id.Identity) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recipients[recipient]
}
