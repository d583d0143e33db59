package models

import (
	"time"

	id "policyvault/pkg/domain"
	dErrors "policyvault/pkg/domain-errors"
)

// Policy is the set of spend rules bound to one vault together with the
// counters the rules consume.
//
// Invariants:
//   - SpentToday <= DailyBudget while DayIndex is current, except after a
//     mid-window budget reduction (SetPolicy never reconciles SpentToday)
//   - NextSequence only grows; every value below it has been assigned to exactly
//     one audit event
//   - Version starts at 1 and grows by one on every admin mutation
//   - AllowlistEnabled implies AllowedRecipient is set
type Policy struct {
	ID                   id.PolicyID `json:"id"`
	VaultID              id.VaultID  `json:"vault_id"`
	Authority            id.Identity `json:"authority"`
	Agent                id.Identity `json:"agent,omitempty"`
	DailyBudget          uint64      `json:"daily_budget"`
	SpentToday           uint64      `json:"spent_today"`
	DayIndex             int64       `json:"day_index"`
	CooldownSeconds      uint32      `json:"cooldown_seconds"`
	LastSpendTime        int64       `json:"last_spend_time"`
	NextSequence         uint64      `json:"next_sequence"`
	Paused               bool        `json:"paused"`
	AllowlistEnabled     bool        `json:"allowlist_enabled"`
	AllowedRecipient     id.Identity `json:"allowed_recipient,omitempty"`
	PerRecipientDailyCap uint64      `json:"per_recipient_daily_cap"`
	Version              uint64      `json:"policy_version"`
	LastAuditHash        Hash        `json:"last_audit_hash"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// NewPolicy creates a policy for a vault with zeroed counters, the creation day
// as its day window and version 1.
func NewPolicy(policyID id.PolicyID, vaultID id.VaultID, authority, agent id.Identity, dailyBudget uint64, cooldownSeconds uint32, now time.Time) (*Policy, error) {
	if policyID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "policy id cannot be nil")
	}
	if vaultID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "vault id cannot be nil")
	}
	if authority.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "policy authority cannot be empty")
	}
	return &Policy{
		ID:              policyID,
		VaultID:         vaultID,
		Authority:       authority,
		Agent:           agent,
		DailyBudget:     dailyBudget,
		DayIndex:        DayOf(now),
		CooldownSeconds: cooldownSeconds,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// IsAuthority reports whether caller administers the policy.
func (p *Policy) IsAuthority(caller id.Identity) bool {
	return !caller.IsZero() && caller == p.Authority
}

// CanSubmitSpend reports whether caller may submit spend intents: the
// authority, or the agent when one is set.
func (p *Policy) CanSubmitSpend(caller id.Identity) bool {
	if p.IsAuthority(caller) {
		return true
	}
	return !p.Agent.IsZero() && caller == p.Agent
}

// RollDay resets the daily counter when currentDay differs from the stored
// window. regressed is true when the clock moved to an earlier day.
func (p *Policy) RollDay(currentDay int64) (rolled, regressed bool) {
	if currentDay == p.DayIndex {
		return false, false
	}
	regressed = currentDay < p.DayIndex
	p.SpentToday = 0
	p.DayIndex = currentDay
	return true, regressed
}

// PolicyParams carries an admin update. Budget, cooldown and agent are always
// replaced (a zero Agent clears it); nil pointer fields keep their value.
type PolicyParams struct {
	DailyBudget          uint64
	CooldownSeconds      uint32
	Agent                id.Identity
	Paused               *bool
	AllowlistEnabled     *bool
	AllowedRecipient     *id.Identity
	PerRecipientDailyCap *uint64
}

// ApplyParams replaces the policy parameters and bumps the version. SpentToday
// and DayIndex are left alone: a lowered budget only constrains later spends in
// the same window.
func (p *Policy) ApplyParams(params PolicyParams, now time.Time) error {
	allowlist := p.AllowlistEnabled
	if params.AllowlistEnabled != nil {
		allowlist = *params.AllowlistEnabled
	}
	allowed := p.AllowedRecipient
	if params.AllowedRecipient != nil {
		allowed = *params.AllowedRecipient
	}
	if allowlist && allowed.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "allowlist requires an allowed recipient")
	}
	if p.Version == ^uint64(0) {
		return dErrors.New(dErrors.CodeOverflow, "policy version exhausted")
	}

	p.DailyBudget = params.DailyBudget
	p.CooldownSeconds = params.CooldownSeconds
	p.Agent = params.Agent
	if params.Paused != nil {
		p.Paused = *params.Paused
	}
	p.AllowlistEnabled = allowlist
	p.AllowedRecipient = allowed
	if params.PerRecipientDailyCap != nil {
		p.PerRecipientDailyCap = *params.PerRecipientDailyCap
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}
