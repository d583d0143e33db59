package handler

import (
	"time"

	"policyvault/internal/vault/models"
)

type VaultResponse struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

type DepositResponse struct {
	VaultID string `json:"vault_id"`
	Balance uint64 `json:"balance"`
}

// PolicyResponse is the HTTP view of a policy, counters included.
type PolicyResponse struct {
	ID                   string    `json:"id"`
	VaultID              string    `json:"vault_id"`
	Authority            string    `json:"authority"`
	Agent                string    `json:"agent,omitempty"`
	DailyBudget          uint64    `json:"daily_budget"`
	SpentToday           uint64    `json:"spent_today"`
	DayIndex             int64     `json:"day_index"`
	CooldownSeconds      uint32    `json:"cooldown_seconds"`
	LastSpendTime        int64     `json:"last_spend_time"`
	NextSequence         uint64    `json:"next_sequence"`
	Paused               bool      `json:"paused"`
	AllowlistEnabled     bool      `json:"allowlist_enabled"`
	AllowedRecipient     string    `json:"allowed_recipient,omitempty"`
	PerRecipientDailyCap uint64    `json:"per_recipient_daily_cap"`
	PolicyVersion        uint64    `json:"policy_version"`
	LastAuditHash        string    `json:"last_audit_hash"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type AuditEventResponse struct {
	Sequence      uint64 `json:"sequence"`
	Timestamp     int64  `json:"timestamp"`
	Recipient     string `json:"recipient"`
	Amount        uint64 `json:"amount"`
	Allowed       bool   `json:"allowed"`
	ReasonCode    uint16 `json:"reason_code"`
	Reason        string `json:"reason"`
	PolicyVersion uint64 `json:"policy_version"`
	PrevHash      string `json:"prev_hash"`
	Hash          string `json:"hash"`
}

// AuditPageResponse carries one page of audit records. NextFrom is set when
// the page is non-empty and is the from value for the following page.
type AuditPageResponse struct {
	Events   []AuditEventResponse `json:"events"`
	NextFrom *uint64              `json:"next_from,omitempty"`
}

type RecipientSpendResponse struct {
	PolicyID   string `json:"policy_id"`
	Recipient  string `json:"recipient"`
	SpentToday uint64 `json:"spent_today"`
	DayIndex   int64  `json:"day_index"`
}

func toVaultResponse(v *models.Vault) VaultResponse {
	return VaultResponse{
		ID:        v.ID.String(),
		Owner:     v.Owner.String(),
		CreatedAt: v.CreatedAt,
	}
}

func toPolicyResponse(p *models.Policy) PolicyResponse {
	return PolicyResponse{
		ID:                   p.ID.String(),
		VaultID:              p.VaultID.String(),
		Authority:            p.Authority.String(),
		Agent:                p.Agent.String(),
		DailyBudget:          p.DailyBudget,
		SpentToday:           p.SpentToday,
		DayIndex:             p.DayIndex,
		CooldownSeconds:      p.CooldownSeconds,
		LastSpendTime:        p.LastSpendTime,
		NextSequence:         p.NextSequence,
		Paused:               p.Paused,
		AllowlistEnabled:     p.AllowlistEnabled,
		AllowedRecipient:     p.AllowedRecipient.String(),
		PerRecipientDailyCap: p.PerRecipientDailyCap,
		PolicyVersion:        p.Version,
		LastAuditHash:        p.LastAuditHash.String(),
		UpdatedAt:            p.UpdatedAt,
	}
}

func toAuditPage(events []*models.AuditEvent) AuditPageResponse {
	page := AuditPageResponse{Events: make([]AuditEventResponse, 0, len(events))}
	for _, e := range events {
		page.Events = append(page.Events, AuditEventResponse{
			Sequence:      e.Sequence,
			Timestamp:     e.Timestamp,
			Recipient:     e.Recipient.String(),
			Amount:        e.Amount,
			Allowed:       e.Allowed,
			ReasonCode:    uint16(e.Reason),
			Reason:        e.Reason.String(),
			PolicyVersion: e.PolicyVersion,
			PrevHash:      e.PrevHash.String(),
			Hash:          e.Hash.String(),
		})
	}
	if n := len(events); n > 0 {
		next := events[n-1].Sequence + 1
		page.NextFrom = &next
	}
	return page
}

func toRecipientSpendResponse(r *models.RecipientSpend) RecipientSpendResponse {
	return RecipientSpendResponse{
		PolicyID:   r.PolicyID.String(),
		Recipient:  r.Recipient.String(),
		SpentToday: r.SpentToday,
		DayIndex:   r.DayIndex,
	}
}
