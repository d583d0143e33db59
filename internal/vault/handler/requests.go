package handler

import (
	"policyvault/internal/vault/models"
	id "policyvault/pkg/domain"
)

// DepositRequest is the body for POST /vaults/{vaultID}/deposits.
type DepositRequest struct {
	Amount uint64 `json:"amount" validate:"gt=0"`
}

// CreatePolicyRequest is the body for POST /vaults/{vaultID}/policy.
type CreatePolicyRequest struct {
	Agent           string  `json:"agent,omitempty" validate:"omitempty,max=128"`
	DailyBudget     *uint64 `json:"daily_budget" validate:"required"`
	CooldownSeconds uint32  `json:"cooldown_seconds"`

	parsedAgent id.Identity
}

func (r *CreatePolicyRequest) Validate() error {
	if r.Agent == "" {
		return nil
	}
	agent, err := id.ParseIdentity(r.Agent)
	if err != nil {
		return err
	}
	r.parsedAgent = agent
	return nil
}

func (r *CreatePolicyRequest) ParsedAgent() id.Identity {
	return r.parsedAgent
}

// SetPolicyRequest is the body for PUT /policies/{policyID}. Budget, cooldown
// and agent are always replaced; omitted optional fields keep their value.
type SetPolicyRequest struct {
	DailyBudget          *uint64 `json:"daily_budget" validate:"required"`
	CooldownSeconds      uint32  `json:"cooldown_seconds"`
	Agent                string  `json:"agent,omitempty" validate:"omitempty,max=128"`
	Paused               *bool   `json:"paused,omitempty"`
	AllowlistEnabled     *bool   `json:"allowlist_enabled,omitempty"`
	AllowedRecipient     *string `json:"allowed_recipient,omitempty" validate:"omitempty,max=128"`
	PerRecipientDailyCap *uint64 `json:"per_recipient_daily_cap,omitempty"`

	params models.PolicyParams
}

func (r *SetPolicyRequest) Validate() error {
	r.params = models.PolicyParams{
		DailyBudget:          *r.DailyBudget,
		CooldownSeconds:      r.CooldownSeconds,
		Paused:               r.Paused,
		AllowlistEnabled:     r.AllowlistEnabled,
		PerRecipientDailyCap: r.PerRecipientDailyCap,
	}
	if r.Agent != "" {
		agent, err := id.ParseIdentity(r.Agent)
		if err != nil {
			return err
		}
		r.params.Agent = agent
	}
	if r.AllowedRecipient != nil {
		// An empty string clears the allowed recipient.
		var allowed id.Identity
		if *r.AllowedRecipient != "" {
			parsed, err := id.ParseIdentity(*r.AllowedRecipient)
			if err != nil {
				return err
			}
			allowed = parsed
		}
		r.params.AllowedRecipient = &allowed
	}
	return nil
}

// Params returns the validated update.
func (r *SetPolicyRequest) Params() models.PolicyParams {
	return r.params
}

// SpendRequest is the body for POST /policies/{policyID}/spend. A zero amount
// is accepted here and denied by the policy as INVALID_AMOUNT.
type SpendRequest struct {
	Recipient string  `json:"recipient" validate:"required,max=128"`
	Amount    *uint64 `json:"amount" validate:"required"`

	parsedRecipient id.Identity
}

func (r *SpendRequest) Validate() error {
	recipient, err := id.ParseIdentity(r.Recipient)
	if err != nil {
		return err
	}
	r.parsedRecipient = recipient
	return nil
}

func (r *SpendRequest) ParsedRecipient() id.Identity {
	return r.parsedRecipient
}
