package models

import (
	"time"

	id "policyvault/pkg/domain"
)

// SpendRecorded is the outbound notification for every completed spend intent.
// Delivery is at-least-once; consumers deduplicate on (policy, sequence).
type SpendRecorded struct {
	VaultID       id.VaultID  `json:"vault"`
	PolicyID      id.PolicyID `json:"policy"`
	PolicyVersion uint64      `json:"policy_version"`
	Sequence      uint64      `json:"sequence"`
	Recipient     id.Identity `json:"recipient"`
	Amount        uint64      `json:"amount"`
	Allowed       bool        `json:"allowed"`
	ReasonCode    ReasonCode  `json:"reason_code"`
	Timestamp     int64       `json:"timestamp"`
}

// NewSpendRecorded projects an audit event onto the notification shape.
func NewSpendRecorded(vaultID id.VaultID, e *AuditEvent) SpendRecorded {
	return SpendRecorded{
		VaultID:       vaultID,
		PolicyID:      e.PolicyID,
		PolicyVersion: e.PolicyVersion,
		Sequence:      e.Sequence,
		Recipient:     e.Recipient,
		Amount:        e.Amount,
		Allowed:       e.Allowed,
		ReasonCode:    e.Reason,
		Timestamp:     e.Timestamp,
	}
}

// OutboxEntry is a notification waiting to be relayed.
type OutboxEntry struct {
	ID        int64
	Key       string
	Payload   SpendRecorded
	CreatedAt time.Time
}
