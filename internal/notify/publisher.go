// Package notify relays SpendRecorded notifications from the store outbox to
// downstream consumers.
//
// Delivery is at-least-once: an entry is marked delivered only after the
// publisher acknowledged it, so a crash between the two replays it.
// Consumers deduplicate on (policy, sequence).
package notify

import (
	"context"
	"log/slog"

	"policyvault/internal/vault/models"
)

// EventType names SpendRecorded messages on the wire.
const EventType = "vault.spend_recorded"

// Publisher delivers one notification. key orders messages: entries sharing a
// key must reach consumers in publish order.
type Publisher interface {
	Publish(ctx context.Context, key string, notification models.SpendRecorded) error
}

// LogPublisher writes notifications to the structured log. Used when no
// brokers are configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, key string, n models.SpendRecorded) error {
	p.logger.InfoContext(ctx, EventType,
		"key", key,
		"vault_id", n.VaultID.String(),
		"policy_id", n.PolicyID.String(),
		"policy_version", n.PolicyVersion,
		"sequence", n.Sequence,
		"recipient", string(n.Recipient),
		"amount", n.Amount,
		"allowed", n.Allowed,
		"reason_code", uint16(n.ReasonCode),
		"timestamp", n.Timestamp,
		"log_type", "notification",
	)
	return nil
}
