package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"policyvault/internal/vault/engine"
	"policyvault/internal/vault/models"
	"policyvault/internal/vault/observability"
	"policyvault/internal/vault/store"
	id "policyvault/pkg/domain"
	dErrors "policyvault/pkg/domain-errors"
	"policyvault/pkg/platform/sentinel"
	txcontext "policyvault/pkg/platform/tx"
)

// SpendResult is the caller-visible outcome of a spend intent. A denial is a
// successful call with Allowed false.
type SpendResult struct {
	Sequence   uint64            `json:"sequence"`
	Allowed    bool              `json:"allowed"`
	ReasonCode models.ReasonCode `json:"reason_code"`
	Reason     string            `json:"reason"`
	Timestamp  int64             `json:"timestamp"`
}

// SpendIntent authorizes caller, evaluates the request against the policy and
// records the decision. When allowed, the vault is debited in the same
// transaction. Hard failures (unauthorized caller, unknown policy, overflow,
// custody failure) leave no trace: no audit record, no counter change.
func (s *Service) SpendIntent(ctx context.Context, policyID id.PolicyID, caller, recipient id.Identity, amount uint64) (result *SpendResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "vault.spend_intent", trace.WithAttributes(
		attribute.String("policy_id", policyID.String()),
		attribute.String("amount", strconv.FormatUint(amount, 10)),
	))
	defer func() { endSpan(span, err) }()
	if s.metrics != nil {
		defer s.metrics.ObserveSpendIntent(start)
	}

	if err := requireIdentity(recipient, "recipient"); err != nil {
		return nil, err
	}
	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	var decision *engine.Decision
	var vaultID id.VaultID
	err = s.locker.WithLock(ctx, policyID.String(), func(ctx context.Context) error {
		txCtx := txcontext.WithKey(ctx, policyID.String())
		return s.repo.RunInTx(txCtx, func(ctx context.Context, st store.Store) error {
			policy, err := st.FindPolicy(ctx, policyID)
			if err != nil {
				return translate(err, "policy not found")
			}
			if !policy.CanSubmitSpend(caller) {
				observability.LogAudit(ctx, s.logger, "spend_unauthorized",
					"policy_id", policyID.String(),
					"submitted_by", string(caller),
				)
				return dErrors.New(dErrors.CodeUnauthorized, "caller is not the policy authority or agent")
			}

			tracker, err := st.FindRecipientSpend(ctx, policyID, recipient)
			if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				return translate(err, "recipient tracker not found")
			}

			d, err := engine.Evaluate(engine.Intent{
				Policy:    policy,
				Tracker:   tracker,
				Recipient: recipient,
				Amount:    amount,
				Now:       s.now(ctx),
			})
			if err != nil {
				return err
			}

			if err := s.persistDecision(ctx, st, d); err != nil {
				return err
			}
			if d.Allowed {
				if err := s.transfer(ctx, policy.VaultID, recipient, amount); err != nil {
					return err
				}
			}
			decision = d
			vaultID = policy.VaultID
			return nil
		})
	})
	if err != nil {
		return nil, translate(err, "policy not found")
	}

	s.recordDecision(ctx, vaultID, decision)
	span.SetAttributes(
		attribute.Bool("allowed", decision.Allowed),
		attribute.String("reason", decision.Reason.String()),
	)
	return &SpendResult{
		Sequence:   decision.Audit.Sequence,
		Allowed:    decision.Allowed,
		ReasonCode: decision.Reason,
		Reason:     decision.Reason.String(),
		Timestamp:  decision.Audit.Timestamp,
	}, nil
}

func (s *Service) persistDecision(ctx context.Context, st store.Store, d *engine.Decision) error {
	if err := st.UpdatePolicy(ctx, d.Policy); err != nil {
		return translate(err, "policy not found")
	}
	if err := st.SaveRecipientSpend(ctx, d.Tracker); err != nil {
		return translate(err, "recipient tracker not found")
	}
	if err := st.AppendAuditEvent(ctx, d.Audit); err != nil {
		return translate(err, "policy not found")
	}
	notification := models.NewSpendRecorded(d.Policy.VaultID, d.Audit)
	if err := st.EnqueueNotification(ctx, d.Policy.ID.String(), notification); err != nil {
		return translate(err, "policy not found")
	}
	return nil
}

// transfer runs the custody call with its own deadline. ctx still carries the
// store transaction so a ledger sharing the database joins it.
func (s *Service) transfer(ctx context.Context, vaultID id.VaultID, recipient id.Identity, amount uint64) error {
	ctx, cancel := context.WithTimeout(ctx, s.custodyTimeout)
	defer cancel()

	err := s.custody.DebitCredit(ctx, vaultID, recipient, amount)
	if err == nil {
		return nil
	}
	if s.metrics != nil {
		s.metrics.IncrementCustodyFailure(custodyFailureKind(err))
	}
	s.logger.WarnContext(ctx, "custody transfer failed",
		"vault_id", vaultID.String(),
		"recipient", string(recipient),
		"amount", amount,
		"error", err,
	)
	switch {
	case errors.Is(err, sentinel.ErrInsufficientFunds):
		return dErrors.Wrap(err, dErrors.CodeInsufficientFunds, "vault balance too low for transfer")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "custody unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "custody transfer timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "custody transfer failed")
	}
}

// recordDecision emits logs and metrics for a committed decision.
func (s *Service) recordDecision(ctx context.Context, vaultID id.VaultID, d *engine.Decision) {
	if s.metrics != nil {
		s.metrics.ObserveDecision(d.Reason.String(), d.Allowed, d.Audit.Amount)
		if d.Regressed {
			s.metrics.IncrementClockRegression()
		}
	}
	if d.Regressed {
		s.logger.WarnContext(ctx, "clock moved to an earlier day; spend window reset",
			"policy_id", d.Policy.ID.String(),
			"day_index", d.Policy.DayIndex,
			"sequence", d.Audit.Sequence,
		)
	}

	event := "spend_allowed"
	if !d.Allowed {
		event = "spend_denied"
	}
	observability.LogAudit(ctx, s.logger, event,
		"vault_id", vaultID.String(),
		"policy_id", d.Policy.ID.String(),
		"sequence", d.Audit.Sequence,
		"recipient", string(d.Audit.Recipient),
		"amount", d.Audit.Amount,
		"reason", d.Reason.String(),
		"policy_version", d.Audit.PolicyVersion,
	)
}
