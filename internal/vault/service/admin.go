package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"policyvault/internal/vault/ledger"
	"policyvault/internal/vault/models"
	"policyvault/internal/vault/observability"
	"policyvault/internal/vault/store"
	id "policyvault/pkg/domain"
	dErrors "policyvault/pkg/domain-errors"
	"policyvault/pkg/platform/sentinel"
	txcontext "policyvault/pkg/platform/tx"
)

// CreatePolicyRequest describes a new policy. Agent is optional.
type CreatePolicyRequest struct {
	VaultID         id.VaultID
	Authority       id.Identity
	Agent           id.Identity
	DailyBudget     uint64
	CooldownSeconds uint32
}

// CreateVault opens the single vault owner may hold.
func (s *Service) CreateVault(ctx context.Context, owner id.Identity) (vault *models.Vault, err error) {
	ctx, span := s.tracer.Start(ctx, "vault.create_vault")
	defer func() { endSpan(span, err) }()

	if err := requireIdentity(owner, "owner"); err != nil {
		return nil, err
	}
	vault, err = models.NewVault(id.NewVaultID(), owner, s.now(ctx))
	if err != nil {
		return nil, err
	}

	err = s.repo.RunInTx(txcontext.WithKey(ctx, string(owner)), func(ctx context.Context, st store.Store) error {
		return st.CreateVault(ctx, vault)
	})
	if errors.Is(err, sentinel.ErrConflict) {
		return nil, dErrors.Wrap(err, dErrors.CodeConflict, "owner already has a vault")
	}
	if err != nil {
		return nil, translate(err, "vault not found")
	}

	observability.LogAudit(ctx, s.logger, "vault_created",
		"vault_id", vault.ID.String(),
		"owner", string(owner),
	)
	return vault, nil
}

// CreatePolicy binds the single policy a vault may carry. Only the vault
// owner may act as its authority.
func (s *Service) CreatePolicy(ctx context.Context, req CreatePolicyRequest) (policy *models.Policy, err error) {
	ctx, span := s.tracer.Start(ctx, "vault.create_policy", trace.WithAttributes(
		attribute.String("vault_id", req.VaultID.String()),
	))
	defer func() { endSpan(span, err) }()

	if req.Authority.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authority is required")
	}
	if err := requireCaller(req.Authority); err != nil {
		return nil, err
	}
	if !req.Agent.IsZero() {
		if err := requireIdentity(req.Agent, "agent"); err != nil {
			return nil, err
		}
	}

	err = s.repo.RunInTx(txcontext.WithKey(ctx, req.VaultID.String()), func(ctx context.Context, st store.Store) error {
		vault, err := st.FindVault(ctx, req.VaultID)
		if err != nil {
			return translate(err, "vault not found")
		}
		if vault.Owner != req.Authority {
			return dErrors.New(dErrors.CodeUnauthorized, "only the vault owner may create its policy")
		}
		p, err := models.NewPolicy(id.NewPolicyID(), vault.ID, req.Authority, req.Agent, req.DailyBudget, req.CooldownSeconds, s.now(ctx))
		if err != nil {
			return err
		}
		if err := st.CreatePolicy(ctx, p); err != nil {
			return err
		}
		policy = p
		return nil
	})
	if errors.Is(err, sentinel.ErrConflict) {
		return nil, dErrors.Wrap(err, dErrors.CodeConflict, "vault already has a policy")
	}
	if err != nil {
		return nil, translate(err, "vault not found")
	}

	observability.LogAudit(ctx, s.logger, "policy_created",
		"vault_id", policy.VaultID.String(),
		"policy_id", policy.ID.String(),
		"authority", string(policy.Authority),
		"daily_budget", policy.DailyBudget,
		"cooldown_seconds", policy.CooldownSeconds,
	)
	return policy, nil
}

// SetPolicy replaces the policy parameters. Counters and the day window are
// left untouched; the version grows by one.
func (s *Service) SetPolicy(ctx context.Context, policyID id.PolicyID, caller id.Identity, params models.PolicyParams) (policy *models.Policy, err error) {
	ctx, span := s.tracer.Start(ctx, "vault.set_policy", trace.WithAttributes(
		attribute.String("policy_id", policyID.String()),
	))
	defer func() { endSpan(span, err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if !params.Agent.IsZero() {
		if err := requireIdentity(params.Agent, "agent"); err != nil {
			return nil, err
		}
	}
	if params.AllowedRecipient != nil && !params.AllowedRecipient.IsZero() {
		if err := requireIdentity(*params.AllowedRecipient, "allowed_recipient"); err != nil {
			return nil, err
		}
	}

	err = s.withPolicyTx(ctx, policyID, func(ctx context.Context, st store.Store) error {
		p, err := s.loadForAuthority(ctx, st, policyID, caller)
		if err != nil {
			return err
		}
		if err := p.ApplyParams(params, s.now(ctx)); err != nil {
			return err
		}
		if err := st.UpdatePolicy(ctx, p); err != nil {
			return translate(err, "policy not found")
		}
		policy = p
		return nil
	})
	if err != nil {
		return nil, translate(err, "policy not found")
	}

	if s.metrics != nil {
		s.metrics.IncrementPolicyUpdate()
	}
	observability.LogAudit(ctx, s.logger, "policy_updated",
		"policy_id", policy.ID.String(),
		"policy_version", policy.Version,
		"daily_budget", policy.DailyBudget,
		"cooldown_seconds", policy.CooldownSeconds,
		"paused", policy.Paused,
		"allowlist_enabled", policy.AllowlistEnabled,
		"per_recipient_daily_cap", policy.PerRecipientDailyCap,
	)
	return policy, nil
}

// ReclaimAuditEvent purges one stored audit record. The sequence number stays
// consumed.
func (s *Service) ReclaimAuditEvent(ctx context.Context, policyID id.PolicyID, caller id.Identity, sequence uint64) (err error) {
	ctx, span := s.tracer.Start(ctx, "vault.reclaim_audit_event", trace.WithAttributes(
		attribute.String("policy_id", policyID.String()),
	))
	defer func() { endSpan(span, err) }()

	if err := requireCaller(caller); err != nil {
		return err
	}

	err = s.withPolicyTx(ctx, policyID, func(ctx context.Context, st store.Store) error {
		if _, err := s.loadForAuthority(ctx, st, policyID, caller); err != nil {
			return err
		}
		return translate(st.DeleteAuditEvent(ctx, policyID, sequence), "audit event not found")
	})
	if err != nil {
		return translate(err, "policy not found")
	}

	if s.metrics != nil {
		s.metrics.IncrementReclaimed("audit_event")
	}
	observability.LogAudit(ctx, s.logger, "audit_event_reclaimed",
		"policy_id", policyID.String(),
		"sequence", sequence,
	)
	return nil
}

// ReclaimRecipientTracker purges a recipient's daily counter. A later intent
// to the same recipient starts a fresh tracker.
func (s *Service) ReclaimRecipientTracker(ctx context.Context, policyID id.PolicyID, caller, recipient id.Identity) (err error) {
	ctx, span := s.tracer.Start(ctx, "vault.reclaim_recipient_tracker", trace.WithAttributes(
		attribute.String("policy_id", policyID.String()),
	))
	defer func() { endSpan(span, err) }()

	if err := requireCaller(caller); err != nil {
		return err
	}
	if err := requireIdentity(recipient, "recipient"); err != nil {
		return err
	}

	err = s.withPolicyTx(ctx, policyID, func(ctx context.Context, st store.Store) error {
		if _, err := s.loadForAuthority(ctx, st, policyID, caller); err != nil {
			return err
		}
		return translate(st.DeleteRecipientSpend(ctx, policyID, recipient), "recipient tracker not found")
	})
	if err != nil {
		return translate(err, "policy not found")
	}

	if s.metrics != nil {
		s.metrics.IncrementReclaimed("recipient_tracker")
	}
	observability.LogAudit(ctx, s.logger, "recipient_tracker_reclaimed",
		"policy_id", policyID.String(),
		"recipient", string(recipient),
	)
	return nil
}

// Deposit funds a vault through the ledger. Anyone may fund any existing
// vault.
func (s *Service) Deposit(ctx context.Context, vaultID id.VaultID, caller id.Identity, amount uint64) (balance uint64, err error) {
	ctx, span := s.tracer.Start(ctx, "vault.deposit", trace.WithAttributes(
		attribute.String("vault_id", vaultID.String()),
	))
	defer func() { endSpan(span, err) }()

	if err := requireCaller(caller); err != nil {
		return 0, err
	}
	depositor, ok := s.custody.(ledger.Depositor)
	if !ok {
		return 0, dErrors.New(dErrors.CodeNotImplemented, "ledger does not accept deposits")
	}
	if amount == 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	if _, err := s.repo.FindVault(ctx, vaultID); err != nil {
		return 0, translate(err, "vault not found")
	}
	if err := depositor.Deposit(ctx, vaultID, amount); err != nil {
		return 0, translate(err, "vault not found")
	}
	balance, err = depositor.Balance(ctx, vaultID)
	if err != nil {
		return 0, translate(err, "vault not found")
	}

	observability.LogAudit(ctx, s.logger, "vault_funded",
		"vault_id", vaultID.String(),
		"funded_by", string(caller),
		"amount", amount,
		"balance", balance,
	)
	return balance, nil
}

// withPolicyTx runs fn under the policy lock inside a policy-scoped
// transaction.
func (s *Service) withPolicyTx(ctx context.Context, policyID id.PolicyID, fn func(ctx context.Context, st store.Store) error) error {
	key := policyID.String()
	return s.locker.WithLock(ctx, key, func(ctx context.Context) error {
		return s.repo.RunInTx(txcontext.WithKey(ctx, key), fn)
	})
}

func (s *Service) loadForAuthority(ctx context.Context, st store.Store, policyID id.PolicyID, caller id.Identity) (*models.Policy, error) {
	p, err := st.FindPolicy(ctx, policyID)
	if err != nil {
		return nil, translate(err, "policy not found")
	}
	if !p.IsAuthority(caller) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller is not the policy authority")
	}
	return p, nil
}
