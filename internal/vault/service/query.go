package service

import (
	"context"

	"policyvault/internal/vault/models"
	id "policyvault/pkg/domain"
)

func (s *Service) GetVault(ctx context.Context, vaultID id.VaultID) (*models.Vault, error) {
	v, err := s.repo.FindVault(ctx, vaultID)
	if err != nil {
		return nil, translate(err, "vault not found")
	}
	return v, nil
}

func (s *Service) GetPolicy(ctx context.Context, policyID id.PolicyID) (*models.Policy, error) {
	p, err := s.repo.FindPolicy(ctx, policyID)
	if err != nil {
		return nil, translate(err, "policy not found")
	}
	return p, nil
}

// ListAuditEvents pages through a policy's stored audit records starting at
// fromSequence. limit <= 0 selects the default page size.
func (s *Service) ListAuditEvents(ctx context.Context, policyID id.PolicyID, fromSequence uint64, limit int) ([]*models.AuditEvent, error) {
	if _, err := s.GetPolicy(ctx, policyID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultAuditPageSize
	case limit > maxAuditPageSize:
		limit = maxAuditPageSize
	}
	events, err := s.repo.ListAuditEvents(ctx, policyID, fromSequence, limit)
	if err != nil {
		return nil, translate(err, "policy not found")
	}
	return events, nil
}

// GetRecipientSpend returns the stored tracker without rolling its window.
func (s *Service) GetRecipientSpend(ctx context.Context, policyID id.PolicyID, recipient id.Identity) (*models.RecipientSpend, error) {
	if err := requireIdentity(recipient, "recipient"); err != nil {
		return nil, err
	}
	r, err := s.repo.FindRecipientSpend(ctx, policyID, recipient)
	if err != nil {
		return nil, translate(err, "recipient tracker not found")
	}
	return r, nil
}

// VerifyAuditTrail checks hash linkage over a page of stored records.
func (s *Service) VerifyAuditTrail(ctx context.Context, policyID id.PolicyID, fromSequence uint64, limit int) error {
	events, err := s.ListAuditEvents(ctx, policyID, fromSequence, limit)
	if err != nil {
		return err
	}
	return models.VerifyChain(events)
}
