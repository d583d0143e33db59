package vault

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

// TestContext is the slice of the scenario context the vault steps need.
type TestContext interface {
	AuthenticateAs(name string) error
	ClearAuth()
	Identity(name string) string
	Do(ctx context.Context, method, path string, body any) error
	Status() int
	Field(name string) (any, error)
	Set(key, value string)
	Get(key string) string
}

// RegisterSteps registers vault, policy and spend step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &vaultSteps{tc: tc}

	ctx.Step(`^I am authenticated as "([^"]*)"$`, steps.authenticatedAs)
	ctx.Step(`^I am not authenticated$`, steps.notAuthenticated)
	ctx.Step(`^I create a vault$`, steps.createVault)
	ctx.Step(`^I deposit (\d+) into the vault$`, steps.deposit)
	ctx.Step(`^I create a policy with daily budget (\d+) and cooldown (\d+) for agent "([^"]*)"$`, steps.createPolicy)
	ctx.Step(`^I update the policy with daily budget (\d+) and cooldown (\d+) and paused (true|false)$`, steps.updatePolicy)
	ctx.Step(`^I request a spend of (\d+) to "([^"]*)"$`, steps.spend)
	ctx.Step(`^the spend should be allowed$`, steps.spendAllowed)
	ctx.Step(`^the spend should be denied with "([^"]*)"$`, steps.spendDenied)
	ctx.Step(`^I list the audit trail$`, steps.listAudit)
	ctx.Step(`^the audit trail should have (\d+) events$`, steps.auditLength)
}

type vaultSteps struct {
	tc TestContext
}

func (s *vaultSteps) authenticatedAs(name string) error {
	return s.tc.AuthenticateAs(name)
}

func (s *vaultSteps) notAuthenticated() error {
	s.tc.ClearAuth()
	return nil
}

func (s *vaultSteps) createVault(ctx context.Context) error {
	if err := s.tc.Do(ctx, http.MethodPost, "/vaults", nil); err != nil {
		return err
	}
	if s.tc.Status() != http.StatusCreated {
		return nil
	}
	return s.remember("vault_id", "id")
}

func (s *vaultSteps) deposit(ctx context.Context, amount int) error {
	path := fmt.Sprintf("/vaults/%s/deposits", s.tc.Get("vault_id"))
	return s.tc.Do(ctx, http.MethodPost, path, map[string]any{"amount": amount})
}

func (s *vaultSteps) createPolicy(ctx context.Context, budget, cooldown int, agent string) error {
	path := fmt.Sprintf("/vaults/%s/policy", s.tc.Get("vault_id"))
	body := map[string]any{
		"agent":            s.tc.Identity(agent),
		"daily_budget":     budget,
		"cooldown_seconds": cooldown,
	}
	if err := s.tc.Do(ctx, http.MethodPost, path, body); err != nil {
		return err
	}
	if s.tc.Status() != http.StatusCreated {
		return fmt.Errorf("create policy returned %d", s.tc.Status())
	}
	return s.remember("policy_id", "id")
}

func (s *vaultSteps) updatePolicy(ctx context.Context, budget, cooldown int, paused string) error {
	body := map[string]any{
		"daily_budget":     budget,
		"cooldown_seconds": cooldown,
		"paused":           paused == "true",
	}
	return s.tc.Do(ctx, http.MethodPut, "/policies/"+s.tc.Get("policy_id"), body)
}

func (s *vaultSteps) spend(ctx context.Context, amount int, recipient string) error {
	body := map[string]any{
		"recipient": s.tc.Identity(recipient),
		"amount":    amount,
	}
	return s.tc.Do(ctx, http.MethodPost, "/policies/"+s.tc.Get("policy_id")+"/spend", body)
}

func (s *vaultSteps) spendAllowed() error {
	return s.expectDecision(true, "OK")
}

func (s *vaultSteps) spendDenied(reason string) error {
	return s.expectDecision(false, reason)
}

func (s *vaultSteps) expectDecision(allowed bool, reason string) error {
	if s.tc.Status() != http.StatusOK {
		return fmt.Errorf("spend returned status %d", s.tc.Status())
	}
	gotAllowed, err := s.tc.Field("allowed")
	if err != nil {
		return err
	}
	gotReason, err := s.tc.Field("reason")
	if err != nil {
		return err
	}
	if gotAllowed != allowed || gotReason != reason {
		return fmt.Errorf("expected allowed=%v reason=%s, got allowed=%v reason=%v", allowed, reason, gotAllowed, gotReason)
	}
	return nil
}

func (s *vaultSteps) listAudit(ctx context.Context) error {
	return s.tc.Do(ctx, http.MethodGet, "/policies/"+s.tc.Get("policy_id")+"/audit", nil)
}

func (s *vaultSteps) auditLength(n int) error {
	v, err := s.tc.Field("events")
	if err != nil {
		return err
	}
	events, ok := v.([]any)
	if !ok {
		return fmt.Errorf("events is %T, not a list", v)
	}
	if len(events) != n {
		return fmt.Errorf("expected %d audit events, got %d", n, len(events))
	}
	return nil
}

func (s *vaultSteps) remember(key, field string) error {
	v, err := s.tc.Field(field)
	if err != nil {
		return err
	}
	str, ok := v.(string)
	if !ok {
		return fmt.Errorf("field %s is %T, not a string", field, v)
	}
	s.tc.Set(key, str)
	return nil
}
