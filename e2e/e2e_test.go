package e2e

import (
	"context"
	"os"
	"testing"

	"github.com/cucumber/godog"
)

// TestFeatures runs the Gherkin features against a live server at
// POLICYVAULT_E2E_URL, signing tokens with POLICYVAULT_JWT_SIGNING_KEY.
func TestFeatures(t *testing.T) {
	baseURL := os.Getenv("POLICYVAULT_E2E_URL")
	if baseURL == "" {
		t.Skip("POLICYVAULT_E2E_URL not set")
	}
	key := os.Getenv("POLICYVAULT_JWT_SIGNING_KEY")
	if key == "" {
		key = "dev-secret-key-change-in-production"
	}

	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			tc := NewTestContext(baseURL, key)
			sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
				tc.reset()
				return ctx, nil
			})
			RegisterSteps(sc, tc)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("e2e features failed")
	}
}
