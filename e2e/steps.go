package e2e

import (
	"github.com/cucumber/godog"

	"policyvault/e2e/steps/vault"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Generic request and assertion steps
	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, tc.responseFieldShouldBe)
	ctx.Step(`^the response error should be "([^"]*)"$`, tc.responseErrorShouldBe)

	vault.RegisterSteps(ctx, tc)
}
