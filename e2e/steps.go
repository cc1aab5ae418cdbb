package e2e

import (
	"github.com/cucumber/godog"

	"trustcert/e2e/steps/certificate"
	"trustcert/e2e/steps/common"
	"trustcert/e2e/steps/vault"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	certificate.RegisterSteps(ctx, tc)
	vault.RegisterSteps(ctx, tc)
}
