package e2e

import (
	"github.com/cucumber/godog"

	"crvs/e2e/steps/common"
	"crvs/e2e/steps/ratelimit"
	"crvs/e2e/steps/records"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	records.RegisterSteps(ctx, tc)
	ratelimit.RegisterSteps(ctx, tc)
}
