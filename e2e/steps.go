package e2e

import (
	"context"

	"github.com/cucumber/godog"

	"nexus/e2e/steps/common"
	"nexus/e2e/steps/transfer"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		tc.Reset()
		return ctx, nil
	})

	// Register common steps (sign-in, generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register transfer workflow steps
	transfer.RegisterSteps(ctx, tc)
}
