package e2e

import (
	"github.com/cucumber/godog"

	"guardian/e2e/steps/identity"
	"guardian/e2e/steps/ledger"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, w *World) {
	// Sign-in, session and reconciliation steps
	identity.RegisterSteps(ctx, w)

	// Evidence, case and transaction steps
	ledger.RegisterSteps(ctx, w)
}
