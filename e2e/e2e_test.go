package e2e

import (
	"context"
	"testing"

	"github.com/cucumber/godog"
)

func TestFeatures(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping feature suite in short mode")
	}
	suite := godog.TestSuite{
		ScenarioInitializer: initializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("feature suite failed")
	}
}

func initializeScenario(ctx *godog.ScenarioContext) {
	w := NewWorld()
	RegisterSteps(ctx, w)
	ctx.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		w.Close()
		return ctx, err
	})
}
