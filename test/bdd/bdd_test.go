package bdd

import (
	"os"
	"testing"

	"github.com/cucumber/godog"

	"github.com/qbanklabs/qbank-go/test/bdd/steps"
	"github.com/qbanklabs/qbank-go/test/helpers"
)

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/domain", "features/application"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

func InitializeScenario(sc *godog.ScenarioContext) {
	// NOTE: RunLifecycleScenario registered FIRST so its step definitions
	// take precedence for shared steps like "the transition should be rejected"
	steps.InitializeRunLifecycleScenario(sc)
	steps.InitializeStageChainingScenario(sc)
	steps.InitializeAdmissionScenario(sc)
}

func TestMain(m *testing.M) {
	// Initialize shared test database for all integration tests.
	// Scenarios reset tables instead of paying for a fresh schema each time.
	if err := helpers.InitializeSharedTestDB(); err != nil {
		panic("Failed to initialize shared test database: " + err.Error())
	}
	defer helpers.CloseSharedTestDB()

	os.Exit(m.Run())
}
