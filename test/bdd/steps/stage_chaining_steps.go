package steps

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
)

// stageChainingContext holds state for stage chaining policy tests
type stageChainingContext struct {
	run      *pipeline.Run
	decision pipeline.ChainDecision
	err      error
}

func (scc *stageChainingContext) reset() {
	scc.run = nil
	scc.decision = pipeline.ChainDecision{}
	scc.err = nil
}

// ============================================================================
// Run Shape Steps
// ============================================================================

func (scc *stageChainingContext) aStandalonePipelineRun() error {
	run, err := pipeline.NewRun("tenant-1", []string{"exam.pdf"}, nil)
	if err != nil {
		return err
	}
	scc.run = run
	return nil
}

func (scc *stageChainingContext) aBatchParentRun() error {
	parent, err := pipeline.NewParentRun("tenant-1",
		[]string{"a.pdf", "b.pdf", "c.pdf", "d.pdf"}, nil, 2, 2)
	if err != nil {
		return err
	}
	scc.run = parent
	return nil
}

func (scc *stageChainingContext) aBatchChildRun() error {
	parent, err := pipeline.NewParentRun("tenant-1",
		[]string{"a.pdf", "b.pdf", "c.pdf", "d.pdf"}, nil, 2, 2)
	if err != nil {
		return err
	}
	child, err := pipeline.NewChildRun(parent, 0, []string{"a.pdf", "b.pdf"})
	if err != nil {
		return err
	}
	scc.run = child
	return nil
}

// ============================================================================
// Chaining Steps
// ============================================================================

func (scc *stageChainingContext) theRunFinishesTheStage(stage string) error {
	scc.decision, scc.err = pipeline.NextAfter(scc.run, pipeline.Stage(stage))
	return nil
}

// ============================================================================
// Assertion Steps
// ============================================================================

func (scc *stageChainingContext) theNextStageShouldBe(expected string) error {
	if scc.err != nil {
		return fmt.Errorf("expected next stage '%s' but chaining failed: %s", expected, scc.err.Error())
	}
	if scc.decision.CompleteRun {
		return fmt.Errorf("expected next stage '%s' but the run completed instead", expected)
	}
	if string(scc.decision.Next) != expected {
		return fmt.Errorf("expected next stage '%s' but got '%s'", expected, scc.decision.Next)
	}
	return nil
}

func (scc *stageChainingContext) theRunShouldBeComplete() error {
	if scc.err != nil {
		return fmt.Errorf("expected the run to complete but chaining failed: %s", scc.err.Error())
	}
	if !scc.decision.CompleteRun {
		return fmt.Errorf("expected the run to complete but the next stage is '%s'", scc.decision.Next)
	}
	return nil
}

func (scc *stageChainingContext) theRunProgressShouldReach(expected int) error {
	if scc.err != nil {
		return fmt.Errorf("expected progress %d but chaining failed: %s", expected, scc.err.Error())
	}
	if scc.decision.Progress != expected {
		return fmt.Errorf("expected progress %d but got %d", expected, scc.decision.Progress)
	}
	return nil
}

func (scc *stageChainingContext) theChainingDecisionShouldBeRejected() error {
	if scc.err == nil {
		return fmt.Errorf("expected the chaining decision to be rejected but it succeeded")
	}
	return nil
}

func (scc *stageChainingContext) theStageShouldBeEligibleForChildren(stage, eligibility string) error {
	allowed := pipeline.AllowedForChild(pipeline.Stage(stage))
	switch eligibility {
	case "allowed":
		if !allowed {
			return fmt.Errorf("expected stage '%s' to be allowed for batch children but it is not", stage)
		}
	case "forbidden":
		if allowed {
			return fmt.Errorf("expected stage '%s' to be forbidden for batch children but it is allowed", stage)
		}
	default:
		return fmt.Errorf("unknown eligibility %q", eligibility)
	}
	return nil
}

// ============================================================================
// Step Registration
// ============================================================================

// InitializeStageChainingScenario registers stage chaining step definitions
func InitializeStageChainingScenario(ctx *godog.ScenarioContext) {
	scc := &stageChainingContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		scc.reset()
		return ctx, nil
	})

	// Run shape steps
	ctx.Step(`^a standalone pipeline run$`, scc.aStandalonePipelineRun)
	ctx.Step(`^a batch parent run$`, scc.aBatchParentRun)
	ctx.Step(`^a batch child run$`, scc.aBatchChildRun)

	// Chaining steps
	ctx.Step(`^the run finishes the "([^"]*)" stage$`, scc.theRunFinishesTheStage)

	// Assertion steps
	ctx.Step(`^the next stage should be "([^"]*)"$`, scc.theNextStageShouldBe)
	ctx.Step(`^the run should be complete$`, scc.theRunShouldBeComplete)
	ctx.Step(`^the run progress should reach (\d+) percent$`, scc.theRunProgressShouldReach)
	ctx.Step(`^the chaining decision should be rejected$`, scc.theChainingDecisionShouldBeRejected)
	ctx.Step(`^the "([^"]*)" stage should be (allowed|forbidden) for batch children$`, scc.theStageShouldBeEligibleForChildren)
}
