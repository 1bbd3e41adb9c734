package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cucumber/godog"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
)

// runLifecycleContext holds state for pipeline run lifecycle tests
type runLifecycleContext struct {
	run *pipeline.Run
	err error
}

func (rlc *runLifecycleContext) reset() {
	rlc.run = nil
	rlc.err = nil
}

// ============================================================================
// Run Setup Steps
// ============================================================================

func (rlc *runLifecycleContext) aPipelineRunInStatus(status string) error {
	run, err := pipeline.NewRun("tenant-1", []string{"exam.pdf"}, nil)
	if err != nil {
		return err
	}
	rlc.run = run

	switch pipeline.RunStatus(status) {
	case pipeline.RunStatusQueued:
		return nil
	case pipeline.RunStatusRunning:
		return run.Start()
	case pipeline.RunStatusPaused:
		if err := run.Start(); err != nil {
			return err
		}
		return run.Pause()
	case pipeline.RunStatusCompleted:
		if err := run.Start(); err != nil {
			return err
		}
		return run.Complete()
	case pipeline.RunStatusFailed:
		if err := run.Start(); err != nil {
			return err
		}
		return run.Fail("test failure")
	case pipeline.RunStatusCancelled:
		return run.Cancel()
	default:
		return fmt.Errorf("unknown run status %q", status)
	}
}

// ============================================================================
// Run Action Steps
// ============================================================================

func (rlc *runLifecycleContext) theRunStarts() error {
	rlc.err = rlc.run.Start()
	return nil
}

func (rlc *runLifecycleContext) theRunIsPaused() error {
	rlc.err = rlc.run.Pause()
	return nil
}

func (rlc *runLifecycleContext) theRunResumes() error {
	rlc.err = rlc.run.Resume()
	return nil
}

func (rlc *runLifecycleContext) theRunCompletes() error {
	rlc.err = rlc.run.Complete()
	return nil
}

func (rlc *runLifecycleContext) theRunFailsWith(message string) error {
	rlc.err = rlc.run.Fail(message)
	return nil
}

func (rlc *runLifecycleContext) theRunIsCancelled() error {
	rlc.err = rlc.run.Cancel()
	return nil
}

func (rlc *runLifecycleContext) iAttemptToTransitionTheRun(action string) error {
	switch action {
	case "start":
		rlc.err = rlc.run.Start()
	case "pause":
		rlc.err = rlc.run.Pause()
	case "resume":
		rlc.err = rlc.run.Resume()
	case "complete":
		rlc.err = rlc.run.Complete()
	case "cancel":
		rlc.err = rlc.run.Cancel()
	default:
		return fmt.Errorf("unknown run action %q", action)
	}
	return nil
}

func (rlc *runLifecycleContext) theRunProgressIsSetTo(progress int) error {
	rlc.run.SetProgress(progress)
	return nil
}

// ============================================================================
// Assertion Steps
// ============================================================================

func (rlc *runLifecycleContext) theRunStatusShouldBe(expected string) error {
	if string(rlc.run.Status()) != expected {
		return fmt.Errorf("expected status '%s' but got '%s'", expected, rlc.run.Status())
	}
	return nil
}

func (rlc *runLifecycleContext) theRunStartedAtShouldBeSet() error {
	if rlc.run.StartedAt() == nil {
		return fmt.Errorf("expected started_at to be set but it is nil")
	}
	return nil
}

func (rlc *runLifecycleContext) theRunCompletedAtShouldBeSet() error {
	if rlc.run.CompletedAt() == nil {
		return fmt.Errorf("expected completed_at to be set but it is nil")
	}
	return nil
}

func (rlc *runLifecycleContext) theRunCompletedAtShouldBeNil() error {
	if rlc.run.CompletedAt() != nil {
		return fmt.Errorf("expected completed_at to be nil but it is set")
	}
	return nil
}

func (rlc *runLifecycleContext) theRunProgressShouldBe(expected int) error {
	if rlc.run.Progress() != expected {
		return fmt.Errorf("expected progress %d but got %d", expected, rlc.run.Progress())
	}
	return nil
}

func (rlc *runLifecycleContext) theRunErrorMessageShouldBe(expected string) error {
	if rlc.run.ErrorMessage() != expected {
		return fmt.Errorf("expected error_message '%s' but got '%s'", expected, rlc.run.ErrorMessage())
	}
	return nil
}

func (rlc *runLifecycleContext) theOperationShouldBeRejected() error {
	if rlc.err == nil {
		return fmt.Errorf("expected the transition to be rejected but it succeeded")
	}
	var invalid *pipeline.ErrInvalidRunTransition
	if !errors.As(rlc.err, &invalid) {
		return fmt.Errorf("expected an invalid transition error but got '%s'", rlc.err.Error())
	}
	return nil
}

func (rlc *runLifecycleContext) theRejectionShouldExplain(expected string) error {
	if rlc.err == nil {
		return fmt.Errorf("expected an error mentioning '%s' but got no error", expected)
	}
	if !strings.Contains(rlc.err.Error(), expected) {
		return fmt.Errorf("expected an error mentioning '%s' but got '%s'", expected, rlc.err.Error())
	}
	return nil
}

func (rlc *runLifecycleContext) theRunShouldCountAgainstTheQuota() error {
	if !rlc.run.IsActive() {
		return fmt.Errorf("expected the run to hold a concurrency slot but it does not")
	}
	return nil
}

func (rlc *runLifecycleContext) theRunShouldNotCountAgainstTheQuota() error {
	if rlc.run.IsActive() {
		return fmt.Errorf("expected the run to give up its concurrency slot but it still holds one")
	}
	return nil
}

func (rlc *runLifecycleContext) theRunShouldBeTerminal() error {
	if !rlc.run.IsTerminal() {
		return fmt.Errorf("expected the run to be terminal but it is not")
	}
	return nil
}

// ============================================================================
// Step Registration
// ============================================================================

// InitializeRunLifecycleScenario registers run lifecycle step definitions
func InitializeRunLifecycleScenario(ctx *godog.ScenarioContext) {
	rlc := &runLifecycleContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		rlc.reset()
		return ctx, nil
	})

	// Setup steps
	ctx.Step(`^a pipeline run in "([^"]*)" status$`, rlc.aPipelineRunInStatus)

	// Action steps
	ctx.Step(`^the run starts$`, rlc.theRunStarts)
	ctx.Step(`^the run is paused$`, rlc.theRunIsPaused)
	ctx.Step(`^the run resumes$`, rlc.theRunResumes)
	ctx.Step(`^the run completes$`, rlc.theRunCompletes)
	ctx.Step(`^the run fails with "([^"]*)"$`, rlc.theRunFailsWith)
	ctx.Step(`^the run is cancelled$`, rlc.theRunIsCancelled)
	ctx.Step(`^I attempt to (start|pause|resume|complete|cancel) the run$`, rlc.iAttemptToTransitionTheRun)
	ctx.Step(`^the run progress is set to (-?\d+)$`, rlc.theRunProgressIsSetTo)

	// Assertion steps
	ctx.Step(`^the run status should be "([^"]*)"$`, rlc.theRunStatusShouldBe)
	ctx.Step(`^the run started_at timestamp should be set$`, rlc.theRunStartedAtShouldBeSet)
	ctx.Step(`^the run completed_at timestamp should be set$`, rlc.theRunCompletedAtShouldBeSet)
	ctx.Step(`^the run completed_at timestamp should be nil$`, rlc.theRunCompletedAtShouldBeNil)
	ctx.Step(`^the run progress should be (\d+)$`, rlc.theRunProgressShouldBe)
	ctx.Step(`^the run error_message should be "([^"]*)"$`, rlc.theRunErrorMessageShouldBe)
	ctx.Step(`^the operation should be rejected$`, rlc.theOperationShouldBeRejected)
	ctx.Step(`^the rejection should explain "([^"]*)"$`, rlc.theRejectionShouldExplain)
	ctx.Step(`^the run should count against the tenant quota$`, rlc.theRunShouldCountAgainstTheQuota)
	ctx.Step(`^the run should not count against the tenant quota$`, rlc.theRunShouldNotCountAgainstTheQuota)
	ctx.Step(`^the run should be terminal$`, rlc.theRunShouldBeTerminal)
}
