package pipeline

import "fmt"

// ChainDecision is the outcome of consulting the chaining policy after
// a stage attempt succeeds.
type ChainDecision struct {
	// CompleteRun is true when the finished stage was the run's last
	CompleteRun bool

	// Next is the stage to enqueue when CompleteRun is false
	Next Stage

	// Progress is the run progress after the finished stage
	Progress int
}

// NextAfter decides what follows a completed stage for the given run.
// Children stop after categorize; their parent picks up from there.
func NextAfter(run *Run, completed Stage) (ChainDecision, error) {
	if run == nil {
		return ChainDecision{}, fmt.Errorf("run is required")
	}

	progress := progressAfter(run, completed)

	switch completed {
	case StageExtract:
		return ChainDecision{Next: StageParse, Progress: progress}, nil
	case StageParse:
		return ChainDecision{Next: StageCategorize, Progress: progress}, nil
	case StageCategorize:
		if run.IsChild() {
			return ChainDecision{CompleteRun: true, Progress: progress}, nil
		}
		return ChainDecision{Next: StageSimilarity, Progress: progress}, nil
	case StageCoordinate:
		if !run.IsParent() {
			return ChainDecision{}, fmt.Errorf("run %s finished coordinate but is not a batch parent", run.ID())
		}
		return ChainDecision{Next: StageSimilarity, Progress: progress}, nil
	case StageSimilarity:
		if run.IsChild() {
			return ChainDecision{}, fmt.Errorf("child run %s must not execute similarity", run.ID())
		}
		return ChainDecision{Next: StageSplit, Progress: progress}, nil
	case StageSplit:
		if run.IsChild() {
			return ChainDecision{}, fmt.Errorf("child run %s must not execute split", run.ID())
		}
		return ChainDecision{CompleteRun: true, Progress: progress}, nil
	default:
		return ChainDecision{}, fmt.Errorf("unknown stage %q", completed)
	}
}

// progressAfter maps a finished stage to the run's progress at that
// boundary: each stage contributes an equal share of the run's own
// stage sequence. Batch parents mostly ignore this because coordinate
// polling already drives their progress from child completions.
func progressAfter(run *Run, completed Stage) int {
	order := StageOrderFor(run.IsParent(), run.IsChild())
	for i, s := range order {
		if s == completed {
			return (i + 1) * 100 / len(order)
		}
	}
	return 0
}
