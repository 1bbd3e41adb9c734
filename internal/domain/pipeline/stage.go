package pipeline

import "fmt"

// Stage identifies one step of the fixed processing pipeline
type Stage string

const (
	// StageExtract - rasterize PDFs and cut question crops
	StageExtract Stage = "extract"

	// StageParse - per-image AI vision parsing
	StageParse Stage = "parse"

	// StageCategorize - per-question AI categorization + corpus merge
	StageCategorize Stage = "categorize"

	// StageSimilarity - duplicate detection over the merged corpus
	StageSimilarity Stage = "similarity"

	// StageSplit - per-category output files, terminal stage
	StageSplit Stage = "split"

	// StageCoordinate - batch parent fan-in; polls children until done
	StageCoordinate Stage = "coordinate"
)

// AllStages lists every stage a worker can bind to, in pipeline order
// (coordinate last since only batch parents carry it).
var AllStages = []Stage{
	StageExtract,
	StageParse,
	StageCategorize,
	StageSimilarity,
	StageSplit,
	StageCoordinate,
}

// standaloneOrder is the stage sequence of a run without a parent.
var standaloneOrder = []Stage{StageExtract, StageParse, StageCategorize, StageSimilarity, StageSplit}

// childOrder is the stage sequence of a batch child; children stop after
// categorize and never enter similarity or split.
var childOrder = []Stage{StageExtract, StageParse, StageCategorize}

// parentOrder is the stage sequence of a batch parent; extraction through
// categorization happens inside the children.
var parentOrder = []Stage{StageCoordinate, StageSimilarity, StageSplit}

// ParseStage converts a raw string into a Stage
func ParseStage(s string) (Stage, error) {
	for _, stage := range AllStages {
		if string(stage) == s {
			return stage, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// StageOrderFor returns the stage sequence a run of the given shape walks
func StageOrderFor(isParent, isChild bool) []Stage {
	switch {
	case isParent:
		return parentOrder
	case isChild:
		return childOrder
	default:
		return standaloneOrder
	}
}

// AllowedForChild reports whether a batch child may ever execute the stage
func AllowedForChild(stage Stage) bool {
	for _, s := range childOrder {
		if s == stage {
			return true
		}
	}
	return false
}
