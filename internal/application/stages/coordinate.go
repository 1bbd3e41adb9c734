package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/qbanklabs/qbank-go/internal/application/common"
	"github.com/qbanklabs/qbank-go/internal/domain/corpus"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/ports"
	"github.com/qbanklabs/qbank-go/internal/domain/shared"
)

// CoordinateProcessor is the fan-in side of a batch submission. It polls
// the parent's children until all complete, then snapshots the merged
// corpus and hands the parent over to the similarity stage. A child
// failure fails the parent with a message naming the batch.
type CoordinateProcessor struct {
	runs                 pipeline.RunRepository
	items                corpus.ItemRepository
	store                ports.ArtifactStore
	clock                shared.Clock
	pollInterval         time.Duration
	timeout              time.Duration
	stalledCheckInterval time.Duration
}

// NewCoordinateProcessor creates the coordinate stage processor.
func NewCoordinateProcessor(
	runs pipeline.RunRepository,
	items corpus.ItemRepository,
	store ports.ArtifactStore,
	clock shared.Clock,
	pollInterval, timeout, stalledCheckInterval time.Duration,
) *CoordinateProcessor {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &CoordinateProcessor{
		runs:                 runs,
		items:                items,
		store:                store,
		clock:                clock,
		pollInterval:         pollInterval,
		timeout:              timeout,
		stalledCheckInterval: stalledCheckInterval,
	}
}

// Stage implements Processor.
func (p *CoordinateProcessor) Stage() pipeline.Stage {
	return pipeline.StageCoordinate
}

// CoordinateSummary is the job result recorded by the coordinate stage.
type CoordinateSummary struct {
	Batches    int    `json:"batches"`
	CorpusSize int    `json:"corpus_size"`
	MergedPath string `json:"merged_path"`
}

// Process implements Processor. The job's queue lease must cover the
// whole poll; the runner leases coordinate deliveries for the
// coordinator timeout and its heartbeat keeps extending them.
func (p *CoordinateProcessor) Process(ctx context.Context, run *pipeline.Run, raw json.RawMessage) (*Result, error) {
	if !run.IsParent() {
		return nil, fmt.Errorf("run %s is not a batch parent", run.ID())
	}

	logger := common.RunLoggerFromContext(ctx)
	total := *run.TotalBatches()
	start := p.clock.Now()
	completed := 0
	lastLogged := -1
	lastChange := start

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		children, err := p.runs.FindChildren(ctx, run.ID())
		if err != nil {
			// One failed poll is not worth four hours of work; the
			// timeout bounds how long we keep trying.
			logger.Log("warning", fmt.Sprintf("failed to poll batch children: %v", err),
				map[string]interface{}{"stage": "coordinate"})
		} else {
			completed = 0
			for _, child := range children {
				switch child.Status() {
				case pipeline.RunStatusCompleted:
					completed++
				case pipeline.RunStatusFailed:
					return nil, fmt.Errorf("batch %d (run %s) failed: %s",
						childIndex(child), child.ID(), child.ErrorMessage())
				case pipeline.RunStatusCancelled:
					return nil, fmt.Errorf("batch %d (run %s) was cancelled",
						childIndex(child), child.ID())
				}
			}

			progress := int(math.Round(float64(completed) * 100 / float64(total)))
			run.SetProgress(progress)
			common.ReportProgress(ctx, progress)
			if err := p.runs.UpdateProgress(ctx, run.ID(), run.Progress()); err != nil {
				logger.Log("warning", fmt.Sprintf("failed to persist batch progress: %v", err),
					map[string]interface{}{"stage": "coordinate"})
			}

			if completed != lastLogged {
				logger.Log("info", fmt.Sprintf("batches complete: %d/%d", completed, total),
					map[string]interface{}{"stage": "coordinate", "completed": completed, "total": total})
				lastLogged = completed
				lastChange = p.clock.Now()
			}

			if completed >= total {
				return p.handOff(ctx, run, children)
			}
		}

		now := p.clock.Now()
		if now.Sub(lastChange) >= p.stalledCheckInterval {
			logger.Log("warning", fmt.Sprintf("no batch has completed in %s (%d/%d done)",
				p.stalledCheckInterval, completed, total),
				map[string]interface{}{"stage": "coordinate", "completed": completed, "total": total})
			lastChange = now
		}
		if now.Sub(start) >= p.timeout {
			return nil, fmt.Errorf("batch coordination timed out after %s with %d/%d batches complete",
				p.timeout, completed, total)
		}

		p.clock.Sleep(p.pollInterval)
	}
}

// handOff runs once every child has completed: the parent absorbs the
// children's counters, snapshots the full tenant corpus as its own
// categorized_merged.json and chains into similarity.
func (p *CoordinateProcessor) handOff(ctx context.Context, run *pipeline.Run, children []*pipeline.Run) (*Result, error) {
	totalItems, processedItems, totalQuestions := 0, 0, 0
	for _, child := range children {
		totalItems += child.TotalItems()
		processedItems += child.ProcessedItems()
		totalQuestions += child.TotalQuestions()
	}
	run.SetTotalItems(totalItems)
	run.AddProcessedItems(processedItems)
	run.SetTotalQuestions(totalQuestions)

	items, err := p.items.FindByTenant(ctx, run.TenantID())
	if err != nil {
		return nil, pipeline.Retryable(fmt.Errorf("failed to load tenant corpus: %w", err))
	}
	data, err := json.MarshalIndent(corpus.RecordsFromItems(items), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged corpus: %w", err)
	}
	mergedPath := p.store.OutputPath(run.TenantID(), run.ID(), "categorized_merged.json")
	if err := p.store.WriteFile(ctx, mergedPath, data); err != nil {
		return nil, pipeline.Retryable(err)
	}

	logger := common.RunLoggerFromContext(ctx)
	logger.Log("info", fmt.Sprintf("all %d batches complete, corpus holds %d questions", len(children), len(items)),
		map[string]interface{}{"stage": "coordinate", "batches": len(children), "corpus": len(items)})

	summary, err := summarize(CoordinateSummary{
		Batches:    len(children),
		CorpusSize: len(items),
		MergedPath: mergedPath,
	})
	if err != nil {
		return nil, err
	}

	next, err := pipeline.MarshalPayload(pipeline.SimilarityPayload{
		InputPath:  mergedPath,
		OutputPath: p.store.OutputPath(run.TenantID(), run.ID(), "similarity.json"),
	})
	if err != nil {
		return nil, err
	}

	return &Result{Summary: summary, NextPayload: next}, nil
}

// childIndex reads a child's batch index for error messages.
func childIndex(child *pipeline.Run) int {
	if idx := child.BatchIndex(); idx != nil {
		return *idx
	}
	return -1
}
