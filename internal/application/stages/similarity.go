package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/qbanklabs/qbank-go/internal/application/common"
	"github.com/qbanklabs/qbank-go/internal/domain/corpus"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/ports"
)

// SimilarityProcessor runs the external grouping engine over the merged
// corpus snapshot. With fewer than two items there is nothing to group
// and the input passes through unchanged.
type SimilarityProcessor struct {
	engine                ports.SimilarityEngine
	store                 ports.ArtifactStore
	crossEncoderThreshold float64
	refineThreshold       int
}

// NewSimilarityProcessor creates the similarity stage processor with the
// configured default thresholds.
func NewSimilarityProcessor(engine ports.SimilarityEngine, store ports.ArtifactStore, crossEncoderThreshold float64, refineThreshold int) *SimilarityProcessor {
	return &SimilarityProcessor{
		engine:                engine,
		store:                 store,
		crossEncoderThreshold: crossEncoderThreshold,
		refineThreshold:       refineThreshold,
	}
}

// Stage implements Processor.
func (p *SimilarityProcessor) Stage() pipeline.Stage {
	return pipeline.StageSimilarity
}

// SimilaritySummary is the job result recorded by the similarity stage.
type SimilaritySummary struct {
	Total             int    `json:"total"`
	GroupsFound       int    `json:"groups_found"`
	QuestionsAssigned int    `json:"questions_assigned"`
	OutputPath        string `json:"output_path"`
}

// Process implements Processor. Stale output and the downstream split
// directory are removed first so a restarted run never mixes results
// from two passes.
func (p *SimilarityProcessor) Process(ctx context.Context, run *pipeline.Run, raw json.RawMessage) (*Result, error) {
	var payload pipeline.SimilarityPayload
	if err := pipeline.UnmarshalPayload(raw, &payload); err != nil {
		return nil, err
	}

	if err := p.store.RemovePath(ctx, payload.OutputPath); err != nil {
		return nil, pipeline.Retryable(err)
	}
	splitDir := filepath.Join(filepath.Dir(payload.OutputPath), "split")
	if err := p.store.RemovePath(ctx, splitDir); err != nil {
		return nil, pipeline.Retryable(err)
	}

	input, err := p.store.ReadFile(ctx, payload.InputPath)
	if err != nil {
		return nil, pipeline.Retryable(err)
	}
	var records []corpus.Record
	if err := json.Unmarshal(input, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal corpus snapshot from %s: %w", payload.InputPath, err)
	}

	logger := common.RunLoggerFromContext(ctx)
	run.SetTotalItems(len(records))

	if len(records) < 2 {
		if err := p.store.WriteFile(ctx, payload.OutputPath, input); err != nil {
			return nil, pipeline.Retryable(err)
		}
		run.AddProcessedItems(len(records))
		logger.Log("info", fmt.Sprintf("similarity skipped: %d item(s) is not enough to group", len(records)),
			map[string]interface{}{"stage": "similarity", "total": len(records)})
		return p.finish(payload, SimilaritySummary{
			Total:      len(records),
			OutputPath: payload.OutputPath,
		})
	}

	opts := ports.GroupingOptions{
		CrossEncoderThreshold: payload.CrossEncoderThreshold,
		RefineThreshold:       payload.RefineThreshold,
	}
	if opts.CrossEncoderThreshold == 0 {
		opts.CrossEncoderThreshold = p.crossEncoderThreshold
	}
	if opts.RefineThreshold == 0 {
		opts.RefineThreshold = p.refineThreshold
	}

	if err := p.engine.Group(ctx, payload.InputPath, payload.OutputPath, opts); err != nil {
		return nil, fmt.Errorf("similarity engine failed: %w", err)
	}

	output, err := p.store.ReadFile(ctx, payload.OutputPath)
	if err != nil {
		return nil, pipeline.Retryable(err)
	}
	var grouped []corpus.Record
	if err := json.Unmarshal(output, &grouped); err != nil {
		return nil, fmt.Errorf("similarity engine wrote unreadable output to %s: %w", payload.OutputPath, err)
	}

	groups := make(map[string]bool)
	assigned := 0
	for _, r := range grouped {
		if r.SimilarityGroupID != nil && *r.SimilarityGroupID != "" {
			groups[*r.SimilarityGroupID] = true
			assigned++
		}
	}
	run.AddProcessedItems(len(grouped))

	logger.Log("info", fmt.Sprintf("similarity grouped %d of %d questions into %d groups", assigned, len(grouped), len(groups)),
		map[string]interface{}{"stage": "similarity", "total": len(grouped), "groups": len(groups), "assigned": assigned})

	return p.finish(payload, SimilaritySummary{
		Total:             len(grouped),
		GroupsFound:       len(groups),
		QuestionsAssigned: assigned,
		OutputPath:        payload.OutputPath,
	})
}

// finish assembles the result and the split stage's payload.
func (p *SimilarityProcessor) finish(payload pipeline.SimilarityPayload, s SimilaritySummary) (*Result, error) {
	summary, err := summarize(s)
	if err != nil {
		return nil, err
	}
	next, err := pipeline.MarshalPayload(pipeline.SplitPayload{
		InputPath: payload.OutputPath,
		OutputDir: filepath.Join(filepath.Dir(payload.OutputPath), "split"),
	})
	if err != nil {
		return nil, err
	}
	return &Result{Summary: summary, NextPayload: next}, nil
}
