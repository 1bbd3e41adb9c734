package queries

import (
	"context"
	"fmt"

	"github.com/qbanklabs/qbank-go/internal/application/admission"
	"github.com/qbanklabs/qbank-go/internal/application/common"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
)

// GetPipelineQuery fetches one run with its batch children and its
// stage attempt history
type GetPipelineQuery struct {
	RunID string
}

// GetPipelineResponse carries the run, its children (for batch
// parents) and every stage attempt, oldest first
type GetPipelineResponse struct {
	Run      *admission.RunSummary
	Children []*admission.RunSummary
	Jobs     []*admission.JobSummary
}

// GetPipelineHandler handles single-run lookups
type GetPipelineHandler struct {
	runs pipeline.RunRepository
	jobs pipeline.JobRepository
}

// NewGetPipelineHandler creates a new get handler
func NewGetPipelineHandler(runs pipeline.RunRepository, jobs pipeline.JobRepository) *GetPipelineHandler {
	return &GetPipelineHandler{runs: runs, jobs: jobs}
}

// Handle executes the get query
func (h *GetPipelineHandler) Handle(ctx context.Context, request common.Request) (common.Response, error) {
	query, ok := request.(*GetPipelineQuery)
	if !ok {
		return nil, fmt.Errorf("invalid request type: expected *GetPipelineQuery")
	}

	run, err := h.runs.FindByID(ctx, query.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", query.RunID, err)
	}
	if run == nil {
		return nil, &pipeline.ErrRunNotFound{RunID: query.RunID}
	}

	children, err := h.runs.FindChildren(ctx, run.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to load children of run %s: %w", run.ID(), err)
	}

	jobs, err := h.jobs.FindByRunID(ctx, run.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs of run %s: %w", run.ID(), err)
	}

	return &GetPipelineResponse{
		Run:      admission.NewRunSummary(run),
		Children: admission.NewRunSummaries(children),
		Jobs:     admission.NewJobSummaries(jobs),
	}, nil
}
