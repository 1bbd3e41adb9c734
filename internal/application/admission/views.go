package admission

import (
	"time"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
)

// RunSummary is the transport-facing projection of a run. The daemon
// RPC returns it and the CLI renders it; the tags keep the wire names
// stable across both encodings.
type RunSummary struct {
	ID             string     `json:"id" msgpack:"id"`
	TenantID       string     `json:"tenant_id" msgpack:"tenant_id"`
	Status         string     `json:"status" msgpack:"status"`
	CurrentStage   string     `json:"current_stage" msgpack:"current_stage"`
	Progress       int        `json:"progress" msgpack:"progress"`
	InputFiles     []string   `json:"input_files" msgpack:"input_files"`
	SourceURLs     []string   `json:"source_urls,omitempty" msgpack:"source_urls,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty" msgpack:"error_message,omitempty"`
	ParentRunID    *string    `json:"parent_run_id,omitempty" msgpack:"parent_run_id,omitempty"`
	BatchIndex     *int       `json:"batch_index,omitempty" msgpack:"batch_index,omitempty"`
	TotalBatches   *int       `json:"total_batches,omitempty" msgpack:"total_batches,omitempty"`
	TotalItems     int        `json:"total_items" msgpack:"total_items"`
	ProcessedItems int        `json:"processed_items" msgpack:"processed_items"`
	TotalQuestions int        `json:"total_questions" msgpack:"total_questions"`
	CreatedAt      time.Time  `json:"created_at" msgpack:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty" msgpack:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" msgpack:"completed_at,omitempty"`
}

// NewRunSummary projects a run entity for transport
func NewRunSummary(run *pipeline.Run) *RunSummary {
	return &RunSummary{
		ID:             run.ID(),
		TenantID:       run.TenantID(),
		Status:         string(run.Status()),
		CurrentStage:   string(run.CurrentStage()),
		Progress:       run.Progress(),
		InputFiles:     run.InputFiles(),
		SourceURLs:     run.SourceURLs(),
		ErrorMessage:   run.ErrorMessage(),
		ParentRunID:    run.ParentRunID(),
		BatchIndex:     run.BatchIndex(),
		TotalBatches:   run.TotalBatches(),
		TotalItems:     run.TotalItems(),
		ProcessedItems: run.ProcessedItems(),
		TotalQuestions: run.TotalQuestions(),
		CreatedAt:      run.CreatedAt(),
		StartedAt:      run.StartedAt(),
		CompletedAt:    run.CompletedAt(),
	}
}

// NewRunSummaries projects a slice of runs, preserving order
func NewRunSummaries(runs []*pipeline.Run) []*RunSummary {
	summaries := make([]*RunSummary, len(runs))
	for i, run := range runs {
		summaries[i] = NewRunSummary(run)
	}
	return summaries
}

// JobSummary is the transport-facing projection of one stage attempt
type JobSummary struct {
	ID           string     `json:"id" msgpack:"id"`
	RunID        string     `json:"run_id" msgpack:"run_id"`
	Stage        string     `json:"stage" msgpack:"stage"`
	Status       string     `json:"status" msgpack:"status"`
	Attempt      int        `json:"attempt" msgpack:"attempt"`
	Progress     int        `json:"progress" msgpack:"progress"`
	ErrorMessage string     `json:"error_message,omitempty" msgpack:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at" msgpack:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty" msgpack:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" msgpack:"completed_at,omitempty"`
}

// NewJobSummary projects a job entity for transport
func NewJobSummary(job *pipeline.Job) *JobSummary {
	return &JobSummary{
		ID:           job.ID(),
		RunID:        job.RunID(),
		Stage:        string(job.Stage()),
		Status:       string(job.Status()),
		Attempt:      job.Attempt(),
		Progress:     job.Progress(),
		ErrorMessage: job.ErrorMessage(),
		CreatedAt:    job.CreatedAt(),
		StartedAt:    job.StartedAt(),
		CompletedAt:  job.CompletedAt(),
	}
}

// NewJobSummaries projects a slice of jobs, preserving order
func NewJobSummaries(jobs []*pipeline.Job) []*JobSummary {
	summaries := make([]*JobSummary, len(jobs))
	for i, job := range jobs {
		summaries[i] = NewJobSummary(job)
	}
	return summaries
}
