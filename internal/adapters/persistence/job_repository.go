package persistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
)

// GormJobRepository implements pipeline.JobRepository using GORM
type GormJobRepository struct {
	db *gorm.DB
}

// NewGormJobRepository creates a new GORM job repository
func NewGormJobRepository(db *gorm.DB) *GormJobRepository {
	return &GormJobRepository{db: db}
}

// Create persists a new job
func (r *GormJobRepository) Create(ctx context.Context, job *pipeline.Job) error {
	model := r.jobToModel(job)

	result := r.db.WithContext(ctx).Create(model)
	if result.Error != nil {
		return fmt.Errorf("failed to create job: %w", result.Error)
	}

	return nil
}

// Update saves changes to an existing job
func (r *GormJobRepository) Update(ctx context.Context, job *pipeline.Job) error {
	model := r.jobToModel(job)

	result := r.db.WithContext(ctx).Save(model)
	if result.Error != nil {
		return fmt.Errorf("failed to update job: %w", result.Error)
	}

	return nil
}

// FindByID retrieves a job by its ID
func (r *GormJobRepository) FindByID(ctx context.Context, id string) (*pipeline.Job, error) {
	var model PipelineJobModel
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&model)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find job: %w", result.Error)
	}

	return r.modelToJob(&model), nil
}

// FindByRunID retrieves every attempt for a run, oldest first
func (r *GormJobRepository) FindByRunID(ctx context.Context, runID string) ([]*pipeline.Job, error) {
	var models []PipelineJobModel
	result := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Find(&models)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to find jobs: %w", result.Error)
	}

	jobs := make([]*pipeline.Job, len(models))
	for i, model := range models {
		jobs[i] = r.modelToJob(&model)
	}

	return jobs, nil
}

// FindLatestByRunAndStage retrieves the highest attempt for a stage of a run
func (r *GormJobRepository) FindLatestByRunAndStage(ctx context.Context, runID string, stage pipeline.Stage) (*pipeline.Job, error) {
	var model PipelineJobModel
	result := r.db.WithContext(ctx).
		Where("run_id = ? AND stage = ?", runID, string(stage)).
		Order("attempt DESC").
		First(&model)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find latest job: %w", result.Error)
	}

	return r.modelToJob(&model), nil
}

// FindByStatuses retrieves jobs in the given states across runs
func (r *GormJobRepository) FindByStatuses(ctx context.Context, statuses []pipeline.JobStatus) ([]*pipeline.Job, error) {
	statusStrings := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrings[i] = string(s)
	}

	var models []PipelineJobModel
	result := r.db.WithContext(ctx).
		Where("status IN ?", statusStrings).
		Order("created_at ASC").
		Find(&models)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to find jobs by status: %w", result.Error)
	}

	jobs := make([]*pipeline.Job, len(models))
	for i, model := range models {
		jobs[i] = r.modelToJob(&model)
	}

	return jobs, nil
}

// DeleteByRunID removes all attempts for a run
func (r *GormJobRepository) DeleteByRunID(ctx context.Context, runID string) error {
	result := r.db.WithContext(ctx).Where("run_id = ?", runID).Delete(&PipelineJobModel{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete jobs: %w", result.Error)
	}

	return nil
}

// jobToModel converts domain entity to database model
func (r *GormJobRepository) jobToModel(job *pipeline.Job) *PipelineJobModel {
	var errorMsg *string
	if job.ErrorMessage() != "" {
		msg := job.ErrorMessage()
		errorMsg = &msg
	}

	var result *string
	if len(job.Result()) > 0 {
		raw := string(job.Result())
		result = &raw
	}

	return &PipelineJobModel{
		ID:            job.ID(),
		RunID:         job.RunID(),
		Stage:         string(job.Stage()),
		Status:        string(job.Status()),
		Attempt:       job.Attempt(),
		Progress:      job.Progress(),
		ExternalJobID: job.ExternalJobID(),
		Result:        result,
		ErrorMessage:  errorMsg,
		CreatedAt:     job.CreatedAt(),
		StartedAt:     job.StartedAt(),
		CompletedAt:   job.CompletedAt(),
	}
}

// modelToJob converts database model to domain entity
func (r *GormJobRepository) modelToJob(m *PipelineJobModel) *pipeline.Job {
	var errorMsg string
	if m.ErrorMessage != nil {
		errorMsg = *m.ErrorMessage
	}

	var result []byte
	if m.Result != nil {
		result = []byte(*m.Result)
	}

	return pipeline.ReconstituteJob(
		m.ID,
		m.RunID,
		pipeline.Stage(m.Stage),
		pipeline.JobStatus(m.Status),
		m.Attempt,
		m.Progress,
		m.ExternalJobID,
		result,
		errorMsg,
		m.CreatedAt,
		m.StartedAt,
		m.CompletedAt,
	)
}
