package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
)

// GormRunRepository implements pipeline.RunRepository using GORM
type GormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository creates a new GORM run repository
func NewGormRunRepository(db *gorm.DB) *GormRunRepository {
	return &GormRunRepository{db: db}
}

// Create persists a new run
func (r *GormRunRepository) Create(ctx context.Context, run *pipeline.Run) error {
	model, err := r.runToModel(run)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).Create(model)
	if result.Error != nil {
		return fmt.Errorf("failed to create run: %w", result.Error)
	}

	return nil
}

// Update saves changes to an existing run
func (r *GormRunRepository) Update(ctx context.Context, run *pipeline.Run) error {
	model, err := r.runToModel(run)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).Save(model)
	if result.Error != nil {
		return fmt.Errorf("failed to update run: %w", result.Error)
	}

	return nil
}

// UpdateProgress persists only the progress column, never lowering it.
// The coordinator calls this on every poll and must not clobber status
// changes made by operators in the meantime.
func (r *GormRunRepository) UpdateProgress(ctx context.Context, runID string, progress int) error {
	result := r.db.WithContext(ctx).
		Model(&PipelineRunModel{}).
		Where("id = ? AND progress < ?", runID, progress).
		Update("progress", progress)

	if result.Error != nil {
		return fmt.Errorf("failed to update run progress: %w", result.Error)
	}
	return nil
}

// UpdateItemCounts persists only the work counters. Stages call this
// once per processed item so progress is visible mid-attempt without
// risking a stale full-row write over a concurrent status change.
func (r *GormRunRepository) UpdateItemCounts(ctx context.Context, runID string, totalItems, processedItems, totalQuestions int) error {
	result := r.db.WithContext(ctx).
		Model(&PipelineRunModel{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"total_items":     totalItems,
			"processed_items": processedItems,
			"total_questions": totalQuestions,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update run item counts: %w", result.Error)
	}
	return nil
}

// FindByID retrieves a run by its ID
func (r *GormRunRepository) FindByID(ctx context.Context, id string) (*pipeline.Run, error) {
	var model PipelineRunModel
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&model)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find run: %w", result.Error)
	}

	return r.modelToRun(&model)
}

// FindByTenant retrieves runs for a tenant, newest first
func (r *GormRunRepository) FindByTenant(ctx context.Context, tenantID string, filter pipeline.RunFilter) ([]*pipeline.Run, error) {
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)

	if len(filter.Statuses) > 0 {
		statusStrings := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statusStrings[i] = string(s)
		}
		query = query.Where("status IN ?", statusStrings)
	}

	if !filter.IncludeChildren {
		query = query.Where("parent_run_id IS NULL")
	}

	query = query.Order("created_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var models []PipelineRunModel
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find runs: %w", err)
	}

	return r.modelsToRuns(models)
}

// FindByIDs retrieves the given runs in one query
func (r *GormRunRepository) FindByIDs(ctx context.Context, ids []string) ([]*pipeline.Run, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var models []PipelineRunModel
	result := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find runs by IDs: %w", result.Error)
	}

	return r.modelsToRuns(models)
}

// FindChildren retrieves the batch children of a parent, ordered by batchIndex
func (r *GormRunRepository) FindChildren(ctx context.Context, parentRunID string) ([]*pipeline.Run, error) {
	var models []PipelineRunModel
	result := r.db.WithContext(ctx).
		Where("parent_run_id = ?", parentRunID).
		Order("batch_index ASC").
		Find(&models)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to find children: %w", result.Error)
	}

	return r.modelsToRuns(models)
}

// FindByStatuses retrieves all runs in the given states across tenants
func (r *GormRunRepository) FindByStatuses(ctx context.Context, statuses []pipeline.RunStatus) ([]*pipeline.Run, error) {
	statusStrings := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrings[i] = string(s)
	}

	var models []PipelineRunModel
	result := r.db.WithContext(ctx).
		Where("status IN ?", statusStrings).
		Order("created_at ASC").
		Find(&models)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to find runs by status: %w", result.Error)
	}

	return r.modelsToRuns(models)
}

// CountActiveByTenant counts QUEUED/RUNNING runs excluding batch children
func (r *GormRunRepository) CountActiveByTenant(ctx context.Context, tenantID string) (int, error) {
	activeStatuses := []string{
		string(pipeline.RunStatusQueued),
		string(pipeline.RunStatusRunning),
	}

	var count int64
	result := r.db.WithContext(ctx).
		Model(&PipelineRunModel{}).
		Where("tenant_id = ? AND parent_run_id IS NULL AND status IN ?", tenantID, activeStatuses).
		Count(&count)

	if result.Error != nil {
		return 0, fmt.Errorf("failed to count active runs: %w", result.Error)
	}

	return int(count), nil
}

// Delete removes a run and its jobs
func (r *GormRunRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&PipelineJobModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", id).Delete(&PipelineLogModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&PipelineRunModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	return nil
}

func (r *GormRunRepository) modelsToRuns(models []PipelineRunModel) ([]*pipeline.Run, error) {
	runs := make([]*pipeline.Run, len(models))
	for i, model := range models {
		run, err := r.modelToRun(&model)
		if err != nil {
			return nil, fmt.Errorf("failed to convert run model: %w", err)
		}
		runs[i] = run
	}
	return runs, nil
}

// runToModel converts domain entity to database model
func (r *GormRunRepository) runToModel(run *pipeline.Run) (*PipelineRunModel, error) {
	inputFiles, err := json.Marshal(run.InputFiles())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input files: %w", err)
	}

	sourceURLs := "[]"
	if len(run.SourceURLs()) > 0 {
		raw, err := json.Marshal(run.SourceURLs())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal source URLs: %w", err)
		}
		sourceURLs = string(raw)
	}

	var errorMsg *string
	if run.ErrorMessage() != "" {
		msg := run.ErrorMessage()
		errorMsg = &msg
	}

	return &PipelineRunModel{
		ID:             run.ID(),
		TenantID:       run.TenantID(),
		InputFiles:     string(inputFiles),
		SourceURLs:     sourceURLs,
		Status:         string(run.Status()),
		CurrentStage:   string(run.CurrentStage()),
		Progress:       run.Progress(),
		ErrorMessage:   errorMsg,
		ParentRunID:    run.ParentRunID(),
		BatchIndex:     run.BatchIndex(),
		BatchSize:      run.BatchSize(),
		TotalBatches:   run.TotalBatches(),
		TotalItems:     run.TotalItems(),
		ProcessedItems: run.ProcessedItems(),
		TotalQuestions: run.TotalQuestions(),
		CreatedAt:      run.CreatedAt(),
		StartedAt:      run.StartedAt(),
		CompletedAt:    run.CompletedAt(),
	}, nil
}

// modelToRun converts database model to domain entity
func (r *GormRunRepository) modelToRun(m *PipelineRunModel) (*pipeline.Run, error) {
	var inputFiles []string
	if m.InputFiles != "" {
		if err := json.Unmarshal([]byte(m.InputFiles), &inputFiles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input files: %w", err)
		}
	}

	var sourceURLs []string
	if m.SourceURLs != "" {
		if err := json.Unmarshal([]byte(m.SourceURLs), &sourceURLs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source URLs: %w", err)
		}
	}

	var errorMsg string
	if m.ErrorMessage != nil {
		errorMsg = *m.ErrorMessage
	}

	return pipeline.ReconstituteRun(
		m.ID,
		m.TenantID,
		inputFiles,
		sourceURLs,
		pipeline.RunStatus(m.Status),
		pipeline.Stage(m.CurrentStage),
		m.Progress,
		errorMsg,
		m.CreatedAt,
		m.StartedAt,
		m.CompletedAt,
		m.ParentRunID,
		m.BatchIndex,
		m.BatchSize,
		m.TotalBatches,
		m.TotalItems,
		m.ProcessedItems,
		m.TotalQuestions,
	), nil
}
