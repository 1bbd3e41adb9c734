package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qbanklabs/qbank-go/internal/adapters/metrics"
	"github.com/qbanklabs/qbank-go/internal/domain/corpus"
	"github.com/qbanklabs/qbank-go/internal/domain/shared"
)

const (
	// mergeChunkSize bounds each upsert statement inside the merge
	mergeChunkSize = 100

	// mergeTimeout caps one merge transaction end to end
	mergeTimeout = 60 * time.Second

	// mergeRetries is how often a serialization conflict is retried
	mergeRetries = 3
)

// GormItemRepository implements corpus.ItemRepository using GORM
type GormItemRepository struct {
	db    *gorm.DB
	clock shared.Clock
}

// NewGormItemRepository creates a new GORM item repository.
// If clock is nil, uses RealClock (production behavior).
func NewGormItemRepository(db *gorm.DB, clock shared.Clock) *GormItemRepository {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &GormItemRepository{db: db, clock: clock}
}

// MergeAndSnapshot upserts records by (tenant_id, file) and returns the
// full corpus afterwards, all inside one serializable transaction.
// Concurrent same-tenant merges conflict at commit; the loser retries
// the whole transaction after a short pause.
func (r *GormItemRepository) MergeAndSnapshot(ctx context.Context, tenantID string, runID string, records []corpus.Record) ([]*corpus.Item, error) {
	var snapshot []*corpus.Item
	var err error

	for attempt := 1; attempt <= mergeRetries; attempt++ {
		snapshot, err = r.mergeOnce(ctx, tenantID, runID, records)
		if err == nil {
			return snapshot, nil
		}
		if !isSerializationFailure(err) {
			return nil, err
		}
		metrics.RecordMergeConflict(tenantID)
		r.clock.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}

	return nil, fmt.Errorf("corpus merge kept conflicting after %d attempts: %w", mergeRetries, err)
}

func (r *GormItemRepository) mergeOnce(ctx context.Context, tenantID string, runID string, records []corpus.Record) ([]*corpus.Item, error) {
	mergeCtx, cancel := context.WithTimeout(ctx, mergeTimeout)
	defer cancel()

	models := make([]ItemModel, 0, len(records))
	for _, record := range records {
		record.PipelineRunID = runID
		item, err := corpus.NewItem(tenantID, record)
		if err != nil {
			return nil, fmt.Errorf("failed to build item for merge: %w", err)
		}
		model, err := itemToModel(item)
		if err != nil {
			return nil, err
		}
		models = append(models, *model)
	}

	var snapshot []*corpus.Item
	err := r.db.WithContext(mergeCtx).Transaction(func(tx *gorm.DB) error {
		if len(models) > 0 {
			// New rows carry a null similarity group, so the conflict
			// assignment also resets the group of updated rows: any
			// change to the corpus invalidates previous grouping.
			result := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "tenant_id"}, {Name: "file"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"pipeline_run_id",
					"source_pdf",
					"success",
					"parse_data",
					"parse_error",
					"parse_error_type",
					"categorization",
					"similarity_group_id",
					"updated_at",
				}),
			}).CreateInBatches(models, mergeChunkSize)
			if result.Error != nil {
				return fmt.Errorf("failed to upsert items: %w", result.Error)
			}
		}

		var stored []ItemModel
		if err := tx.Where("tenant_id = ?", tenantID).Order("file ASC").Find(&stored).Error; err != nil {
			return fmt.Errorf("failed to read corpus snapshot: %w", err)
		}

		snapshot = make([]*corpus.Item, len(stored))
		for i, model := range stored {
			item, err := modelToItem(&model)
			if err != nil {
				return err
			}
			snapshot[i] = item
		}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})

	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// isSerializationFailure recognizes PostgreSQL's SQLSTATE 40001, raised
// when two serializable transactions overlap on the same tenant.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

// FindByTenant retrieves the tenant's full corpus ordered by file
func (r *GormItemRepository) FindByTenant(ctx context.Context, tenantID string) ([]*corpus.Item, error) {
	var models []ItemModel
	result := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("file ASC").
		Find(&models)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to find items: %w", result.Error)
	}

	items := make([]*corpus.Item, len(models))
	for i, model := range models {
		item, err := modelToItem(&model)
		if err != nil {
			return nil, err
		}
		items[i] = item
	}

	return items, nil
}

// FindByFile retrieves one item by its natural key
func (r *GormItemRepository) FindByFile(ctx context.Context, tenantID, file string) (*corpus.Item, error) {
	var model ItemModel
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND file = ?", tenantID, file).
		First(&model)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find item: %w", result.Error)
	}

	return modelToItem(&model)
}

// Update saves changes to an existing item
func (r *GormItemRepository) Update(ctx context.Context, item *corpus.Item) error {
	model, err := itemToModel(item)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).Save(model)
	if result.Error != nil {
		return fmt.Errorf("failed to update item: %w", result.Error)
	}

	return nil
}

// UpdateSimilarityGroup persists one item's recomputed group key
func (r *GormItemRepository) UpdateSimilarityGroup(ctx context.Context, tenantID, file string, groupID *string) error {
	result := r.db.WithContext(ctx).
		Model(&ItemModel{}).
		Where("tenant_id = ? AND file = ?", tenantID, file).
		Updates(map[string]interface{}{
			"similarity_group_id": groupID,
			"updated_at":          r.clock.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update similarity group: %w", result.Error)
	}

	return nil
}

// DeleteByRuns removes the tenant's items last written by any of the given runs
func (r *GormItemRepository) DeleteByRuns(ctx context.Context, tenantID string, runIDs []string) error {
	if len(runIDs) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND pipeline_run_id IN ?", tenantID, runIDs).
		Delete(&ItemModel{})

	if result.Error != nil {
		return fmt.Errorf("failed to delete items: %w", result.Error)
	}

	return nil
}

// CountByTenant returns the corpus size
func (r *GormItemRepository) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	var count int64
	result := r.db.WithContext(ctx).
		Model(&ItemModel{}).
		Where("tenant_id = ?", tenantID).
		Count(&count)

	if result.Error != nil {
		return 0, fmt.Errorf("failed to count items: %w", result.Error)
	}

	return int(count), nil
}

// itemToModel converts domain entity to database model
func itemToModel(item *corpus.Item) (*ItemModel, error) {
	var categorization *string
	if item.Categorization() != nil {
		raw, err := json.Marshal(item.Categorization())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal categorization: %w", err)
		}
		s := string(raw)
		categorization = &s
	}

	var parseError *string
	if item.ParseError() != "" {
		s := item.ParseError()
		parseError = &s
	}

	var parseErrorType *string
	if item.ParseErrorType() != "" {
		s := item.ParseErrorType()
		parseErrorType = &s
	}

	return &ItemModel{
		ID:                item.ID(),
		TenantID:          item.TenantID(),
		File:              item.File(),
		PipelineRunID:     item.PipelineRunID(),
		SourcePDF:         item.SourcePDF(),
		Success:           item.Success(),
		ParseData:         string(item.ParseData()),
		ParseError:        parseError,
		ParseErrorType:    parseErrorType,
		Categorization:    categorization,
		SimilarityGroupID: item.SimilarityGroupID(),
		MarkedWrong:       item.MarkedWrong(),
		MarkedWrongAt:     item.MarkedWrongAt(),
		CreatedAt:         item.CreatedAt(),
		UpdatedAt:         item.UpdatedAt(),
	}, nil
}

// modelToItem converts database model to domain entity
func modelToItem(m *ItemModel) (*corpus.Item, error) {
	var categorization *corpus.Categorization
	if m.Categorization != nil && *m.Categorization != "" {
		categorization = &corpus.Categorization{}
		if err := json.Unmarshal([]byte(*m.Categorization), categorization); err != nil {
			return nil, fmt.Errorf("failed to unmarshal categorization: %w", err)
		}
	}

	var parseError, parseErrorType string
	if m.ParseError != nil {
		parseError = *m.ParseError
	}
	if m.ParseErrorType != nil {
		parseErrorType = *m.ParseErrorType
	}

	var parseData json.RawMessage
	if m.ParseData != "" {
		parseData = json.RawMessage(m.ParseData)
	}

	return corpus.ReconstituteItem(
		m.ID,
		m.TenantID,
		m.File,
		m.PipelineRunID,
		m.SourcePDF,
		m.Success,
		parseData,
		parseError,
		parseErrorType,
		categorization,
		m.SimilarityGroupID,
		m.MarkedWrong,
		m.MarkedWrongAt,
		m.CreatedAt,
		m.UpdatedAt,
	), nil
}
