package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/qbanklabs/qbank-go/internal/domain/shared"
)

// PipelineLogRepository manages per-run log persistence
type PipelineLogRepository interface {
	// Log writes a log entry to the database with deduplication
	Log(ctx context.Context, runID string, message, level string, metadata map[string]interface{}) error

	// GetLogs retrieves logs for a run with optional filtering
	GetLogs(ctx context.Context, runID string, limit int, level *string, since *time.Time) ([]PipelineLogEntry, error)

	// GetLogsWithOffset retrieves logs for a run with pagination support
	GetLogsWithOffset(ctx context.Context, runID string, limit, offset int, level *string, since *time.Time) ([]PipelineLogEntry, error)
}

// PipelineLogEntry represents a log entry
type PipelineLogEntry struct {
	ID        int
	RunID     string
	Timestamp time.Time
	Level     string
	Message   string
	Metadata  map[string]interface{}
}

// GormPipelineLogRepository is a GORM-based implementation
type GormPipelineLogRepository struct {
	db    *gorm.DB
	clock shared.Clock

	// Deduplication cache: heartbeat loops tend to repeat the same
	// message many times per minute and only the first one matters
	dedupCache   map[string]time.Time // key: runID+message, value: last logged time
	dedupMu      sync.Mutex
	dedupWindow  time.Duration
	dedupMaxSize int
}

// NewGormPipelineLogRepository creates a new pipeline log repository.
// If clock is nil, uses RealClock (production behavior).
func NewGormPipelineLogRepository(db *gorm.DB, clock shared.Clock) *GormPipelineLogRepository {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &GormPipelineLogRepository{
		db:           db,
		clock:        clock,
		dedupCache:   make(map[string]time.Time),
		dedupWindow:  60 * time.Second,
		dedupMaxSize: 10000,
	}
}

// Log writes a log entry with time-windowed deduplication
func (r *GormPipelineLogRepository) Log(ctx context.Context, runID string, message, level string, metadata map[string]interface{}) error {
	now := r.clock.Now()
	cacheKey := runID + "|" + message

	r.dedupMu.Lock()

	if lastLogged, exists := r.dedupCache[cacheKey]; exists {
		if now.Sub(lastLogged) < r.dedupWindow {
			r.dedupMu.Unlock()
			return nil
		}
	}

	if len(r.dedupCache) >= r.dedupMaxSize {
		r.cleanupDedupCache()
	}

	r.dedupCache[cacheKey] = now
	r.dedupMu.Unlock()

	var metadataJSON string
	if len(metadata) > 0 {
		jsonBytes, err := json.Marshal(metadata)
		if err == nil {
			metadataJSON = string(jsonBytes)
		}
	}

	logEntry := &PipelineLogModel{
		RunID:     runID,
		Timestamp: now,
		Level:     level,
		Message:   message,
		Metadata:  metadataJSON,
	}

	return r.db.WithContext(ctx).Create(logEntry).Error
}

// cleanupDedupCache removes old entries from the deduplication cache.
// Must be called while holding dedupMu.
func (r *GormPipelineLogRepository) cleanupDedupCache() {
	cutoff := r.clock.Now().Add(-r.dedupWindow)

	for key, timestamp := range r.dedupCache {
		if timestamp.Before(cutoff) {
			delete(r.dedupCache, key)
		}
	}
}

// GetLogs retrieves logs for a run with optional filtering
func (r *GormPipelineLogRepository) GetLogs(ctx context.Context, runID string, limit int, level *string, since *time.Time) ([]PipelineLogEntry, error) {
	return r.GetLogsWithOffset(ctx, runID, limit, 0, level, since)
}

// GetLogsWithOffset retrieves logs for a run with pagination support
func (r *GormPipelineLogRepository) GetLogsWithOffset(ctx context.Context, runID string, limit, offset int, level *string, since *time.Time) ([]PipelineLogEntry, error) {
	var models []PipelineLogModel

	query := r.db.WithContext(ctx).Where("run_id = ?", runID)

	if level != nil {
		query = query.Where("level = ?", *level)
	}

	if since != nil {
		query = query.Where("timestamp > ?", *since)
	}

	query = query.Order("timestamp DESC").Limit(limit)
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	entries := make([]PipelineLogEntry, len(models))
	for i, model := range models {
		var metadata map[string]interface{}
		if model.Metadata != "" {
			if err := json.Unmarshal([]byte(model.Metadata), &metadata); err != nil {
				metadata = nil
			}
		}

		entries[i] = PipelineLogEntry{
			ID:        model.ID,
			RunID:     model.RunID,
			Timestamp: model.Timestamp,
			Level:     model.Level,
			Message:   model.Message,
			Metadata:  metadata,
		}
	}

	return entries, nil
}
