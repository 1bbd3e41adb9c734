package persistence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qbanklabs/qbank-go/internal/domain/shared"
)

// GormCacheStore implements common.BlobCache on the cache_entries
// table. It is the fallback when no Redis address is configured, which
// keeps single-node deployments to one external dependency.
type GormCacheStore struct {
	db    *gorm.DB
	clock shared.Clock
}

// NewGormCacheStore creates a database-backed blob cache.
// If clock is nil, uses RealClock (production behavior).
func NewGormCacheStore(db *gorm.DB, clock shared.Clock) *GormCacheStore {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &GormCacheStore{db: db, clock: clock}
}

// Get returns the cached value and whether the key was present.
// Expired entries are treated as absent and deleted opportunistically.
func (c *GormCacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var model CacheEntryModel
	result := c.db.WithContext(ctx).Where("key = ?", key).First(&model)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cache entry: %w", result.Error)
	}

	if model.ExpiresAt != nil && !model.ExpiresAt.After(c.clock.Now()) {
		c.db.WithContext(ctx).Where("key = ?", key).Delete(&CacheEntryModel{})
		return nil, false, nil
	}

	return []byte(model.Value), true, nil
}

// Set stores a value; ttl <= 0 means no expiry
func (c *GormCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := c.clock.Now()

	var expiresAt *time.Time
	if ttl > 0 {
		expiry := now.Add(ttl)
		expiresAt = &expiry
	}

	model := &CacheEntryModel{
		Key:       key,
		Value:     string(value),
		ExpiresAt: expiresAt,
		UpdatedAt: now,
	}

	result := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(model)
	if result.Error != nil {
		return fmt.Errorf("failed to write cache entry: %w", result.Error)
	}

	return nil
}

// Delete removes one key; missing keys are not an error
func (c *GormCacheStore) Delete(ctx context.Context, key string) error {
	result := c.db.WithContext(ctx).Where("key = ?", key).Delete(&CacheEntryModel{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete cache entry: %w", result.Error)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix
func (c *GormCacheStore) DeletePrefix(ctx context.Context, prefix string) error {
	result := c.db.WithContext(ctx).
		Where("key LIKE ?", prefix+"%").
		Delete(&CacheEntryModel{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete cache entries: %w", result.Error)
	}
	return nil
}
