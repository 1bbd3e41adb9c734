package persistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/qbanklabs/qbank-go/internal/domain/tenant"
)

// GormCategoryRepository implements tenant.CategoryRepository using GORM
type GormCategoryRepository struct {
	db *gorm.DB
}

// NewGormCategoryRepository creates a new GORM category repository
func NewGormCategoryRepository(db *gorm.DB) *GormCategoryRepository {
	return &GormCategoryRepository{db: db}
}

// Create persists a new category
func (r *GormCategoryRepository) Create(ctx context.Context, c *tenant.Category) error {
	model := r.categoryToModel(c)

	result := r.db.WithContext(ctx).Create(model)
	if result.Error != nil {
		return fmt.Errorf("failed to create category: %w", result.Error)
	}

	return nil
}

// Update saves changes to an existing category
func (r *GormCategoryRepository) Update(ctx context.Context, c *tenant.Category) error {
	model := r.categoryToModel(c)

	result := r.db.WithContext(ctx).Save(model)
	if result.Error != nil {
		return fmt.Errorf("failed to update category: %w", result.Error)
	}

	return nil
}

// Delete removes a category
func (r *GormCategoryRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&TenantCategoryModel{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete category: %w", result.Error)
	}

	return nil
}

// FindByID retrieves a category by its ID
func (r *GormCategoryRepository) FindByID(ctx context.Context, id string) (*tenant.Category, error) {
	var model TenantCategoryModel
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&model)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find category: %w", result.Error)
	}

	return r.modelToCategory(&model), nil
}

// FindByTenant retrieves a tenant's categories ordered by sortOrder
func (r *GormCategoryRepository) FindByTenant(ctx context.Context, tenantID string) ([]*tenant.Category, error) {
	var models []TenantCategoryModel
	result := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("sort_order ASC, key ASC").
		Find(&models)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to find categories: %w", result.Error)
	}

	categories := make([]*tenant.Category, len(models))
	for i, model := range models {
		categories[i] = r.modelToCategory(&model)
	}

	return categories, nil
}

// FindByKey retrieves one category by its tenant-scoped key
func (r *GormCategoryRepository) FindByKey(ctx context.Context, tenantID, key string) (*tenant.Category, error) {
	var model TenantCategoryModel
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND key = ?", tenantID, key).
		First(&model)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find category by key: %w", result.Error)
	}

	return r.modelToCategory(&model), nil
}

// categoryToModel converts domain entity to database model
func (r *GormCategoryRepository) categoryToModel(c *tenant.Category) *TenantCategoryModel {
	return &TenantCategoryModel{
		ID:          c.ID(),
		TenantID:    c.TenantID(),
		Key:         c.Key(),
		Name:        c.Name(),
		Subcategory: c.Subcategory(),
		OutputName:  c.OutputName(),
		SortOrder:   c.SortOrder(),
		CreatedAt:   c.CreatedAt(),
	}
}

// modelToCategory converts database model to domain entity
func (r *GormCategoryRepository) modelToCategory(m *TenantCategoryModel) *tenant.Category {
	return tenant.ReconstituteCategory(
		m.ID,
		m.TenantID,
		m.Key,
		m.Name,
		m.Subcategory,
		m.OutputName,
		m.SortOrder,
		m.CreatedAt,
	)
}
