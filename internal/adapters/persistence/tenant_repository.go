package persistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/qbanklabs/qbank-go/internal/domain/tenant"
)

// GormTenantRepository implements tenant.Repository using GORM
type GormTenantRepository struct {
	db *gorm.DB
}

// NewGormTenantRepository creates a new GORM tenant repository
func NewGormTenantRepository(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

// Create persists a new tenant
func (r *GormTenantRepository) Create(ctx context.Context, t *tenant.Tenant) error {
	model := r.tenantToModel(t)

	result := r.db.WithContext(ctx).Create(model)
	if result.Error != nil {
		return fmt.Errorf("failed to create tenant: %w", result.Error)
	}

	return nil
}

// Update saves changes to an existing tenant
func (r *GormTenantRepository) Update(ctx context.Context, t *tenant.Tenant) error {
	model := r.tenantToModel(t)

	result := r.db.WithContext(ctx).Save(model)
	if result.Error != nil {
		return fmt.Errorf("failed to update tenant: %w", result.Error)
	}

	return nil
}

// FindByID retrieves a tenant by its ID
func (r *GormTenantRepository) FindByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	var model TenantModel
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&model)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find tenant: %w", result.Error)
	}

	return r.modelToTenant(&model), nil
}

// FindBySlug retrieves a tenant by its unique slug
func (r *GormTenantRepository) FindBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	var model TenantModel
	result := r.db.WithContext(ctx).Where("slug = ?", slug).First(&model)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find tenant by slug: %w", result.Error)
	}

	return r.modelToTenant(&model), nil
}

// FindAll retrieves every tenant, ordered by slug
func (r *GormTenantRepository) FindAll(ctx context.Context) ([]*tenant.Tenant, error) {
	var models []TenantModel
	result := r.db.WithContext(ctx).Order("slug ASC").Find(&models)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", result.Error)
	}

	tenants := make([]*tenant.Tenant, len(models))
	for i, model := range models {
		tenants[i] = r.modelToTenant(&model)
	}

	return tenants, nil
}

// tenantToModel converts domain entity to database model
func (r *GormTenantRepository) tenantToModel(t *tenant.Tenant) *TenantModel {
	return &TenantModel{
		ID:                t.ID(),
		Slug:              t.Slug(),
		AICredential:      t.AICredential(),
		MaxConcurrentRuns: t.MaxConcurrentRuns(),
		StorageBudgetMB:   t.StorageBudgetMB(),
		Active:            t.IsActive(),
		CreatedAt:         t.CreatedAt(),
		UpdatedAt:         t.UpdatedAt(),
	}
}

// modelToTenant converts database model to domain entity
func (r *GormTenantRepository) modelToTenant(m *TenantModel) *tenant.Tenant {
	return tenant.ReconstituteTenant(
		m.ID,
		m.Slug,
		m.AICredential,
		m.MaxConcurrentRuns,
		m.StorageBudgetMB,
		m.Active,
		m.CreatedAt,
		m.UpdatedAt,
	)
}
