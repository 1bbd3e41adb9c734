package tenant

import "context"

// Repository handles persistence of tenants
type Repository interface {
	// Create persists a new tenant
	Create(ctx context.Context, tenant *Tenant) error

	// Update saves changes to an existing tenant
	Update(ctx context.Context, tenant *Tenant) error

	// FindByID retrieves a tenant by its ID
	FindByID(ctx context.Context, id string) (*Tenant, error)

	// FindBySlug retrieves a tenant by its unique slug
	FindBySlug(ctx context.Context, slug string) (*Tenant, error)

	// FindAll retrieves every tenant, ordered by slug
	FindAll(ctx context.Context) ([]*Tenant, error)
}

// CategoryRepository handles persistence of tenant categories
type CategoryRepository interface {
	// Create persists a new category
	Create(ctx context.Context, category *Category) error

	// Update saves changes to an existing category
	Update(ctx context.Context, category *Category) error

	// Delete removes a category
	Delete(ctx context.Context, id string) error

	// FindByID retrieves a category by its ID
	FindByID(ctx context.Context, id string) (*Category, error)

	// FindByTenant retrieves a tenant's categories ordered by sortOrder
	FindByTenant(ctx context.Context, tenantID string) ([]*Category, error)

	// FindByKey retrieves one category by its tenant-scoped key.
	// Returns nil, nil when the key is unknown.
	FindByKey(ctx context.Context, tenantID, key string) (*Category, error)
}
