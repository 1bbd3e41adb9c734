package tenant

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/qbanklabs/qbank-go/internal/domain/shared"
)

// Category is one label a tenant's questions can be assigned to. The
// category list defines both the enum the AI categorizer may return and
// the filenames the split stage writes.
type Category struct {
	id          string
	tenantID    string
	key         string
	name        string
	subcategory *string
	outputName  string
	sortOrder   int
	createdAt   time.Time
}

// NewCategory creates a category for a tenant. The output filename is
// derived from the subcategory when present, else from the name.
func NewCategory(tenantID, key, name string, subcategory *string, sortOrder int) (*Category, error) {
	if tenantID == "" {
		return nil, errors.New("tenant ID is required")
	}
	if key == "" {
		return nil, errors.New("key is required")
	}
	if name == "" {
		return nil, errors.New("name is required")
	}

	label := name
	if subcategory != nil && *subcategory != "" {
		label = *subcategory
	}

	return &Category{
		id:          uuid.New().String(),
		tenantID:    tenantID,
		key:         key,
		name:        name,
		subcategory: subcategory,
		outputName:  shared.SafeFileName(label),
		sortOrder:   sortOrder,
		createdAt:   time.Now().UTC(),
	}, nil
}

// ReconstituteCategory rebuilds a category from persisted state
func ReconstituteCategory(
	id string,
	tenantID string,
	key string,
	name string,
	subcategory *string,
	outputName string,
	sortOrder int,
	createdAt time.Time,
) *Category {
	return &Category{
		id:          id,
		tenantID:    tenantID,
		key:         key,
		name:        name,
		subcategory: subcategory,
		outputName:  outputName,
		sortOrder:   sortOrder,
		createdAt:   createdAt,
	}
}

// ID returns the category identifier
func (c *Category) ID() string {
	return c.id
}

// TenantID returns the owning tenant
func (c *Category) TenantID() string {
	return c.tenantID
}

// Key returns the stable key, unique within the tenant
func (c *Category) Key() string {
	return c.key
}

// Name returns the human display name
func (c *Category) Name() string {
	return c.name
}

// Subcategory returns the optional subcategory label
func (c *Category) Subcategory() *string {
	return c.subcategory
}

// OutputName returns the filename-safe identifier used by split
func (c *Category) OutputName() string {
	return c.outputName
}

// SortOrder returns the position within the tenant's category list
func (c *Category) SortOrder() int {
	return c.sortOrder
}

// CreatedAt returns when the category was created
func (c *Category) CreatedAt() time.Time {
	return c.createdAt
}

// HasSubcategory reports whether this row carries a subcategory label
func (c *Category) HasSubcategory() bool {
	return c.subcategory != nil && *c.subcategory != ""
}
