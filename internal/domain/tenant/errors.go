package tenant

import "fmt"

// ErrTenantNotFound indicates a tenant could not be found
type ErrTenantNotFound struct {
	TenantID string
}

func (e *ErrTenantNotFound) Error() string {
	return fmt.Sprintf("tenant not found: %s", e.TenantID)
}

// ErrTenantInactive indicates a submission was made for a disabled tenant
type ErrTenantInactive struct {
	TenantID string
	Slug     string
}

func (e *ErrTenantInactive) Error() string {
	return fmt.Sprintf("tenant %s (%s) is not active", e.Slug, e.TenantID)
}

// ErrQuotaExceeded indicates the tenant already runs at its concurrency limit
type ErrQuotaExceeded struct {
	TenantID string
	Active   int
	Limit    int
}

func (e *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("tenant %s has %d active runs, limit is %d", e.TenantID, e.Active, e.Limit)
}

// ErrSlugTaken indicates a tenant with the slug already exists
type ErrSlugTaken struct {
	Slug string
}

func (e *ErrSlugTaken) Error() string {
	return fmt.Sprintf("tenant slug already in use: %s", e.Slug)
}

// ErrDuplicateCategoryKey indicates a category key collision within a tenant
type ErrDuplicateCategoryKey struct {
	TenantID string
	Key      string
}

func (e *ErrDuplicateCategoryKey) Error() string {
	return fmt.Sprintf("tenant %s already has a category with key %s", e.TenantID, e.Key)
}
