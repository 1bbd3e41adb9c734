package tenant

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated customer of the pipeline. Tenants own their
// categories and question items; runs execute on behalf of exactly one
// tenant. Tenants are never deleted, only deactivated.
type Tenant struct {
	id                string
	slug              string
	aiCredential      string
	maxConcurrentRuns int
	storageBudgetMB   int
	active            bool
	createdAt         time.Time
	updatedAt         time.Time
}

// NewTenant creates an active tenant with the given quotas
func NewTenant(slug string, maxConcurrentRuns, storageBudgetMB int) (*Tenant, error) {
	if slug == "" {
		return nil, errors.New("slug is required")
	}
	if maxConcurrentRuns < 1 {
		return nil, errors.New("max concurrent runs must be at least 1")
	}
	if storageBudgetMB < 0 {
		return nil, errors.New("storage budget must not be negative")
	}

	now := time.Now().UTC()
	return &Tenant{
		id:                uuid.New().String(),
		slug:              slug,
		maxConcurrentRuns: maxConcurrentRuns,
		storageBudgetMB:   storageBudgetMB,
		active:            true,
		createdAt:         now,
		updatedAt:         now,
	}, nil
}

// ReconstituteTenant rebuilds a tenant from persisted state
func ReconstituteTenant(
	id string,
	slug string,
	aiCredential string,
	maxConcurrentRuns int,
	storageBudgetMB int,
	active bool,
	createdAt time.Time,
	updatedAt time.Time,
) *Tenant {
	return &Tenant{
		id:                id,
		slug:              slug,
		aiCredential:      aiCredential,
		maxConcurrentRuns: maxConcurrentRuns,
		storageBudgetMB:   storageBudgetMB,
		active:            active,
		createdAt:         createdAt,
		updatedAt:         updatedAt,
	}
}

// ID returns the immutable tenant identifier
func (t *Tenant) ID() string {
	return t.id
}

// Slug returns the unique human-readable identifier
func (t *Tenant) Slug() string {
	return t.slug
}

// AICredential returns the tenant-scoped AI key, empty when the tenant
// relies on the process-wide default.
func (t *Tenant) AICredential() string {
	return t.aiCredential
}

// MaxConcurrentRuns returns the admission quota for active runs
func (t *Tenant) MaxConcurrentRuns() int {
	return t.maxConcurrentRuns
}

// StorageBudgetMB returns the tenant's storage allowance in megabytes
func (t *Tenant) StorageBudgetMB() int {
	return t.storageBudgetMB
}

// IsActive reports whether the tenant may submit new runs
func (t *Tenant) IsActive() bool {
	return t.active
}

// CreatedAt returns when the tenant was created
func (t *Tenant) CreatedAt() time.Time {
	return t.createdAt
}

// UpdatedAt returns when the tenant was last modified
func (t *Tenant) UpdatedAt() time.Time {
	return t.updatedAt
}

// Activate re-enables submissions for the tenant
func (t *Tenant) Activate() {
	t.active = true
	t.updatedAt = time.Now().UTC()
}

// Deactivate soft-disables the tenant; existing runs keep executing
func (t *Tenant) Deactivate() {
	t.active = false
	t.updatedAt = time.Now().UTC()
}

// SetAICredential stores or clears the tenant-scoped AI key
func (t *Tenant) SetAICredential(credential string) {
	t.aiCredential = credential
	t.updatedAt = time.Now().UTC()
}

// SetQuotas updates the tenant's admission and storage quotas
func (t *Tenant) SetQuotas(maxConcurrentRuns, storageBudgetMB int) error {
	if maxConcurrentRuns < 1 {
		return errors.New("max concurrent runs must be at least 1")
	}
	if storageBudgetMB < 0 {
		return errors.New("storage budget must not be negative")
	}
	t.maxConcurrentRuns = maxConcurrentRuns
	t.storageBudgetMB = storageBudgetMB
	t.updatedAt = time.Now().UTC()
	return nil
}
