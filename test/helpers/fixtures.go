package helpers

import (
	"context"
	"testing"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/tenant"
)

// SeedTenant creates and persists an active tenant with generous quotas.
func SeedTenant(t *testing.T, repos *TestRepositories, slug string) *tenant.Tenant {
	t.Helper()

	owner, err := tenant.NewTenant(slug, 5, 10240)
	if err != nil {
		t.Fatalf("failed to build tenant %s: %v", slug, err)
	}
	if err := repos.Tenants.Create(context.Background(), owner); err != nil {
		t.Fatalf("failed to persist tenant %s: %v", slug, err)
	}
	return owner
}

// SeedCategory creates and persists one category for a tenant.
func SeedCategory(t *testing.T, repos *TestRepositories, tenantID, key, name string, subcategory *string, sortOrder int) *tenant.Category {
	t.Helper()

	category, err := tenant.NewCategory(tenantID, key, name, subcategory, sortOrder)
	if err != nil {
		t.Fatalf("failed to build category %s: %v", key, err)
	}
	if err := repos.Categories.Create(context.Background(), category); err != nil {
		t.Fatalf("failed to persist category %s: %v", key, err)
	}
	return category
}

// SeedRunningRun creates and persists a standalone run already started.
func SeedRunningRun(t *testing.T, repos *TestRepositories, tenantID string, inputFiles []string) *pipeline.Run {
	t.Helper()

	run, err := pipeline.NewRun(tenantID, inputFiles, nil)
	if err != nil {
		t.Fatalf("failed to build run: %v", err)
	}
	if err := run.Start(); err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	if err := repos.Runs.Create(context.Background(), run); err != nil {
		t.Fatalf("failed to persist run: %v", err)
	}
	return run
}

// StrPtr returns a pointer to the given string.
func StrPtr(s string) *string {
	return &s
}
