package queries

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/qbanklabs/qbank-go/internal/application/admission"
	"github.com/qbanklabs/qbank-go/internal/application/common"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/tenant"
)

// listCacheTTL bounds how stale a cached listing can get between the
// state-change invalidations the stage runner performs.
const listCacheTTL = 30 * time.Second

// ListPipelinesQuery pages through a tenant's runs, newest first
type ListPipelinesQuery struct {
	// TenantID accepts a tenant ID or slug
	TenantID string

	// Statuses restricts the listing; empty means all states
	Statuses []string

	// IncludeChildren also lists batch children
	IncludeChildren bool

	// Limit caps the page size; zero means no limit
	Limit int

	// Offset skips the first N runs
	Offset int
}

// ListPipelinesResponse carries one page of run summaries
type ListPipelinesResponse struct {
	Runs []*admission.RunSummary
}

// ListPipelinesHandler handles run listings. With a cache it serves
// repeated listings from tenant-prefixed entries that the stage runner
// invalidates whenever a run changes state; a nil cache disables that.
type ListPipelinesHandler struct {
	tenants tenant.Repository
	runs    pipeline.RunRepository
	cache   common.BlobCache
}

// NewListPipelinesHandler creates a new list handler
func NewListPipelinesHandler(tenants tenant.Repository, runs pipeline.RunRepository, cache common.BlobCache) *ListPipelinesHandler {
	return &ListPipelinesHandler{tenants: tenants, runs: runs, cache: cache}
}

// Handle executes the list query
func (h *ListPipelinesHandler) Handle(ctx context.Context, request common.Request) (common.Response, error) {
	query, ok := request.(*ListPipelinesQuery)
	if !ok {
		return nil, fmt.Errorf("invalid request type: expected *ListPipelinesQuery")
	}
	if query.TenantID == "" {
		return nil, fmt.Errorf("tenant is required")
	}

	owner, err := h.resolveTenant(ctx, query.TenantID)
	if err != nil {
		return nil, err
	}

	key := listCacheKey(owner.ID(), query)
	if h.cache != nil {
		if data, found, cerr := h.cache.Get(ctx, key); cerr == nil && found {
			var cached []*admission.RunSummary
			if uerr := json.Unmarshal(data, &cached); uerr == nil {
				return &ListPipelinesResponse{Runs: cached}, nil
			}
		}
	}

	statuses := make([]pipeline.RunStatus, 0, len(query.Statuses))
	for _, raw := range query.Statuses {
		statuses = append(statuses, pipeline.RunStatus(raw))
	}

	runs, err := h.runs.FindByTenant(ctx, owner.ID(), pipeline.RunFilter{
		Statuses:        statuses,
		IncludeChildren: query.IncludeChildren,
		Limit:           query.Limit,
		Offset:          query.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	summaries := admission.NewRunSummaries(runs)
	if h.cache != nil {
		if data, merr := json.Marshal(summaries); merr == nil {
			if cerr := h.cache.Set(ctx, key, data, listCacheTTL); cerr != nil {
				fmt.Printf("Failed to cache run listing for tenant %s: %v\n", owner.ID(), cerr)
			}
		}
	}

	return &ListPipelinesResponse{Runs: summaries}, nil
}

// listCacheKey folds every filter into the key so distinct pages and
// filters never collide, while staying under the tenant prefix the
// runner invalidates.
func listCacheKey(tenantID string, q *ListPipelinesQuery) string {
	parts := []string{"runs", strings.Join(q.Statuses, ",")}
	if q.IncludeChildren {
		parts = append(parts, "children")
	}
	parts = append(parts, fmt.Sprintf("%d_%d", q.Limit, q.Offset))
	return common.TenantCacheKey(tenantID, parts...)
}

func (h *ListPipelinesHandler) resolveTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	owner, err := h.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	if owner == nil {
		owner, err = h.tenants.FindBySlug(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
		}
	}
	if owner == nil {
		return nil, &tenant.ErrTenantNotFound{TenantID: tenantID}
	}
	return owner, nil
}
