package corpus

import "context"

// ItemRepository handles persistence of the tenant question corpus
type ItemRepository interface {
	// MergeAndSnapshot upserts the given records into the tenant corpus
	// by natural key (tenantId, file) and returns the complete corpus
	// afterwards. The whole merge runs in one serializable transaction
	// so concurrent same-tenant merges produce consistent snapshots:
	// one commits, the other retries.
	MergeAndSnapshot(ctx context.Context, tenantID string, runID string, records []Record) ([]*Item, error)

	// FindByTenant retrieves the tenant's full corpus ordered by file
	FindByTenant(ctx context.Context, tenantID string) ([]*Item, error)

	// FindByFile retrieves one item by its natural key.
	// Returns nil, nil when the tenant has no such file.
	FindByFile(ctx context.Context, tenantID, file string) (*Item, error)

	// Update saves changes to an existing item (admin edits, review flags)
	Update(ctx context.Context, item *Item) error

	// UpdateSimilarityGroup persists one item's recomputed group key.
	// Split calls this row by row; the updates are not transactional.
	UpdateSimilarityGroup(ctx context.Context, tenantID, file string, groupID *string) error

	// DeleteByRuns removes the tenant's items last written by any of the
	// given runs. Used when a batch is restarted from scratch.
	DeleteByRuns(ctx context.Context, tenantID string, runIDs []string) error

	// CountByTenant returns the corpus size
	CountByTenant(ctx context.Context, tenantID string) (int, error)
}
