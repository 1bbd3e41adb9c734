package common

import (
	"context"
	"time"
)

// BlobCache is a small byte cache with TTLs. The run-listing query
// caches its summary pages under tenant-prefixed keys; the stage
// runner invalidates a tenant's prefix whenever one of its runs changes
// state. Backed by Redis when configured, by a database table otherwise.
type BlobCache interface {
	// Get returns the cached value and whether the key was present
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value; ttl <= 0 means no expiry
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes one key; missing keys are not an error
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix
	DeletePrefix(ctx context.Context, prefix string) error
}

// TenantCacheKey builds the cache key prefix for one tenant so all of
// a tenant's entries can be invalidated together.
func TenantCacheKey(tenantID string, parts ...string) string {
	key := "tenant:" + tenantID
	for _, part := range parts {
		key += ":" + part
	}
	return key
}
