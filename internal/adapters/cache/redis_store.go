// Package cache provides the Redis-backed blob cache.
//
// The daemon prefers Redis when CACHE_REDIS_ADDR is configured and falls
// back to the database-backed store otherwise; both implement
// common.BlobCache so callers never know which one they got.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// deletePrefixScanCount is the SCAN page size used by DeletePrefix.
const deletePrefixScanCount = 256

// RedisCacheStore implements common.BlobCache on top of a Redis server.
type RedisCacheStore struct {
	client *goredis.Client
}

// NewRedisCacheStore creates a cache store from a Redis address or URL.
// Plain "host:port" addresses and "redis://" URLs are both accepted.
func NewRedisCacheStore(addr string) (*RedisCacheStore, error) {
	if addr == "" {
		return nil, errors.New("redis cache requires an address")
	}

	var opts *goredis.Options
	if strings.Contains(addr, "://") {
		parsed, err := goredis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{Addr: addr}
	}

	return &RedisCacheStore{client: goredis.NewClient(opts)}, nil
}

// NewRedisCacheStoreFromClient wraps an existing client. Used by tests.
func NewRedisCacheStoreFromClient(client *goredis.Client) *RedisCacheStore {
	return &RedisCacheStore{client: client}
}

// Get returns the cached value for key, or found=false on a miss.
func (s *RedisCacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return value, true, nil
}

// Set stores value under key. A non-positive ttl stores without expiry.
func (s *RedisCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *RedisCacheStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix using SCAN so large
// keyspaces are walked incrementally instead of blocking the server.
func (s *RedisCacheStore) DeletePrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", deletePrefixScanCount).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete cache entries: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping verifies connectivity. The daemon calls this once at startup so a
// misconfigured address fails fast instead of on the first cache hit.
func (s *RedisCacheStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close releases the underlying client connections.
func (s *RedisCacheStore) Close() error {
	return s.client.Close()
}
