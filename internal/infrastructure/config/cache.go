package config

import "time"

// CacheConfig holds blob cache configuration
type CacheConfig struct {
	// Redis address or URL; empty selects the database-backed store
	RedisAddr string `mapstructure:"redis_addr"`

	// Default entry lifetime when callers don't pass one
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}
