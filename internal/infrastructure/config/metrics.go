package config

// MetricsConfig holds metrics collection configuration. Exposition is
// handled outside the daemon; when enabled, the daemon only registers
// its collectors on the process registry.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active
	Enabled bool `mapstructure:"enabled"`
}
