package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the main configuration struct combining all sub-configs
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	AI       AIConfig       `mapstructure:"ai"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LoadConfig loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. Config file (config.yaml)
// 3. Defaults (lowest priority)
func LoadConfig(configPath string) (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	v := viper.New()

	// Set config file details
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/qbank")
	}

	// Enable environment variable reading
	v.SetEnvPrefix("QB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - don't error if missing)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we'll use env vars and defaults
	}

	// Well-known environment variables are honored without the QB_ prefix
	// so deployments keep their existing names
	if err := applyEnvOverrides(v); err != nil {
		return nil, err
	}

	// Create config struct and unmarshal
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	SetDefaults(&cfg)

	// Validate configuration
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides maps the unprefixed deployment environment variables
// onto viper keys. These names predate the config file layout and stay
// stable across releases.
func applyEnvOverrides(v *viper.Viper) error {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		v.Set("database.url", dbURL)
	}
	if addr := os.Getenv("CACHE_REDIS_ADDR"); addr != "" {
		v.Set("cache.redis_addr", addr)
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		v.Set("ai.api_key", key)
	}
	if dir := os.Getenv("UPLOAD_DIR"); dir != "" {
		v.Set("storage.upload_dir", dir)
	}
	if dir := os.Getenv("OUTPUT_DIR"); dir != "" {
		v.Set("storage.output_dir", dir)
	}

	intVars := map[string]string{
		"BATCH_SIZE":         "pipeline.batch_size",
		"MAX_BATCHES":        "pipeline.max_batches",
		"WORKER_CONCURRENCY": "pipeline.worker_concurrency",
	}
	for env, key := range intVars {
		raw := os.Getenv(env)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		v.Set(key, n)
	}

	msVars := map[string]string{
		"COORDINATOR_POLL_INTERVAL_MS": "pipeline.coordinator_poll_interval",
		"COORDINATOR_TIMEOUT_MS":       "pipeline.coordinator_timeout",
		"SIMILARITY_TIMEOUT_MS":        "pipeline.similarity_timeout",
	}
	for env, key := range msVars {
		raw := os.Getenv(env)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		v.Set(key, time.Duration(n)*time.Millisecond)
	}

	return nil
}

// LoadConfigOrDefault loads configuration or returns a default config on error
func LoadConfigOrDefault(configPath string) *Config {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		// Return default configuration
		defaultCfg := &Config{}
		SetDefaults(defaultCfg)
		return defaultCfg
	}
	return cfg
}

// MustLoadConfig loads configuration and panics on error (for use in main.go)
func MustLoadConfig(configPath string) *Config {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
