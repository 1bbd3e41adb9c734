package config

import "time"

// SetDefaults sets default values for all configuration fields
func SetDefaults(cfg *Config) {
	// Database defaults
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "qbank"
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "qbank"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.BusyTimeout == 0 {
		cfg.Database.BusyTimeout = 5 * time.Second
	}
	if cfg.Database.Pool.MaxOpen == 0 {
		cfg.Database.Pool.MaxOpen = 25
	}
	if cfg.Database.Pool.MaxIdle == 0 {
		cfg.Database.Pool.MaxIdle = 5
	}
	if cfg.Database.Pool.MaxLifetime == 0 {
		cfg.Database.Pool.MaxLifetime = 5 * time.Minute
	}

	// AI defaults
	if cfg.AI.BaseURL == "" {
		cfg.AI.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.AI.VisionModel == "" {
		cfg.AI.VisionModel = "gemini-2.0-flash"
	}
	if cfg.AI.LanguageModel == "" {
		cfg.AI.LanguageModel = "gemini-2.0-flash"
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 2 * time.Minute
	}
	if cfg.AI.RateLimit.Requests == 0 {
		cfg.AI.RateLimit.Requests = 10
	}
	if cfg.AI.RateLimit.Burst == 0 {
		cfg.AI.RateLimit.Burst = 20
	}
	if cfg.AI.MaxAttempts == 0 {
		cfg.AI.MaxAttempts = 3
	}
	if cfg.AI.MaxInFlight == 0 {
		cfg.AI.MaxInFlight = 10
	}

	// Pipeline defaults
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = 30
	}
	if cfg.Pipeline.MaxBatches == 0 {
		cfg.Pipeline.MaxBatches = 20
	}
	if cfg.Pipeline.WorkerConcurrency == 0 {
		cfg.Pipeline.WorkerConcurrency = 3
	}
	if cfg.Pipeline.CoordinatorPollInterval == 0 {
		cfg.Pipeline.CoordinatorPollInterval = 10 * time.Second
	}
	if cfg.Pipeline.CoordinatorTimeout == 0 {
		cfg.Pipeline.CoordinatorTimeout = 4 * time.Hour
	}
	if cfg.Pipeline.SimilarityTimeout == 0 {
		cfg.Pipeline.SimilarityTimeout = time.Hour
	}
	if cfg.Pipeline.LeaseDuration == 0 {
		cfg.Pipeline.LeaseDuration = 10 * time.Minute
	}
	if cfg.Pipeline.StalledCheckInterval == 0 {
		cfg.Pipeline.StalledCheckInterval = 30 * time.Minute
	}
	if cfg.Pipeline.CrossEncoderThreshold == 0 {
		cfg.Pipeline.CrossEncoderThreshold = 0.7
	}
	if cfg.Pipeline.RefineThreshold == 0 {
		cfg.Pipeline.RefineThreshold = 10
	}

	// Storage defaults
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "./data/uploads"
	}
	if cfg.Storage.OutputDir == "" {
		cfg.Storage.OutputDir = "./data/outputs"
	}

	// Tool defaults resolve through PATH
	if cfg.Tools.Pdftotext == "" {
		cfg.Tools.Pdftotext = "pdftotext"
	}
	if cfg.Tools.Pdftoppm == "" {
		cfg.Tools.Pdftoppm = "pdftoppm"
	}
	if cfg.Tools.Similarity == "" {
		cfg.Tools.Similarity = "similarity-engine"
	}

	// Daemon defaults
	if cfg.Daemon.SocketPath == "" {
		cfg.Daemon.SocketPath = "/tmp/qbank-daemon.sock"
	}
	if cfg.Daemon.PIDFile == "" {
		cfg.Daemon.PIDFile = "/tmp/qbank-daemon.pid"
	}
	if cfg.Daemon.ShutdownTimeout == 0 {
		cfg.Daemon.ShutdownTimeout = 30 * time.Second
	}

	// Cache defaults
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = 24 * time.Hour
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}
