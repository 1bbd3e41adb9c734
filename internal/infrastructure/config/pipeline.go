package config

import "time"

// PipelineConfig holds stage scheduling and batching configuration
type PipelineConfig struct {
	// Documents per child run; submissions larger than this are fanned out
	BatchSize int `mapstructure:"batch_size" validate:"min=1"`

	// Maximum children per submission; BatchSize*MaxBatches caps the input
	MaxBatches int `mapstructure:"max_batches" validate:"min=1"`

	// Concurrent stage runners per worker process
	WorkerConcurrency int `mapstructure:"worker_concurrency" validate:"min=1"`

	// How often the coordinate stage polls its children
	CoordinatorPollInterval time.Duration `mapstructure:"coordinator_poll_interval" validate:"required"`

	// Hard ceiling on a coordinate job; doubles as its queue lease duration
	CoordinatorTimeout time.Duration `mapstructure:"coordinator_timeout" validate:"required"`

	// Overall timeout passed to the similarity subprocess
	SimilarityTimeout time.Duration `mapstructure:"similarity_timeout" validate:"required"`

	// Queue lease duration for every stage except coordinate
	LeaseDuration time.Duration `mapstructure:"lease_duration" validate:"required"`

	// How often the coordinator checks children for stalled progress
	StalledCheckInterval time.Duration `mapstructure:"stalled_check_interval" validate:"required"`

	// Similarity tuning forwarded to the subprocess
	CrossEncoderThreshold float64 `mapstructure:"cross_encoder_threshold" validate:"min=0,max=1"`
	RefineThreshold       int     `mapstructure:"refine_threshold" validate:"min=0"`
}

// StorageConfig holds the filesystem roots for run artifacts
type StorageConfig struct {
	// Root for uploaded PDFs, laid out as {UploadDir}/{tenantId}/{runId}/
	UploadDir string `mapstructure:"upload_dir" validate:"required"`

	// Root for stage outputs, laid out as {OutputDir}/{tenantId}/{runId}/
	OutputDir string `mapstructure:"output_dir" validate:"required"`
}

// ToolsConfig holds paths to external executables invoked by stages
type ToolsConfig struct {
	// Poppler text extractor (bounding-box XML mode)
	Pdftotext string `mapstructure:"pdftotext"`

	// Poppler page rasterizer
	Pdftoppm string `mapstructure:"pdftoppm"`

	// Similarity grouping engine
	Similarity string `mapstructure:"similarity"`
}
