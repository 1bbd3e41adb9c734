package config

import "time"

// AIConfig holds AI provider client configuration. The same credential is
// used for vision (parse) and language (categorize) calls unless a tenant
// carries its own.
type AIConfig struct {
	// Base URL for the generative API
	BaseURL string `mapstructure:"base_url" validate:"required,url"`

	// Default API key, overridden per tenant when the tenant has a credential
	APIKey string `mapstructure:"api_key"`

	// Model used for image-to-JSON extraction
	VisionModel string `mapstructure:"vision_model" validate:"required"`

	// Model used for categorization prompts
	LanguageModel string `mapstructure:"language_model" validate:"required"`

	// Per-request timeout
	Timeout time.Duration `mapstructure:"timeout" validate:"required"`

	// Rate limiting settings
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// Maximum attempts per call (429 and 5xx responses are retried)
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=1"`

	// Maximum concurrent in-flight calls per stage
	MaxInFlight int `mapstructure:"max_in_flight" validate:"min=1"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Maximum requests per second
	Requests int `mapstructure:"requests" validate:"min=1"`

	// Burst size for token bucket
	Burst int `mapstructure:"burst" validate:"min=1"`
}
