package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Namespace for all metrics
	namespace = "qbank"
	// Subsystem for daemon metrics
	subsystem = "daemon"
)

var (
	// Registry is the global Prometheus registry for all metrics
	Registry *prometheus.Registry

	// globalCollector is the singleton pipeline metrics collector
	// Set by SetGlobalCollector() when metrics are enabled
	globalCollector PipelineMetricsRecorder
)

// PipelineMetricsRecorder defines the interface for recording pipeline
// events. The stage runners and the AI client record through it so they
// never care whether metrics are enabled.
type PipelineMetricsRecorder interface {
	RecordRunTransition(status string)
	RecordJobOutcome(stage, outcome string)
	ObserveStageDuration(stage string, seconds float64)
	RecordAIRetry(reason string)
	RecordMergeConflict(tenantID string)
}

// InitRegistry initializes the Prometheus registry
// Should be called once at application startup if metrics are enabled
func InitRegistry() {
	Registry = prometheus.NewRegistry()
}

// GetRegistry returns the global Prometheus registry
// Returns nil if metrics are not initialized
func GetRegistry() *prometheus.Registry {
	return Registry
}

// IsEnabled returns true if metrics collection is enabled
func IsEnabled() bool {
	return Registry != nil
}

// SetGlobalCollector sets the global metrics collector
// This should be called after the collector is created and registered
func SetGlobalCollector(collector PipelineMetricsRecorder) {
	globalCollector = collector
}

// RecordRunTransition records a run entering a lifecycle status globally
func RecordRunTransition(status string) {
	if globalCollector != nil {
		globalCollector.RecordRunTransition(status)
	}
}

// RecordJobOutcome records a stage attempt outcome globally
func RecordJobOutcome(stage, outcome string) {
	if globalCollector != nil {
		globalCollector.RecordJobOutcome(stage, outcome)
	}
}

// ObserveStageDuration records how long a stage attempt ran globally
func ObserveStageDuration(stage string, seconds float64) {
	if globalCollector != nil {
		globalCollector.ObserveStageDuration(stage, seconds)
	}
}

// RecordAIRetry records one retried model call globally
func RecordAIRetry(reason string) {
	if globalCollector != nil {
		globalCollector.RecordAIRetry(reason)
	}
}

// RecordMergeConflict records one serialization conflict during a
// corpus merge globally
func RecordMergeConflict(tenantID string) {
	if globalCollector != nil {
		globalCollector.RecordMergeConflict(tenantID)
	}
}
