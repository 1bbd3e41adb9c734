package metrics

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
)

// queuePollInterval paces the backlog gauge refresh
const queuePollInterval = 10 * time.Second

// QueueDepthSource reports the per-stage backlog. The durable queue
// store implements it; tests can stub it.
type QueueDepthSource interface {
	Depths(ctx context.Context) (map[pipeline.Stage]int64, error)
}

// PipelineMetricsCollector handles all run, job and queue metrics
type PipelineMetricsCollector struct {
	// Dependencies
	depthSource QueueDepthSource

	// Run and job metrics
	runTransitionsTotal *prometheus.CounterVec
	jobOutcomesTotal    *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec

	// Infrastructure metrics
	queueDepth          *prometheus.GaugeVec
	aiRetriesTotal      *prometheus.CounterVec
	mergeConflictsTotal *prometheus.CounterVec

	// Lifecycle
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewPipelineMetricsCollector creates a new pipeline metrics collector.
// depthSource may be nil; the queue depth gauge then stays empty.
func NewPipelineMetricsCollector(depthSource QueueDepthSource) *PipelineMetricsCollector {
	return &PipelineMetricsCollector{
		depthSource: depthSource,

		// Run lifecycle transitions
		runTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "run_transitions_total",
				Help:      "Total number of run lifecycle transitions by resulting status",
			},
			[]string{"status"},
		),

		// Stage attempt outcomes
		jobOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "job_outcomes_total",
				Help:      "Total number of stage attempt outcomes by stage and status",
			},
			[]string{"stage", "outcome"},
		),

		// Stage execution duration histogram
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stage_duration_seconds",
				Help:      "Stage attempt duration distribution",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"stage"},
		),

		// Queue backlog gauge, polled
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_depth",
				Help:      "Claimable and in-flight queue deliveries by stage",
			},
			[]string{"stage"},
		),

		// Retried model calls
		aiRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ai_retries_total",
				Help:      "Total number of retried AI model calls by reason",
			},
			[]string{"reason"},
		),

		// Corpus merge serialization conflicts
		mergeConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "merge_conflicts_total",
				Help:      "Total number of corpus merge serialization conflicts by tenant",
			},
			[]string{"tenant_id"},
		),
	}
}

// Register registers all metrics with the Prometheus registry
func (c *PipelineMetricsCollector) Register() error {
	if Registry == nil {
		return nil // Metrics not enabled
	}

	metrics := []prometheus.Collector{
		c.runTransitionsTotal,
		c.jobOutcomesTotal,
		c.stageDuration,
		c.queueDepth,
		c.aiRetriesTotal,
		c.mergeConflictsTotal,
	}

	for _, metric := range metrics {
		if err := Registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// Start begins the queue depth poller
func (c *PipelineMetricsCollector) Start(ctx context.Context) {
	c.ctx, c.cancelFunc = context.WithCancel(ctx)

	if c.depthSource != nil {
		c.wg.Add(1)
		go c.collectQueueMetrics(queuePollInterval)
	}
}

// Stop gracefully stops the poller
func (c *PipelineMetricsCollector) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
}

// collectQueueMetrics polls the queue store and updates the depth gauge
func (c *PipelineMetricsCollector) collectQueueMetrics(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.updateQueueMetrics()
		}
	}
}

// updateQueueMetrics reads the current backlog and updates the gauge
func (c *PipelineMetricsCollector) updateQueueMetrics() {
	depths, err := c.depthSource.Depths(c.ctx)
	if err != nil {
		log.Printf("Failed to poll queue depths for metrics: %v", err)
		return
	}

	// Reset so drained stages drop back to zero
	c.queueDepth.Reset()
	for stage, depth := range depths {
		c.queueDepth.WithLabelValues(string(stage)).Set(float64(depth))
	}
}

// RecordRunTransition records a run entering a lifecycle status
func (c *PipelineMetricsCollector) RecordRunTransition(status string) {
	c.runTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordJobOutcome records a stage attempt outcome
func (c *PipelineMetricsCollector) RecordJobOutcome(stage, outcome string) {
	c.jobOutcomesTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveStageDuration records how long a stage attempt ran
func (c *PipelineMetricsCollector) ObserveStageDuration(stage string, seconds float64) {
	c.stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordAIRetry records one retried model call
func (c *PipelineMetricsCollector) RecordAIRetry(reason string) {
	c.aiRetriesTotal.WithLabelValues(reason).Inc()
}

// RecordMergeConflict records one corpus merge serialization conflict
func (c *PipelineMetricsCollector) RecordMergeConflict(tenantID string) {
	c.mergeConflictsTotal.WithLabelValues(tenantID).Inc()
}

var _ PipelineMetricsRecorder = (*PipelineMetricsCollector)(nil)
