package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/queue"
)

func TestRetryBackoff_DoublesFromInitial(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 80 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, queue.RetryBackoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryBackoff_ClampsAndCaps(t *testing.T) {
	// Attempts below 1 behave like the first attempt
	assert.Equal(t, queue.InitialRetryBackoff, queue.RetryBackoff(0))
	assert.Equal(t, queue.InitialRetryBackoff, queue.RetryBackoff(-3))

	// The exponential curve never exceeds the cap
	assert.Equal(t, queue.MaxRetryBackoff, queue.RetryBackoff(12))
	assert.Equal(t, queue.MaxRetryBackoff, queue.RetryBackoff(64))
}

func TestMessage_PartitionKeyPrefersTenant(t *testing.T) {
	// Tenant-scoped messages share one FIFO lane per tenant
	msg := queue.Message{Stage: pipeline.StageParse, TenantID: "tenant-1", RunID: "run-1"}
	assert.Equal(t, "tenant-1", msg.PartitionKey())

	// Without a tenant the run keeps its own order
	msg = queue.Message{Stage: pipeline.StageParse, RunID: "run-1"}
	assert.Equal(t, "run-1", msg.PartitionKey())
}

func TestErrLeaseLost_NamesTheMessage(t *testing.T) {
	err := &queue.ErrLeaseLost{MessageID: "msg-42"}
	assert.Contains(t, err.Error(), "msg-42")

	notFound := &queue.ErrMessageNotFound{MessageID: "msg-404"}
	assert.Contains(t, notFound.Error(), "msg-404")
}
