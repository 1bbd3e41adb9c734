package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
)

const (
	// MaxDeliveryAttempts caps how often one message is handed out
	MaxDeliveryAttempts = 3

	// InitialRetryBackoff delays the first redelivery
	InitialRetryBackoff = 5 * time.Second

	// MaxRetryBackoff caps the exponential redelivery delay
	MaxRetryBackoff = 5 * time.Minute

	// DefaultLeaseDuration is the visibility timeout for ordinary stages
	DefaultLeaseDuration = 10 * time.Minute

	// CompletedRetentionPerStage is how many acked messages each stage
	// keeps around for audit before trimming
	CompletedRetentionPerStage = 1000
)

// Message is one unit of stage work. Messages with the same partition
// key are delivered strictly in order; partitions are independent.
type Message struct {
	Stage    pipeline.Stage
	TenantID string
	RunID    string
	Payload  json.RawMessage
}

// PartitionKey selects the FIFO lane: the tenant when known, else the
// run, so one tenant's stream stays ordered while tenants run in
// parallel.
func (m Message) PartitionKey() string {
	if m.TenantID != "" {
		return m.TenantID
	}
	return m.RunID
}

// Handle identifies one delivery of one message. Every queue operation
// after lease requires it; a stale lease token makes the operation fail
// instead of acting on a redelivered copy.
type Handle struct {
	MessageID  string
	LeaseToken string
}

// Delivery is a leased message together with its delivery bookkeeping
type Delivery struct {
	Handle     Handle
	Message    Message
	Attempt    int
	EnqueuedAt time.Time
}

// Exhausted reports whether this delivery was claimed past the attempt
// budget. That happens when the final attempt's lease expired without a
// disposition, usually a worker crash mid-attempt. The queue hands the
// message out one last time so the consumer can settle the owning work
// as failed; the consumer must not run it again.
func (d *Delivery) Exhausted() bool {
	return d.Attempt > MaxDeliveryAttempts
}

// Disposition tells the queue what to do with a nacked delivery
type Disposition int

const (
	// DispositionRetry - redeliver after the backoff for this attempt
	DispositionRetry Disposition = iota

	// DispositionFail - mark the message terminally failed
	DispositionFail
)

// Queue is a durable FIFO per stage with at-least-once delivery.
// Consumer groups with the same ID share a stage's messages; distinct
// IDs each receive an independent copy of the stream.
type Queue interface {
	// Enqueue appends a message to its stage and returns the message ID
	Enqueue(ctx context.Context, msg Message) (string, error)

	// Lease blocks until a message is available for the group, then
	// makes it invisible to other consumers for the given duration.
	// A message whose final attempt's lease expired without a
	// disposition is handed out once more as an exhausted delivery
	// for the consumer to settle.
	Lease(ctx context.Context, stage pipeline.Stage, consumerGroup string, leaseDuration time.Duration) (*Delivery, error)

	// Extend renews the visibility timeout of a held lease
	Extend(ctx context.Context, handle Handle, duration time.Duration) error

	// Ack finalizes a delivery as succeeded
	Ack(ctx context.Context, handle Handle) error

	// Nack either schedules a redelivery or fails the message for good
	Nack(ctx context.Context, handle Handle, disposition Disposition) error

	// Release hands a leased message back unprocessed. The delivery does
	// not count as an attempt; the message becomes claimable again after
	// delay. Used when a worker leases work it must not run yet, such as
	// a stage message for a paused run.
	Release(ctx context.Context, handle Handle, delay time.Duration) error
}

// RetryBackoff returns the redelivery delay after the given attempt:
// exponential from the initial backoff, capped.
func RetryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := InitialRetryBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= MaxRetryBackoff {
			return MaxRetryBackoff
		}
	}
	return backoff
}
