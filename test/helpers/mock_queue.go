package helpers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/queue"
)

// ErrQueueEmpty is returned by MockQueue.Lease when no message is
// claimable. The durable store blocks and polls instead; the mock
// returns immediately so tests never hang.
var ErrQueueEmpty = errors.New("no message available")

const (
	deliveryPending   = "PENDING"
	deliveryLeased    = "LEASED"
	deliveryCompleted = "COMPLETED"
	deliveryFailed    = "FAILED"
)

type mockDelivery struct {
	message    queue.Message
	messageID  string
	enqueuedAt time.Time
	attempts   int
	status     string
	visibleAt  time.Time
	leaseToken string
}

// MockQueue is an in-memory queue.Queue for tests. It keeps the
// durable store's semantics (per-partition FIFO, lease tokens, attempt
// accounting, Release not counting an attempt) but holds everything in
// memory and never sleeps.
type MockQueue struct {
	mu      sync.Mutex
	byStage map[pipeline.Stage][]*mockDelivery
	now     func() time.Time
}

func NewMockQueue() *MockQueue {
	return &MockQueue{
		byStage: make(map[pipeline.Stage][]*mockDelivery),
		now:     time.Now,
	}
}

// SetNow overrides the clock, letting tests step past backoff windows.
func (q *MockQueue) SetNow(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *MockQueue) Enqueue(_ context.Context, msg queue.Message) (string, error) {
	if msg.Stage == "" {
		return "", errors.New("stage is required")
	}
	if msg.PartitionKey() == "" {
		return "", errors.New("message needs a tenant or run for partitioning")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	d := &mockDelivery{
		message:    msg,
		messageID:  uuid.New().String(),
		enqueuedAt: q.now(),
		status:     deliveryPending,
		visibleAt:  q.now(),
	}
	q.byStage[msg.Stage] = append(q.byStage[msg.Stage], d)
	return d.messageID, nil
}

// Lease claims the oldest claimable message on the stage, honoring the
// per-partition FIFO rule: a partition whose head is leased or backing
// off yields nothing until that head resolves.
func (q *MockQueue) Lease(ctx context.Context, stage pipeline.Stage, consumerGroup string, leaseDuration time.Duration) (*queue.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if consumerGroup == "" {
		return nil, errors.New("consumer group is required")
	}
	if leaseDuration <= 0 {
		leaseDuration = queue.DefaultLeaseDuration
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	blocked := make(map[string]bool)
	for _, d := range q.byStage[stage] {
		if d.status == deliveryCompleted || d.status == deliveryFailed {
			continue
		}
		key := d.message.PartitionKey()
		if blocked[key] {
			continue
		}
		if d.status == deliveryLeased && d.visibleAt.After(now) {
			blocked[key] = true
			continue
		}
		if d.visibleAt.After(now) {
			blocked[key] = true
			continue
		}

		// An expired lease on the final attempt is claimed once more as
		// an exhausted delivery for the consumer to settle.
		d.status = deliveryLeased
		d.attempts++
		d.visibleAt = now.Add(leaseDuration)
		d.leaseToken = uuid.New().String()
		return &queue.Delivery{
			Handle:     queue.Handle{MessageID: d.messageID, LeaseToken: d.leaseToken},
			Message:    d.message,
			Attempt:    d.attempts,
			EnqueuedAt: d.enqueuedAt,
		}, nil
	}
	return nil, ErrQueueEmpty
}

func (q *MockQueue) Extend(_ context.Context, handle queue.Handle, duration time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, err := q.held(handle)
	if err != nil {
		return err
	}
	d.visibleAt = q.now().Add(duration)
	return nil
}

func (q *MockQueue) Ack(_ context.Context, handle queue.Handle) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, err := q.held(handle)
	if err != nil {
		return err
	}
	d.status = deliveryCompleted
	d.leaseToken = ""
	return nil
}

func (q *MockQueue) Nack(_ context.Context, handle queue.Handle, disposition queue.Disposition) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, err := q.held(handle)
	if err != nil {
		return err
	}
	if disposition == queue.DispositionFail || d.attempts >= queue.MaxDeliveryAttempts {
		d.status = deliveryFailed
	} else {
		d.status = deliveryPending
		d.visibleAt = q.now().Add(queue.RetryBackoff(d.attempts))
	}
	d.leaseToken = ""
	return nil
}

func (q *MockQueue) Release(_ context.Context, handle queue.Handle, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, err := q.held(handle)
	if err != nil {
		return err
	}
	d.status = deliveryPending
	d.attempts--
	d.visibleAt = q.now().Add(delay)
	d.leaseToken = ""
	return nil
}

// held finds the delivery a handle refers to, verifying the lease token
// the way the durable store's conditional updates do.
func (q *MockQueue) held(handle queue.Handle) (*mockDelivery, error) {
	for _, deliveries := range q.byStage {
		for _, d := range deliveries {
			if d.messageID != handle.MessageID {
				continue
			}
			if d.status != deliveryLeased || d.leaseToken != handle.LeaseToken {
				return nil, &queue.ErrLeaseLost{MessageID: handle.MessageID}
			}
			return d, nil
		}
	}
	return nil, &queue.ErrMessageNotFound{MessageID: handle.MessageID}
}

// Messages returns the payload messages enqueued on a stage, in order.
func (q *MockQueue) Messages(stage pipeline.Stage) []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]queue.Message, 0, len(q.byStage[stage]))
	for _, d := range q.byStage[stage] {
		out = append(out, d.message)
	}
	return out
}

// PendingCount reports how many deliveries on a stage are still
// claimable or leased.
func (q *MockQueue) PendingCount(stage pipeline.Stage) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, d := range q.byStage[stage] {
		if d.status == deliveryPending || d.status == deliveryLeased {
			count++
		}
	}
	return count
}

// StatusOf reports the delivery status of a message by ID.
func (q *MockQueue) StatusOf(messageID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, deliveries := range q.byStage {
		for _, d := range deliveries {
			if d.messageID == messageID {
				return d.status, true
			}
		}
	}
	return "", false
}

var _ queue.Queue = (*MockQueue)(nil)
