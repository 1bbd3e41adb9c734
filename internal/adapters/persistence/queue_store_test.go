package persistence_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbanklabs/qbank-go/internal/adapters/persistence"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/queue"
	"github.com/qbanklabs/qbank-go/internal/domain/shared"
	"github.com/qbanklabs/qbank-go/test/helpers"
)

const testConsumerGroup = "workers"

func newQueueForTest(t *testing.T) (*persistence.GormQueue, *shared.MockClock) {
	db := helpers.NewTestDB(t)
	clock := shared.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return persistence.NewGormQueue(db, clock), clock
}

func enqueue(t *testing.T, q *persistence.GormQueue, stage pipeline.Stage, tenantID, runID string) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), queue.Message{
		Stage:    stage,
		TenantID: tenantID,
		RunID:    runID,
		Payload:  []byte(fmt.Sprintf(`{"run_id":%q}`, runID)),
	})
	require.NoError(t, err)
	return id
}

func TestGormQueue_EnqueueValidation(t *testing.T) {
	// Arrange
	q, _ := newQueueForTest(t)
	ctx := context.Background()

	// Act & Assert
	_, err := q.Enqueue(ctx, queue.Message{TenantID: "tenant-a"})
	assert.Error(t, err)

	_, err = q.Enqueue(ctx, queue.Message{Stage: pipeline.StageExtract})
	assert.Error(t, err)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = q.Lease(canceled, pipeline.StageExtract, testConsumerGroup, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGormQueue_EnqueueDefaultsEmptyPayload(t *testing.T) {
	// Arrange
	q, _ := newQueueForTest(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, queue.Message{Stage: pipeline.StageExtract, RunID: "run-1"})
	require.NoError(t, err)

	// Act
	delivery, err := q.Lease(ctx, pipeline.StageExtract, testConsumerGroup, time.Minute)

	// Assert
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(delivery.Message.Payload))
	assert.Equal(t, "run-1", delivery.Message.RunID)
}

func TestGormQueue_FIFOWithinPartition(t *testing.T) {
	// Arrange
	q, _ := newQueueForTest(t)
	ctx := context.Background()
	first := enqueue(t, q, pipeline.StageExtract, "tenant-a", "run-1")
	second := enqueue(t, q, pipeline.StageExtract, "tenant-a", "run-2")
	third := enqueue(t, q, pipeline.StageExtract, "tenant-a", "run-3")

	// Act & Assert: drained strictly in enqueue order
	for _, want := range []string{first, second, third} {
		delivery, err := q.Lease(ctx, pipeline.StageExtract, testConsumerGroup, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, delivery.Handle.MessageID)
		assert.Equal(t, 1, delivery.Attempt)
		require.NoError(t, q.Ack(ctx, delivery.Handle))
	}
}

func TestGormQueue_LeasedHeadBlocksItsPartition(t *testing.T) {
	// Arrange
	q, _ := newQueueForTest(t)
	ctx := context.Background()
	headA := enqueue(t, q, pipeline.StageExtract, "tenant-a", "run-1")
	nextA := enqueue(t, q, pipeline.StageExtract, "tenant-a", "run-2")
	headB := enqueue(t, q, pipeline.StageExtract, "tenant-b", "run-3")

	// Act
	firstDelivery, err := q.Lease(ctx, pipeline.StageExtract, testConsumerGroup, time.Minute)
	require.NoError(t, err)
	secondDelivery, err := q.Lease(ctx, pipeline.StageExtract, testConsumerGroup, time.Minute)
	require.NoError(t, err)

	// Assert: tenant-a's second message stays behind its leased head,
	// so the other partition's head is handed out instead
	assert.Equal(t, headA, firstDelivery.Handle.MessageID)
	assert.Equal(t, headB, secondDelivery.Handle.MessageID)

	require.NoError(t, q.Ack(ctx, firstDelivery.Handle))
	thirdDelivery, err := q.Lease(ctx, pipeline.StageExtract, testConsumerGroup, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, nextA, thirdDelivery.Handle.MessageID)
}

func TestGormQueue_ExpiredLeaseRedeliversSameMessage(t *testing.T) {
	// Arrange
	q, clock := newQueueForTest(t)
	ctx := context.Background()
	messageID := enqueue(t, q, pipeline.StageParse, "tenant-a", "run-1")

	firstDelivery, err := q.Lease(ctx, pipeline.StageParse, testConsumerGroup, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, firstDelivery.Attempt)

	// Act: the worker goes silent past its visibility timeout
	clock.Advance(time.Minute + time.Second)
	secondDelivery, err := q.Lease(ctx, pipeline.StageParse, testConsumerGroup, time.Minute)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, messageID, secondDelivery.Handle.MessageID)
	assert.Equal(t, 2, secondDelivery.Attempt)
	assert.NotEqual(t, firstDelivery.Handle.LeaseToken, secondDelivery.Handle.LeaseToken)

	// The superseded lease can no longer finish the message
	var lost *queue.ErrLeaseLost
	err = q.Ack(ctx, firstDelivery.Handle)
	require.ErrorAs(t, err, &lost)
	assert.Equal(t, messageID, lost.MessageID)
}

func TestGormQueue_NackSchedulesRetryAfterBackoff(t *testing.T) {
	// Arrange
	q, clock := newQueueForTest(t)
	ctx := context.Background()
	messageID := enqueue(t, q, pipeline.StageParse, "tenant-a", "run-1")

	delivery, err := q.Lease(ctx, pipeline.StageParse, testConsumerGroup, time.Minute)
	require.NoError(t, err)

	// Act
	require.NoError(t, q.Nack(ctx, delivery.Handle, queue.DispositionRetry))
	nackedAt := clock.Now()
	redelivery, err := q.Lease(ctx, pipeline.StageParse, testConsumerGroup, time.Minute)

	// Assert: the lease loop had to wait out the first backoff
	require.NoError(t, err)
	assert.Equal(t, messageID, redelivery.Handle.MessageID)
	assert.Equal(t, 2, redelivery.Attempt)
	assert.GreaterOrEqual(t, clock.Now().Sub(nackedAt), queue.InitialRetryBackoff)
}

func TestGormQueue_NackFailUnblocksPartition(t *testing.T) {
	// Arrange
	q, _ := newQueueForTest(t)
	ctx := context.Background()
	enqueue(t, q, pipeline.StageParse, "tenant-a", "run-1")
	survivor := enqueue(t, q, pipeline.StageParse, "tenant-a", "run-2")

	delivery, err := q.Lease(ctx, pipeline.StageParse, testConsumerGroup, time.Minute)
	require.NoError(t, err)

	// Act: a non-retryable failure ends the message on its first attempt
	require.NoError(t, q.Nack(ctx, delivery.Handle, queue.DispositionFail))
	next, err := q.Lease(ctx, pipeline.StageParse, testConsumerGroup, time.Minute)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, survivor, next.Handle.MessageID)
	assert.Equal(t, 1, next.Attempt)
}

func TestGormQueue_RetriesExhaustMaxAttempts(t *testing.T) {
	// Arrange
	q, _ := newQueueForTest(t)
	ctx := context.Background()
	poison := enqueue(t, q, pipeline.StageParse, "tenant-a", "run-1")
	survivor := enqueue(t, q, pipeline.StageParse, "tenant-a", "run-2")

	// Act: every attempt is nacked for retry; the last one fails for good
	for attempt := 1; attempt <= queue.MaxDeliveryAttempts; attempt++ {
		delivery, err := q.Lease(ctx, pipeline.StageParse, testConsumerGroup, time.Minute)
		require.NoError(t, err)
		require.Equal(t, poison, delivery.Handle.MessageID)
		require.Equal(t, attempt, delivery.Attempt)
		require.NoError(t, q.Nack(ctx, delivery.Handle, queue.DispositionRetry))
	}

	// Assert: the partition moves on past the poison message
	next, err := q.Lease(ctx, pipeline.StageParse, testConsumerGroup, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, survivor, next.Handle.MessageID)
}

func TestGormQueue_CrashedFinalAttemptIsRedeliveredExhausted(t *testing.T) {
	// Arrange
	q, clock := newQueueForTest(t)
	ctx := context.Background()
	poison := enqueue(t, q, pipeline.StageParse, "tenant-a", "run-1")
	survivor := enqueue(t, q, pipeline.StageParse, "tenant-a", "run-2")

	// Burn all attempts through silent lease expiry, never nacking
	for attempt := 1; attempt <= queue.MaxDeliveryAttempts; attempt++ {
		delivery, err := q.Lease(ctx, pipeline.StageParse, testConsumerGroup, time.Minute)
		require.NoError(t, err)
		require.Equal(t, poison, delivery.Handle.MessageID)
		require.Equal(t, attempt, delivery.Attempt)
		require.False(t, delivery.Exhausted())
		clock.Advance(time.Minute + time.Second)
	}

	// Act: the message comes back once more for the consumer to settle
	last, err := q.Lease(ctx, pipeline.StageParse, testConsumerGroup, time.Minute)

	// Assert: flagged exhausted, not silently failed
	require.NoError(t, err)
	assert.Equal(t, poison, last.Handle.MessageID)
	assert.Equal(t, queue.MaxDeliveryAttempts+1, last.Attempt)
	assert.True(t, last.Exhausted())

	// Settling it terminally unblocks the partition
	require.NoError(t, q.Nack(ctx, last.Handle, queue.DispositionFail))
	next, err := q.Lease(ctx, pipeline.StageParse, testConsumerGroup, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, survivor, next.Handle.MessageID)
	assert.Equal(t, 1, next.Attempt)
}

func TestGormQueue_ReleaseDoesNotConsumeAnAttempt(t *testing.T) {
	// Arrange
	q, clock := newQueueForTest(t)
	ctx := context.Background()
	messageID := enqueue(t, q, pipeline.StageExtract, "tenant-a", "run-1")

	delivery, err := q.Lease(ctx, pipeline.StageExtract, testConsumerGroup, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, delivery.Attempt)

	// Act: hand the message back unprocessed, claimable again in 30s
	require.NoError(t, q.Release(ctx, delivery.Handle, 30*time.Second))
	releasedAt := clock.Now()
	redelivery, err := q.Lease(ctx, pipeline.StageExtract, testConsumerGroup, time.Minute)

	// Assert: still the first attempt, and the delay was honored
	require.NoError(t, err)
	assert.Equal(t, messageID, redelivery.Handle.MessageID)
	assert.Equal(t, 1, redelivery.Attempt)
	assert.GreaterOrEqual(t, clock.Now().Sub(releasedAt), 30*time.Second)

	var lost *queue.ErrLeaseLost
	err = q.Release(ctx, delivery.Handle, 0)
	assert.ErrorAs(t, err, &lost)
}

func TestGormQueue_ReleaseAbandonedLeases(t *testing.T) {
	// Arrange
	q, _ := newQueueForTest(t)
	ctx := context.Background()
	enqueue(t, q, pipeline.StageExtract, "tenant-a", "run-1")
	enqueue(t, q, pipeline.StageExtract, "tenant-b", "run-2")

	_, err := q.Lease(ctx, pipeline.StageExtract, testConsumerGroup, time.Minute)
	require.NoError(t, err)
	_, err = q.Lease(ctx, pipeline.StageExtract, testConsumerGroup, time.Minute)
	require.NoError(t, err)

	// Act: startup recovery returns every in-flight delivery to pending
	released, err := q.ReleaseAbandonedLeases(ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(2), released)

	// The interrupted deliveries did not count as attempts
	for i := 0; i < 2; i++ {
		delivery, err := q.Lease(ctx, pipeline.StageExtract, testConsumerGroup, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, delivery.Attempt)
	}

	released, err = q.ReleaseAbandonedLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), released)
}

func TestGormQueue_ExtendPushesVisibilityOut(t *testing.T) {
	// Arrange
	q, clock := newQueueForTest(t)
	ctx := context.Background()
	messageID := enqueue(t, q, pipeline.StageParse, "tenant-a", "run-1")

	delivery, err := q.Lease(ctx, pipeline.StageParse, testConsumerGroup, 10*time.Second)
	require.NoError(t, err)

	// Act
	require.NoError(t, q.Extend(ctx, delivery.Handle, time.Minute))
	extendedAt := clock.Now()

	// Assert: redelivery waits for the extended timeout, not the original
	redelivery, err := q.Lease(ctx, pipeline.StageParse, testConsumerGroup, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, messageID, redelivery.Handle.MessageID)
	assert.Equal(t, 2, redelivery.Attempt)
	assert.GreaterOrEqual(t, clock.Now().Sub(extendedAt), time.Minute)
}

func TestGormQueue_StaleHandlesAreRejected(t *testing.T) {
	// Arrange
	q, _ := newQueueForTest(t)
	ctx := context.Background()
	enqueue(t, q, pipeline.StageExtract, "tenant-a", "run-1")

	delivery, err := q.Lease(ctx, pipeline.StageExtract, testConsumerGroup, time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, delivery.Handle))

	var lost *queue.ErrLeaseLost
	var missing *queue.ErrMessageNotFound

	// Act & Assert
	assert.ErrorAs(t, q.Ack(ctx, delivery.Handle), &lost)
	assert.ErrorAs(t, q.Nack(ctx, delivery.Handle, queue.DispositionRetry), &lost)
	assert.ErrorAs(t, q.Extend(ctx, delivery.Handle, time.Minute), &lost)

	badToken := queue.Handle{MessageID: delivery.Handle.MessageID, LeaseToken: "forged"}
	assert.ErrorAs(t, q.Extend(ctx, badToken, time.Minute), &lost)

	unknown := queue.Handle{MessageID: "no-such-message", LeaseToken: "whatever"}
	assert.ErrorAs(t, q.Ack(ctx, unknown), &missing)
}

func TestGormQueue_ConsumerGroupsGetIndependentCopies(t *testing.T) {
	// Arrange
	q, _ := newQueueForTest(t)
	ctx := context.Background()
	messageID := enqueue(t, q, pipeline.StageExtract, "tenant-a", "run-1")

	// Act
	workerCopy, err := q.Lease(ctx, pipeline.StageExtract, "workers", time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, workerCopy.Handle))

	auditCopy, err := q.Lease(ctx, pipeline.StageExtract, "auditors", time.Minute)

	// Assert: the second group still sees the message the first finished
	require.NoError(t, err)
	assert.Equal(t, messageID, auditCopy.Handle.MessageID)
	assert.Equal(t, 1, auditCopy.Attempt)
	require.NoError(t, q.Ack(ctx, auditCopy.Handle))
}

func TestGormQueue_DepthsCountBacklogPerStage(t *testing.T) {
	// Arrange
	q, _ := newQueueForTest(t)
	ctx := context.Background()
	enqueue(t, q, pipeline.StageExtract, "tenant-a", "run-1")
	enqueue(t, q, pipeline.StageExtract, "tenant-b", "run-2")
	enqueue(t, q, pipeline.StageParse, "tenant-c", "run-3")

	extractDelivery, err := q.Lease(ctx, pipeline.StageExtract, testConsumerGroup, time.Minute)
	require.NoError(t, err)
	parseDelivery, err := q.Lease(ctx, pipeline.StageParse, testConsumerGroup, time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Release(ctx, parseDelivery.Handle, 0))

	// Act
	depths, err := q.Depths(ctx)

	// Assert: leased and pending both count as backlog
	require.NoError(t, err)
	assert.Equal(t, int64(2), depths[pipeline.StageExtract])
	assert.Equal(t, int64(1), depths[pipeline.StageParse])

	require.NoError(t, q.Ack(ctx, extractDelivery.Handle))
	depths, err = q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths[pipeline.StageExtract])
}
