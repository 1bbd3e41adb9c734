package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/queue"
	"github.com/qbanklabs/qbank-go/internal/domain/shared"
)

// Delivery row states. A LEASED row whose visible_at has passed is an
// expired lease and can be claimed again; the attempt counter is what
// separates redelivery from a poison pill.
const (
	deliveryStatusPending   = "PENDING"
	deliveryStatusLeased    = "LEASED"
	deliveryStatusCompleted = "COMPLETED"
	deliveryStatusFailed    = "FAILED"
)

// defaultLeasePollInterval paces the blocking Lease loop
const defaultLeasePollInterval = 500 * time.Millisecond

// GormQueue implements queue.Queue on two tables: an append-only
// message log and per-(message, consumer group) delivery rows whose
// visible_at column is the visibility timeout. Claims are optimistic
// conditional updates, so no cross-database locking syntax is needed
// and the store behaves the same on SQLite and PostgreSQL.
type GormQueue struct {
	db           *gorm.DB
	clock        shared.Clock
	pollInterval time.Duration
}

// NewGormQueue creates a database-backed queue.
// If clock is nil, uses RealClock (production behavior).
func NewGormQueue(db *gorm.DB, clock shared.Clock) *GormQueue {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &GormQueue{
		db:           db,
		clock:        clock,
		pollInterval: defaultLeasePollInterval,
	}
}

// Enqueue appends a message to its stage and returns the message ID
func (q *GormQueue) Enqueue(ctx context.Context, msg queue.Message) (string, error) {
	if msg.Stage == "" {
		return "", errors.New("stage is required")
	}
	if msg.PartitionKey() == "" {
		return "", errors.New("message needs a tenant or run for partitioning")
	}

	payload := "{}"
	if len(msg.Payload) > 0 {
		payload = string(msg.Payload)
	}

	model := &QueueMessageModel{
		MessageID:    uuid.New().String(),
		Stage:        string(msg.Stage),
		PartitionKey: msg.PartitionKey(),
		TenantID:     msg.TenantID,
		RunID:        msg.RunID,
		Payload:      payload,
		EnqueuedAt:   q.clock.Now(),
	}

	if err := q.db.WithContext(ctx).Create(model).Error; err != nil {
		return "", fmt.Errorf("failed to enqueue message: %w", err)
	}

	return model.MessageID, nil
}

// Lease blocks until a message is available for the consumer group,
// claiming it for leaseDuration. Within one partition only the oldest
// unfinished message is ever handed out, which is what makes the queue
// FIFO per partition.
func (q *GormQueue) Lease(ctx context.Context, stage pipeline.Stage, consumerGroup string, leaseDuration time.Duration) (*queue.Delivery, error) {
	if consumerGroup == "" {
		return nil, errors.New("consumer group is required")
	}
	if leaseDuration <= 0 {
		leaseDuration = queue.DefaultLeaseDuration
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := q.ensureDeliveries(ctx, stage, consumerGroup); err != nil {
			return nil, err
		}

		delivery, err := q.tryClaim(ctx, stage, consumerGroup, leaseDuration)
		if err != nil {
			return nil, err
		}
		if delivery != nil {
			return delivery, nil
		}

		q.clock.Sleep(q.pollInterval)
	}
}

// ensureDeliveries creates the consumer group's bookkeeping rows for
// messages it has never seen. Groups are lazy: the first lease against
// a stage materializes the group's copy of that stage's backlog.
func (q *GormQueue) ensureDeliveries(ctx context.Context, stage pipeline.Stage, consumerGroup string) error {
	type pendingMessage struct {
		ID         int64     `gorm:"column:id"`
		EnqueuedAt time.Time `gorm:"column:enqueued_at"`
	}

	var missing []pendingMessage
	err := q.db.WithContext(ctx).Raw(`
		SELECT m.id, m.enqueued_at
		FROM queue_messages m
		WHERE m.stage = ?
		  AND NOT EXISTS (
			SELECT 1 FROM queue_deliveries d
			WHERE d.message_ref = m.id AND d.consumer_group = ?
		  )
		ORDER BY m.id ASC`, string(stage), consumerGroup).Scan(&missing).Error
	if err != nil {
		return fmt.Errorf("failed to scan undelivered messages: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}

	rows := make([]QueueDeliveryModel, len(missing))
	for i, m := range missing {
		rows[i] = QueueDeliveryModel{
			MessageRef:    m.ID,
			ConsumerGroup: consumerGroup,
			Status:        deliveryStatusPending,
			Attempts:      0,
			VisibleAt:     m.EnqueuedAt,
		}
	}

	// A concurrent worker of the same group may have inserted first
	result := q.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if result.Error != nil {
		return fmt.Errorf("failed to create delivery rows: %w", result.Error)
	}
	return nil
}

// tryClaim picks the oldest claimable partition head and races for it
// with a conditional update. Returns nil, nil when nothing is claimable
// or another worker won the race. An expired lease on the final attempt
// is still claimable: the claim pushes attempts past the budget and the
// consumer settles the delivery instead of running it, so the failure
// lands on the owning work rather than being swallowed here.
func (q *GormQueue) tryClaim(ctx context.Context, stage pipeline.Stage, consumerGroup string, leaseDuration time.Duration) (*queue.Delivery, error) {
	now := q.clock.Now()

	type candidateRow struct {
		DeliveryID int64 `gorm:"column:delivery_id"`
		MessageRef int64 `gorm:"column:message_ref"`
	}

	var candidate candidateRow
	err := q.db.WithContext(ctx).Raw(`
		SELECT d.id AS delivery_id, d.message_ref AS message_ref
		FROM queue_deliveries d
		JOIN queue_messages m ON m.id = d.message_ref
		WHERE m.stage = ?
		  AND d.consumer_group = ?
		  AND d.status IN (?, ?)
		  AND d.visible_at <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM queue_deliveries d2
			JOIN queue_messages m2 ON m2.id = d2.message_ref
			WHERE d2.consumer_group = d.consumer_group
			  AND m2.stage = m.stage
			  AND m2.partition_key = m.partition_key
			  AND d2.status IN (?, ?)
			  AND m2.id < m.id
		  )
		ORDER BY m.id ASC
		LIMIT 1`,
		string(stage), consumerGroup,
		deliveryStatusPending, deliveryStatusLeased,
		now,
		deliveryStatusPending, deliveryStatusLeased,
	).Scan(&candidate).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select claim candidate: %w", err)
	}
	if candidate.DeliveryID == 0 {
		return nil, nil
	}

	token := uuid.New().String()
	result := q.db.WithContext(ctx).Model(&QueueDeliveryModel{}).
		Where("id = ? AND status IN (?, ?) AND visible_at <= ?",
			candidate.DeliveryID, deliveryStatusPending, deliveryStatusLeased, now).
		Updates(map[string]interface{}{
			"status":      deliveryStatusLeased,
			"attempts":    gorm.Expr("attempts + 1"),
			"visible_at":  now.Add(leaseDuration),
			"lease_token": token,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to claim delivery: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost the race; the caller's loop will look again
		return nil, nil
	}

	var deliveryRow QueueDeliveryModel
	if err := q.db.WithContext(ctx).First(&deliveryRow, candidate.DeliveryID).Error; err != nil {
		return nil, fmt.Errorf("failed to load claimed delivery: %w", err)
	}
	var messageRow QueueMessageModel
	if err := q.db.WithContext(ctx).First(&messageRow, candidate.MessageRef).Error; err != nil {
		return nil, fmt.Errorf("failed to load claimed message: %w", err)
	}

	return &queue.Delivery{
		Handle: queue.Handle{
			MessageID:  messageRow.MessageID,
			LeaseToken: token,
		},
		Message: queue.Message{
			Stage:    pipeline.Stage(messageRow.Stage),
			TenantID: messageRow.TenantID,
			RunID:    messageRow.RunID,
			Payload:  []byte(messageRow.Payload),
		},
		Attempt:    deliveryRow.Attempts,
		EnqueuedAt: messageRow.EnqueuedAt,
	}, nil
}

// Extend renews the visibility timeout of a held lease
func (q *GormQueue) Extend(ctx context.Context, handle queue.Handle, duration time.Duration) error {
	message, err := q.findMessage(ctx, handle.MessageID)
	if err != nil {
		return err
	}

	result := q.db.WithContext(ctx).Model(&QueueDeliveryModel{}).
		Where("message_ref = ? AND lease_token = ? AND status = ?",
			message.ID, handle.LeaseToken, deliveryStatusLeased).
		Update("visible_at", q.clock.Now().Add(duration))
	if result.Error != nil {
		return fmt.Errorf("failed to extend lease: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &queue.ErrLeaseLost{MessageID: handle.MessageID}
	}
	return nil
}

// Ack finalizes a delivery as succeeded and trims old completed rows
func (q *GormQueue) Ack(ctx context.Context, handle queue.Handle) error {
	message, err := q.findMessage(ctx, handle.MessageID)
	if err != nil {
		return err
	}

	now := q.clock.Now()
	result := q.db.WithContext(ctx).Model(&QueueDeliveryModel{}).
		Where("message_ref = ? AND lease_token = ? AND status = ?",
			message.ID, handle.LeaseToken, deliveryStatusLeased).
		Updates(map[string]interface{}{
			"status":       deliveryStatusCompleted,
			"completed_at": now,
			"lease_token":  nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to ack delivery: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &queue.ErrLeaseLost{MessageID: handle.MessageID}
	}

	return q.trimCompleted(ctx, pipeline.Stage(message.Stage))
}

// Nack either schedules a redelivery after backoff or fails the message
func (q *GormQueue) Nack(ctx context.Context, handle queue.Handle, disposition queue.Disposition) error {
	message, err := q.findMessage(ctx, handle.MessageID)
	if err != nil {
		return err
	}

	var deliveryRow QueueDeliveryModel
	findErr := q.db.WithContext(ctx).
		Where("message_ref = ? AND lease_token = ? AND status = ?",
			message.ID, handle.LeaseToken, deliveryStatusLeased).
		First(&deliveryRow).Error
	if findErr != nil {
		if findErr == gorm.ErrRecordNotFound {
			return &queue.ErrLeaseLost{MessageID: handle.MessageID}
		}
		return fmt.Errorf("failed to load delivery for nack: %w", findErr)
	}

	now := q.clock.Now()
	updates := map[string]interface{}{
		"lease_token": nil,
	}
	if disposition == queue.DispositionFail || deliveryRow.Attempts >= queue.MaxDeliveryAttempts {
		updates["status"] = deliveryStatusFailed
		updates["completed_at"] = now
	} else {
		updates["status"] = deliveryStatusPending
		updates["visible_at"] = now.Add(queue.RetryBackoff(deliveryRow.Attempts))
	}

	result := q.db.WithContext(ctx).Model(&QueueDeliveryModel{}).
		Where("id = ? AND lease_token = ? AND status = ?",
			deliveryRow.ID, handle.LeaseToken, deliveryStatusLeased).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to nack delivery: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &queue.ErrLeaseLost{MessageID: handle.MessageID}
	}
	return nil
}

// Release returns a leased message to the queue without consuming an
// attempt. The claim's increment is undone so parked work (a paused
// run) cannot drift toward terminal failure.
func (q *GormQueue) Release(ctx context.Context, handle queue.Handle, delay time.Duration) error {
	message, err := q.findMessage(ctx, handle.MessageID)
	if err != nil {
		return err
	}

	result := q.db.WithContext(ctx).Model(&QueueDeliveryModel{}).
		Where("message_ref = ? AND lease_token = ? AND status = ?",
			message.ID, handle.LeaseToken, deliveryStatusLeased).
		Updates(map[string]interface{}{
			"status":      deliveryStatusPending,
			"attempts":    gorm.Expr("attempts - 1"),
			"visible_at":  q.clock.Now().Add(delay),
			"lease_token": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to release delivery: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &queue.ErrLeaseLost{MessageID: handle.MessageID}
	}
	return nil
}

// ReleaseAbandonedLeases returns every leased delivery to pending,
// undoing the attempt each claim counted. Only valid while no worker
// loops run: the daemon calls it once at startup, when any lease still
// in the store belongs to a dead process.
func (q *GormQueue) ReleaseAbandonedLeases(ctx context.Context) (int64, error) {
	result := q.db.WithContext(ctx).Model(&QueueDeliveryModel{}).
		Where("status = ?", deliveryStatusLeased).
		Updates(map[string]interface{}{
			"status":      deliveryStatusPending,
			"attempts":    gorm.Expr("attempts - 1"),
			"visible_at":  q.clock.Now(),
			"lease_token": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to release abandoned leases: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Depths counts claimable and in-flight deliveries per stage, the
// backlog gauge the metrics poller exports.
func (q *GormQueue) Depths(ctx context.Context) (map[pipeline.Stage]int64, error) {
	type row struct {
		Stage string
		Count int64
	}
	var rows []row
	err := q.db.WithContext(ctx).Raw(`
		SELECT m.stage AS stage, COUNT(*) AS count
		FROM queue_deliveries d
		JOIN queue_messages m ON m.id = d.message_ref
		WHERE d.status IN (?, ?)
		GROUP BY m.stage`,
		deliveryStatusPending, deliveryStatusLeased,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count queue depths: %w", err)
	}

	depths := make(map[pipeline.Stage]int64, len(rows))
	for _, r := range rows {
		depths[pipeline.Stage(r.Stage)] = r.Count
	}
	return depths, nil
}

func (q *GormQueue) findMessage(ctx context.Context, messageID string) (*QueueMessageModel, error) {
	var model QueueMessageModel
	result := q.db.WithContext(ctx).Where("message_id = ?", messageID).First(&model)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, &queue.ErrMessageNotFound{MessageID: messageID}
		}
		return nil, fmt.Errorf("failed to find message: %w", result.Error)
	}
	return &model, nil
}

// trimCompleted keeps the newest completed deliveries per stage and
// drops the rest. Message rows stay for audit; only the bookkeeping of
// long-finished deliveries is reclaimed.
func (q *GormQueue) trimCompleted(ctx context.Context, stage pipeline.Stage) error {
	messageIDs := q.db.Model(&QueueMessageModel{}).Select("id").Where("stage = ?", string(stage))

	var count int64
	err := q.db.WithContext(ctx).Model(&QueueDeliveryModel{}).
		Where("status = ? AND message_ref IN (?)", deliveryStatusCompleted, messageIDs).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to count completed deliveries: %w", err)
	}
	if count <= queue.CompletedRetentionPerStage {
		return nil
	}

	var staleIDs []int64
	err = q.db.WithContext(ctx).Raw(`
		SELECT d.id
		FROM queue_deliveries d
		JOIN queue_messages m ON m.id = d.message_ref
		WHERE m.stage = ? AND d.status = ?
		ORDER BY d.completed_at ASC
		LIMIT ?`,
		string(stage), deliveryStatusCompleted, count-queue.CompletedRetentionPerStage,
	).Scan(&staleIDs).Error
	if err != nil {
		return fmt.Errorf("failed to select stale deliveries: %w", err)
	}
	if len(staleIDs) == 0 {
		return nil
	}

	if err := q.db.WithContext(ctx).Where("id IN ?", staleIDs).Delete(&QueueDeliveryModel{}).Error; err != nil {
		return fmt.Errorf("failed to trim completed deliveries: %w", err)
	}
	return nil
}
