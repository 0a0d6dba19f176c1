package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/utils"
	"gorm.io/gorm"
)

// OrderEventRecord is a transactional outbox row: it is written inside the
// same DB transaction as the status change but NOT published to Pub/Sub.
// Publishing happens asynchronously via the outbox dispatcher after commit.
type OrderEventRecord struct {
	ID            int         `gorm:"primary_key;index:idx_order_outbox_dispatch,priority:3" json:"id"`
	OrderId       string      `gorm:"type:char(36);not null;index" json:"order_id"`
	UserId        string      `gorm:"type:char(36);not null;index" json:"user_id"`
	OldStatus     OrderStatus `gorm:"size:20;not null" json:"old_status"`
	NewStatus     OrderStatus `gorm:"size:20;not null" json:"new_status"`
	TransactionId string      `gorm:"size:100" json:"transaction_id"`
	PaymentType   string      `gorm:"size:50" json:"payment_type"`
	OccurredAt    time.Time   `gorm:"index;not null" json:"occurred_at"`
	// Outbox metadata (publish happens after commit via dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_order_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_order_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// RecordOrderEvent writes the outbox row inside the caller's transaction.
func RecordOrderEvent(ctx context.Context, tx *gorm.DB, event OrderEventRecord) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	event.PublishStatus = OutboxPublishStatusPending
	event.CorrelationId = correlationIdFromContextOrNew(ctx)
	return tx.Create(&event).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToOrderEventMessage(record OrderEventRecord) config.OrderEventMessage {
	return config.OrderEventMessage{
		ID:            record.ID,
		OrderId:       record.OrderId,
		UserId:        record.UserId,
		OldStatus:     string(record.OldStatus),
		NewStatus:     string(record.NewStatus),
		TransactionId: record.TransactionId,
		PaymentType:   record.PaymentType,
		OccurredAt:    record.OccurredAt,
		CorrelationId: record.CorrelationId,
	}
}
