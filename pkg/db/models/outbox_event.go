package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ringdesk/ringdesk-backend/pkg/enums"
)

// OutboxEvent is an append-only lifecycle event enqueued in the same
// transaction as the subscription transition that produced it.
type OutboxEvent struct {
	ID          uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID   uuid.UUID                `gorm:"column:account_id;type:uuid;not null;index"`
	EventType   enums.LifecycleEventType `gorm:"column:event_type;not null"`
	Payload     json.RawMessage          `gorm:"column:payload;type:jsonb"`
	Status      enums.OutboxStatus       `gorm:"column:status;not null;default:'pending';index"`
	Attempts    int                      `gorm:"column:attempts;not null;default:0"`
	PublishedAt *time.Time               `gorm:"column:published_at"`
	CreatedAt   time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *OutboxEvent) BeforeCreate(_ *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
