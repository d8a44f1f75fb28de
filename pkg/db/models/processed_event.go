package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProcessedEvent is the idempotency ledger for inbound webhook deliveries.
// An external event id seen once is never reprocessed.
type ProcessedEvent struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ExternalEventID string    `gorm:"column:external_event_id;not null;uniqueIndex"`
	EventType       string    `gorm:"column:event_type;not null"`
	Outcome         string    `gorm:"column:outcome;not null;default:'applied'"`
	ProcessedAt     time.Time `gorm:"column:processed_at;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (p *ProcessedEvent) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
