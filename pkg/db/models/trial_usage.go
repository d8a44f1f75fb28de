package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TrialUsage is the counter space for one trial window. Trial calls are never
// charged and never touch UsagePeriod.
type TrialUsage struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID      uuid.UUID       `gorm:"column:account_id;type:uuid;not null;index"`
	SubscriptionID uuid.UUID       `gorm:"column:subscription_id;type:uuid;not null;uniqueIndex"`
	CallsMade      int             `gorm:"column:calls_made;not null;default:0"`
	MinutesUsed    decimal.Decimal `gorm:"column:minutes_used;type:numeric(12,4);not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *TrialUsage) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
