package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UsagePeriod accumulates paid usage for one billing period. Period rollover
// creates a fresh row; old rows are never mutated.
type UsagePeriod struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID   uuid.UUID       `gorm:"column:account_id;type:uuid;not null;uniqueIndex:uniq_usage_period_account_start"`
	PeriodStart time.Time       `gorm:"column:period_start;not null;uniqueIndex:uniq_usage_period_account_start"`
	PeriodEnd   time.Time       `gorm:"column:period_end;not null"`
	CallsMade   int             `gorm:"column:calls_made;not null;default:0"`
	MinutesUsed decimal.Decimal `gorm:"column:minutes_used;type:numeric(12,4);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *UsagePeriod) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
