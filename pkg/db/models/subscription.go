package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ringdesk/ringdesk-backend/pkg/enums"
)

// Subscription is the authoritative lifecycle record for an account. At most
// one non-terminal row exists per account; canceled rows are retained for
// audit and superseded by a fresh row on resubscription.
type Subscription struct {
	ID                      uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID               uuid.UUID                `gorm:"column:account_id;type:uuid;not null;index"`
	PlanID                  enums.PlanID             `gorm:"column:plan_id;not null"`
	Status                  enums.SubscriptionStatus `gorm:"column:status;not null"`
	CurrentPeriodStart      *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd        *time.Time               `gorm:"column:current_period_end"`
	CancelAtPeriodEnd       bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	TrialStartsAt           *time.Time               `gorm:"column:trial_starts_at"`
	TrialEndsAt             *time.Time               `gorm:"column:trial_ends_at"`
	ExternalCustomerRef     string                   `gorm:"column:external_customer_ref"`
	ExternalSubscriptionRef string                   `gorm:"column:external_subscription_ref;index"`
	CanceledAt              *time.Time               `gorm:"column:canceled_at"`
	CreatedAt               time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns an id when the database default is unavailable
// (sqlite in tests).
func (s *Subscription) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
