package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ringdesk/ringdesk-backend/pkg/enums"
)

// PhoneNumberAllocation ties a provisioned phone number to an account.
// Released rows are kept so historical counts stay queryable.
type PhoneNumberAllocation struct {
	ID                  uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID           uuid.UUID              `gorm:"column:account_id;type:uuid;not null;index"`
	Number              string                 `gorm:"column:number;not null"`
	Status              enums.AllocationStatus `gorm:"column:status;not null;default:'active'"`
	AssignedAssistantID *uuid.UUID             `gorm:"column:assigned_assistant_id;type:uuid"`
	AllocatedAt         time.Time              `gorm:"column:allocated_at;not null"`
	ReleasedAt          *time.Time             `gorm:"column:released_at"`
	CreatedAt           time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *PhoneNumberAllocation) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
