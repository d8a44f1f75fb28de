package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ringdesk/ringdesk-backend/pkg/db/models"
	"github.com/ringdesk/ringdesk-backend/pkg/enums"
	"github.com/ringdesk/ringdesk-backend/pkg/logger"
)

// LifecycleEvent describes a subscription transition to announce downstream.
type LifecycleEvent struct {
	EventType  enums.LifecycleEventType
	AccountID  uuid.UUID
	Data       interface{}
	Version    int
	OccurredAt time.Time
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit queues a lifecycle event on the provided transaction so the row
// commits or rolls back together with the transition that produced it.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event LifecycleEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.Version == 0 {
		event.Version = 1
	}
	envelope := PayloadEnvelope{
		Version:    event.Version,
		EventID:    uuid.NewString(),
		AccountID:  event.AccountID,
		OccurredAt: event.OccurredAt,
		Data:       payload,
	}
	payloadJSON, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	row := models.OutboxEvent{
		AccountID: event.AccountID,
		EventType: event.EventType,
		Payload:   json.RawMessage(payloadJSON),
		Status:    enums.OutboxStatusPending,
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_id":   envelope.EventID,
			"event_type": event.EventType,
			"account_id": event.AccountID.String(),
		})
		s.logg.Info(logCtx, "outbox event queued")
	}
	return nil
}
