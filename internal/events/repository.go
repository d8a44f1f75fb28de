package events

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ringdesk/ringdesk-backend/pkg/db/models"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
)

// Repository defines persistence operations for the idempotency ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, externalEventID string) (*models.ProcessedEvent, error)
	Record(ctx context.Context, event *models.ProcessedEvent) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) Find(ctx context.Context, externalEventID string) (*models.ProcessedEvent, error) {
	var row models.ProcessedEvent
	err := r.db.WithContext(ctx).
		Where("external_event_id = ?", externalEventID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find processed event")
	}
	return &row, nil
}

func (r *repository) Record(ctx context.Context, event *models.ProcessedEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record processed event")
	}
	return nil
}

// DeleteOlderThan prunes ledger rows past the retention horizon in bounded
// batches.
func (r *repository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 1000
	}
	result := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.
			Model(&models.ProcessedEvent{}).
			Select("id").
			Where("processed_at < ?", cutoff).
			Limit(batch),
		).
		Delete(&models.ProcessedEvent{})
	if result.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "prune processed events")
	}
	return result.RowsAffected, nil
}
