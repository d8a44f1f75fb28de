package trials

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ringdesk/ringdesk-backend/pkg/db/models"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
)

// Repository defines persistence operations for trial usage counters.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, usage *models.TrialUsage) error
	Overwrite(ctx context.Context, subscriptionID uuid.UUID, calls int, minutes decimal.Decimal) error
	AddCall(ctx context.Context, subscriptionID uuid.UUID, minutes decimal.Decimal) error
	FindBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*models.TrialUsage, error)
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

func (r *repository) Create(ctx context.Context, usage *models.TrialUsage) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}},
			DoNothing: true,
		}).
		Create(usage).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create trial usage")
	}
	return nil
}

// Overwrite replaces the counters with the reported cumulative totals.
func (r *repository) Overwrite(ctx context.Context, subscriptionID uuid.UUID, calls int, minutes decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&models.TrialUsage{}).
		Where("subscription_id = ?", subscriptionID).
		Updates(map[string]any{
			"calls_made":   calls,
			"minutes_used": minutes,
		})
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "overwrite trial usage")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no trial usage for subscription")
	}
	return nil
}

// AddCall increments the counters by one call.
func (r *repository) AddCall(ctx context.Context, subscriptionID uuid.UUID, minutes decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&models.TrialUsage{}).
		Where("subscription_id = ?", subscriptionID).
		Updates(map[string]any{
			"calls_made":   gorm.Expr("calls_made + 1"),
			"minutes_used": gorm.Expr("minutes_used + ?", minutes),
		})
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "add trial call")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no trial usage for subscription")
	}
	return nil
}

func (r *repository) FindBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*models.TrialUsage, error) {
	var row models.TrialUsage
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find trial usage")
	}
	return &row, nil
}
