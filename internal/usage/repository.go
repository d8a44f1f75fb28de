package usage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ringdesk/ringdesk-backend/pkg/db/models"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
)

// Repository defines persistence operations for usage periods.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	EnsurePeriod(ctx context.Context, accountID uuid.UUID, start, end time.Time) error
	Increment(ctx context.Context, accountID uuid.UUID, start, end time.Time, calls int, minutes decimal.Decimal) error
	FindPeriod(ctx context.Context, accountID uuid.UUID, start time.Time) (*models.UsagePeriod, error)
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

// EnsurePeriod creates the period row if it does not exist yet. Existing rows
// are left untouched so rollover never resets accumulated usage.
func (r *repository) EnsurePeriod(ctx context.Context, accountID uuid.UUID, start, end time.Time) error {
	row := models.UsagePeriod{
		AccountID:   accountID,
		PeriodStart: start,
		PeriodEnd:   end,
		MinutesUsed: decimal.Zero,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "period_start"}},
			DoNothing: true,
		}).
		Create(&row).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ensure usage period")
	}
	return nil
}

// Increment adds calls and minutes to the period row, creating it on first
// use after rollover.
func (r *repository) Increment(ctx context.Context, accountID uuid.UUID, start, end time.Time, calls int, minutes decimal.Decimal) error {
	row := models.UsagePeriod{
		AccountID:   accountID,
		PeriodStart: start,
		PeriodEnd:   end,
		CallsMade:   calls,
		MinutesUsed: minutes,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}, {Name: "period_start"}},
			DoUpdates: clause.Assignments(map[string]any{
				"calls_made":   gorm.Expr("calls_made + ?", calls),
				"minutes_used": gorm.Expr("minutes_used + ?", minutes),
			}),
		}).
		Create(&row).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "increment usage period")
	}
	return nil
}

func (r *repository) FindPeriod(ctx context.Context, accountID uuid.UUID, start time.Time) (*models.UsagePeriod, error) {
	var row models.UsagePeriod
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND period_start = ?", accountID, start).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find usage period")
	}
	return &row, nil
}
