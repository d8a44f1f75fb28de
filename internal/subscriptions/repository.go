package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ringdesk/ringdesk-backend/pkg/db/models"
	"github.com/ringdesk/ringdesk-backend/pkg/enums"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
)

// Repository defines persistence operations for subscriptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	Update(ctx context.Context, sub *models.Subscription) error
	FindCurrent(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error)
	FindLatest(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error)
	FindByExternalRef(ctx context.Context, subscriptionRef string) (*models.Subscription, error)
	SetTrialEnd(ctx context.Context, subscriptionID uuid.UUID, endsAt time.Time) error
	ListExpiredTrials(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error)
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

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create subscription")
	}
	return nil
}

func (r *repository) Update(ctx context.Context, sub *models.Subscription) error {
	if err := r.db.WithContext(ctx).Save(sub).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subscription")
	}
	return nil
}

// FindCurrent returns the account's non-terminal subscription, or nil when
// none exists. At most one non-terminal row exists per account.
func (r *repository) FindCurrent(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	var row models.Subscription
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND status <> ?", accountID, enums.SubscriptionStatusCanceled).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find current subscription")
	}
	return &row, nil
}

// FindLatest returns the most recent subscription row regardless of status.
func (r *repository) FindLatest(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	var row models.Subscription
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find latest subscription")
	}
	return &row, nil
}

func (r *repository) FindByExternalRef(ctx context.Context, subscriptionRef string) (*models.Subscription, error) {
	if subscriptionRef == "" {
		return nil, nil
	}
	var row models.Subscription
	err := r.db.WithContext(ctx).
		Where("external_subscription_ref = ?", subscriptionRef).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find subscription by ref")
	}
	return &row, nil
}

func (r *repository) SetTrialEnd(ctx context.Context, subscriptionID uuid.UUID, endsAt time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", subscriptionID).
		Update("trial_ends_at", endsAt).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "set trial end")
	}
	return nil
}

// ListExpiredTrials returns trialing subscriptions whose window has passed.
func (r *repository) ListExpiredTrials(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error) {
	var rows []models.Subscription
	q := r.db.WithContext(ctx).
		Where("status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at < ?", enums.SubscriptionStatusTrialing, asOf).
		Order("trial_ends_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list expired trials")
	}
	return rows, nil
}
