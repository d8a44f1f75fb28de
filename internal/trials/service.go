package trials

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ringdesk/ringdesk-backend/pkg/db/models"
	"github.com/ringdesk/ringdesk-backend/pkg/enums"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
)

// subscriptionStore is the slice of subscription persistence the trial
// manager needs.
type subscriptionStore interface {
	FindCurrent(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error)
	SetTrialEnd(ctx context.Context, subscriptionID uuid.UUID, endsAt time.Time) error
}

// Service tracks the trial window and trial-scoped usage. Trial counters are
// a separate space from paid usage and are never billed.
type Service interface {
	Init(ctx context.Context, tx *gorm.DB, accountID, subscriptionID uuid.UUID) error
	RecordTrialUsage(ctx context.Context, accountID uuid.UUID, calls int, minutes decimal.Decimal) error
	AddCall(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, minutes decimal.Decimal) error
	Current(ctx context.Context, accountID uuid.UUID) (*models.TrialUsage, error)
	IsExpired(ctx context.Context, accountID uuid.UUID) (bool, error)
	ExpireTrial(ctx context.Context, accountID uuid.UUID) error
}

// ServiceParams groups dependencies for the trial manager.
type ServiceParams struct {
	Repo          Repository
	Subscriptions subscriptionStore
}

type service struct {
	repo Repository
	subs subscriptionStore
	now  func() time.Time
}

// NewService builds a trial manager with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("repo required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription store required")
	}
	return &service{
		repo: params.Repo,
		subs: params.Subscriptions,
		now:  time.Now,
	}, nil
}

// Init creates the empty counter row for a fresh trial inside the caller's
// transaction.
func (s *service) Init(ctx context.Context, tx *gorm.DB, accountID, subscriptionID uuid.UUID) error {
	if accountID == uuid.Nil || subscriptionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id and subscription id are required")
	}
	repo := s.repo
	if tx != nil {
		repo = s.repo.WithTx(tx)
	}
	return repo.Create(ctx, &models.TrialUsage{
		AccountID:      accountID,
		SubscriptionID: subscriptionID,
		MinutesUsed:    decimal.Zero,
	})
}

// RecordTrialUsage overwrites the counters with the reported cumulative
// totals. Reporters send running totals, so a replayed or repeated report
// converges instead of double counting.
func (s *service) RecordTrialUsage(ctx context.Context, accountID uuid.UUID, calls int, minutes decimal.Decimal) error {
	if calls < 0 || minutes.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "usage totals must not be negative")
	}
	sub, err := s.trialingSubscription(ctx, accountID)
	if err != nil {
		return err
	}
	return s.repo.Overwrite(ctx, sub.ID, calls, minutes)
}

// AddCall accumulates one finished trial call inside the caller's
// transaction when one is provided.
func (s *service) AddCall(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, minutes decimal.Decimal) error {
	if minutes.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "minutes must not be negative")
	}
	sub, err := s.trialingSubscription(ctx, accountID)
	if err != nil {
		return err
	}
	repo := s.repo
	if tx != nil {
		repo = s.repo.WithTx(tx)
	}
	return repo.AddCall(ctx, sub.ID, minutes)
}

// Current returns the counters for the account's trial, or nil when the
// account has no trial.
func (s *service) Current(ctx context.Context, accountID uuid.UUID) (*models.TrialUsage, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	sub, err := s.subs.FindCurrent(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}
	return s.repo.FindBySubscription(ctx, sub.ID)
}

// IsExpired reports whether the trial window has passed.
func (s *service) IsExpired(ctx context.Context, accountID uuid.UUID) (bool, error) {
	sub, err := s.subs.FindCurrent(ctx, accountID)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for account")
	}
	if sub.TrialEndsAt == nil {
		return false, nil
	}
	return s.now().After(*sub.TrialEndsAt), nil
}

// ExpireTrial stamps the trial window closed for a trial that ran out
// without converting. What happens to the subscription afterwards (cancel or
// a grace state) is the caller's policy, not decided here.
func (s *service) ExpireTrial(ctx context.Context, accountID uuid.UUID) error {
	sub, err := s.trialingSubscription(ctx, accountID)
	if err != nil {
		return err
	}
	marker := s.now().UTC().Add(-time.Second)
	if sub.TrialEndsAt != nil && sub.TrialEndsAt.Before(marker) {
		return nil
	}
	return s.subs.SetTrialEnd(ctx, sub.ID, marker)
}

func (s *service) trialingSubscription(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	sub, err := s.subs.FindCurrent(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for account")
	}
	if sub.Status != enums.SubscriptionStatusTrialing {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is not trialing")
	}
	return sub, nil
}
