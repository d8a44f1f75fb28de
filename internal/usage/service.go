package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ringdesk/ringdesk-backend/internal/plans"
	"github.com/ringdesk/ringdesk-backend/pkg/db/models"
	"github.com/ringdesk/ringdesk-backend/pkg/enums"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
)

// subscriptionSource resolves the account's current (non-terminal)
// subscription.
type subscriptionSource interface {
	FindCurrent(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error)
}

// trialMeter is the slice of the trial manager the meter delegates to for
// trial-scoped calls.
type trialMeter interface {
	AddCall(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, minutes decimal.Decimal) error
	Current(ctx context.Context, accountID uuid.UUID) (*models.TrialUsage, error)
}

// Service meters paid usage for the current billing period and computes
// billing exposure. Trial calls are delegated and never charged.
type Service interface {
	EnsurePeriod(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, start, end time.Time) error
	RecordCall(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, minutes decimal.Decimal, isTrial bool) error
	GetUsageSummary(ctx context.Context, accountID uuid.UUID) (*Summary, error)
	CanMakeCall(ctx context.Context, accountID uuid.UUID) (*CallPermission, error)
}

// Summary is the dashboard usage projection for the current period. Minutes
// are rounded to one decimal for display; overage charges are computed from
// the unrounded value.
type Summary struct {
	CallsMade           int             `json:"calls_made"`
	MinutesUsed         decimal.Decimal `json:"minutes_used"`
	MinutesIncluded     int             `json:"minutes_included"`
	MinutesRemaining    decimal.Decimal `json:"minutes_remaining"`
	OverageMinutes      decimal.Decimal `json:"overage_minutes"`
	OverageChargesCents int64           `json:"overage_charges_cents"`
	FairUseCallCap      int             `json:"fair_use_call_cap"`
	CallsRemaining      int             `json:"calls_remaining"`
}

// Call permission reasons.
const (
	ReasonWithinCap            = "within_cap"
	ReasonCapExceeded          = "cap_exceeded"
	ReasonSubscriptionInactive = "subscription_inactive"
)

// CallPermission is the can-make-call projection.
type CallPermission struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// ServiceParams groups dependencies for the usage meter.
type ServiceParams struct {
	Repo          Repository
	Catalog       *plans.Catalog
	Subscriptions subscriptionSource
	Trials        trialMeter
}

type service struct {
	repo    Repository
	catalog *plans.Catalog
	subs    subscriptionSource
	trials  trialMeter
}

// NewService builds a usage meter with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("repo required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription source required")
	}
	if params.Trials == nil {
		return nil, fmt.Errorf("trial meter required")
	}
	return &service{
		repo:    params.Repo,
		catalog: params.Catalog,
		subs:    params.Subscriptions,
		trials:  params.Trials,
	}, nil
}

// EnsurePeriod creates the current period row inside the caller's
// transaction. Used on checkout and period rollover.
func (s *service) EnsurePeriod(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, start, end time.Time) error {
	repo := s.repo
	if tx != nil {
		repo = s.repo.WithTx(tx)
	}
	return repo.EnsurePeriod(ctx, accountID, start, end)
}

// RecordCall accumulates one finished call. Trial calls go to the trial
// counters and are never charged; paid calls add to the current period row.
// The write lands inside the caller's transaction when one is provided, so
// the ingestion ledger can commit alongside the increment.
func (s *service) RecordCall(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, minutes decimal.Decimal, isTrial bool) error {
	if accountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if minutes.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "minutes must not be negative")
	}

	sub, err := s.subs.FindCurrent(ctx, accountID)
	if err != nil {
		return err
	}
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for account")
	}

	if isTrial || sub.Status == enums.SubscriptionStatusTrialing {
		return s.trials.AddCall(ctx, tx, accountID, minutes)
	}

	if sub.CurrentPeriodStart == nil || sub.CurrentPeriodEnd == nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription has no billing period")
	}
	repo := s.repo
	if tx != nil {
		repo = s.repo.WithTx(tx)
	}
	return repo.Increment(ctx, accountID, *sub.CurrentPeriodStart, *sub.CurrentPeriodEnd, 1, minutes)
}

// GetUsageSummary reports usage against the plan's limits for the current
// period. minutes_remaining floors at zero; exposure beyond the allotment is
// reported as overage instead.
func (s *service) GetUsageSummary(ctx context.Context, accountID uuid.UUID) (*Summary, error) {
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

	tier, err := s.catalog.Get(sub.PlanID)
	if err != nil {
		return nil, err
	}

	calls, minutes, err := s.currentCounters(ctx, sub, accountID)
	if err != nil {
		return nil, err
	}

	included := decimal.NewFromInt(int64(tier.MinutesIncluded))
	remaining := included.Sub(minutes)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	overage := minutes.Sub(included)
	if overage.IsNegative() {
		overage = decimal.Zero
	}

	callsRemaining := tier.FairUseCallCap - calls
	if callsRemaining < 0 {
		callsRemaining = 0
	}

	return &Summary{
		CallsMade:           calls,
		MinutesUsed:         minutes.Round(1),
		MinutesIncluded:     tier.MinutesIncluded,
		MinutesRemaining:    remaining.Round(1),
		OverageMinutes:      overage.Round(1),
		OverageChargesCents: overageCents(overage, tier.OveragePerMinuteCents),
		FairUseCallCap:      tier.FairUseCallCap,
		CallsRemaining:      callsRemaining,
	}, nil
}

// CanMakeCall decides whether the account may place another call. Past the
// fair-use cap the answer depends on the tier's overage policy.
func (s *service) CanMakeCall(ctx context.Context, accountID uuid.UUID) (*CallPermission, error) {
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
	if !sub.Status.HoldsNumbers() {
		return &CallPermission{Allowed: false, Reason: ReasonSubscriptionInactive}, nil
	}

	tier, err := s.catalog.Get(sub.PlanID)
	if err != nil {
		return nil, err
	}

	calls, _, err := s.currentCounters(ctx, sub, accountID)
	if err != nil {
		return nil, err
	}

	if calls < tier.FairUseCallCap {
		return &CallPermission{Allowed: true, Reason: ReasonWithinCap}, nil
	}
	return &CallPermission{
		Allowed: tier.OveragePolicy == enums.OveragePolicyAllow,
		Reason:  ReasonCapExceeded,
	}, nil
}

// currentCounters reads the counter space that applies to the subscription's
// state: trial counters while trialing, the current period row otherwise.
func (s *service) currentCounters(ctx context.Context, sub *models.Subscription, accountID uuid.UUID) (int, decimal.Decimal, error) {
	if sub.Status == enums.SubscriptionStatusTrialing {
		trial, err := s.trials.Current(ctx, accountID)
		if err != nil {
			return 0, decimal.Zero, err
		}
		if trial == nil {
			return 0, decimal.Zero, nil
		}
		return trial.CallsMade, trial.MinutesUsed, nil
	}

	if sub.CurrentPeriodStart == nil {
		return 0, decimal.Zero, nil
	}
	period, err := s.repo.FindPeriod(ctx, accountID, *sub.CurrentPeriodStart)
	if err != nil {
		return 0, decimal.Zero, err
	}
	if period == nil {
		return 0, decimal.Zero, nil
	}
	return period.CallsMade, period.MinutesUsed, nil
}

// overageCents bills overage from the unrounded minute value, rounding the
// final charge up to a whole cent.
func overageCents(overageMinutes decimal.Decimal, ratePerMinuteCents int64) int64 {
	if overageMinutes.IsZero() {
		return 0
	}
	return overageMinutes.Mul(decimal.NewFromInt(ratePerMinuteCents)).Ceil().IntPart()
}
