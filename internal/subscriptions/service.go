package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ringdesk/ringdesk-backend/internal/plans"
	"github.com/ringdesk/ringdesk-backend/pkg/db/models"
	"github.com/ringdesk/ringdesk-backend/pkg/enums"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
	"github.com/ringdesk/ringdesk-backend/pkg/logger"
	"github.com/ringdesk/ringdesk-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// numberAllocator is the pool allocator surface the state machine drives.
// Provision happens before the transaction; Attach/Release run inside it so
// the plan id and the allocation change commit as one unit.
type numberAllocator interface {
	Provision(ctx context.Context, count int) ([]string, error)
	Attach(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, numbers []string) error
	Release(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, count int) ([]string, error)
	ReleaseAll(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) ([]string, error)
	ReleaseUpstream(ctx context.Context, numbers []string)
	ActiveCount(ctx context.Context, accountID uuid.UUID) (int, error)
}

type usageMeter interface {
	EnsurePeriod(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, start, end time.Time) error
}

type trialInitializer interface {
	Init(ctx context.Context, tx *gorm.DB, accountID, subscriptionID uuid.UUID) error
}

type lifecycleEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.LifecycleEvent) error
}

// Plan change actions.
const (
	ActionUpgrade   = "upgrade"
	ActionDowngrade = "downgrade"
	ActionLateral   = "lateral"
)

// CheckoutRefs carries the payment processor's identifiers and billing cycle
// for a completed checkout.
type CheckoutRefs struct {
	CustomerRef     string
	SubscriptionRef string
	PeriodStart     time.Time
	PeriodEnd       time.Time
}

// ChangePlanResult reports what a plan change did to the number pool.
type ChangePlanResult struct {
	Action       string               `json:"action"`
	Added        int                  `json:"added"`
	Released     int                  `json:"released"`
	Subscription *models.Subscription `json:"subscription"`
}

// Service is the subscription state machine. It owns every status transition
// and orchestrates allocation, metering and trial side effects so each
// transition commits atomically.
type Service interface {
	StartTrial(ctx context.Context, accountID uuid.UUID, planID enums.PlanID) (*models.Subscription, error)
	CompleteCheckout(ctx context.Context, accountID uuid.UUID, planID enums.PlanID, refs CheckoutRefs) (*models.Subscription, error)
	ChangePlan(ctx context.Context, accountID uuid.UUID, oldPlanID, newPlanID enums.PlanID) (*ChangePlanResult, error)
	Cancel(ctx context.Context, accountID uuid.UUID) error
	MarkPastDue(ctx context.Context, accountID uuid.UUID) error
	Reactivate(ctx context.Context, accountID uuid.UUID) error
	ApplyProcessorUpdate(ctx context.Context, subscriptionRef string, status enums.SubscriptionStatus, periodStart, periodEnd time.Time) error
	CancelByRef(ctx context.Context, subscriptionRef string) error
	ExpireDueTrials(ctx context.Context, batch int) (int, error)
	GetSubscription(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error)
}

// ServiceParams groups dependencies for the state machine.
type ServiceParams struct {
	Repo              Repository
	Catalog           *plans.Catalog
	Allocator         numberAllocator
	Usage             usageMeter
	Trials            trialInitializer
	Emitter           lifecycleEmitter
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	repo      Repository
	catalog   *plans.Catalog
	allocator numberAllocator
	usage     usageMeter
	trials    trialInitializer
	emitter   lifecycleEmitter
	txRunner  txRunner
	logg      *logger.Logger
	locks     *accountLocks
	now       func() time.Time
}

// NewService builds the state machine with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("repo required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if params.Allocator == nil {
		return nil, fmt.Errorf("allocator required")
	}
	if params.Usage == nil {
		return nil, fmt.Errorf("usage meter required")
	}
	if params.Trials == nil {
		return nil, fmt.Errorf("trial manager required")
	}
	if params.Emitter == nil {
		return nil, fmt.Errorf("lifecycle emitter required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      params.Repo,
		catalog:   params.Catalog,
		allocator: params.Allocator,
		usage:     params.Usage,
		trials:    params.Trials,
		emitter:   params.Emitter,
		txRunner:  params.TransactionRunner,
		logg:      params.Logger,
		locks:     newAccountLocks(),
		now:       time.Now,
	}, nil
}

// StartTrial creates a trialing subscription with the plan's full number
// allocation and an empty trial counter row.
func (s *service) StartTrial(ctx context.Context, accountID uuid.UUID, planID enums.PlanID) (*models.Subscription, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	tier, err := s.catalog.Get(planID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Acquire(accountID)
	defer unlock()

	existing, err := s.repo.FindCurrent(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "account already has a subscription")
	}

	// Provider round-trip stays outside the transaction; the numbers are
	// handed back if the transition fails to commit.
	provisioned, err := s.allocator.Provision(ctx, tier.PhoneNumberLimit)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	trialEnd := now.AddDate(0, 0, tier.TrialDurationDays)
	sub := &models.Subscription{
		AccountID:     accountID,
		PlanID:        planID,
		Status:        enums.SubscriptionStatusTrialing,
		TrialStartsAt: &now,
		TrialEndsAt:   &trialEnd,
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, sub); err != nil {
			return err
		}
		if err := s.allocator.Attach(ctx, tx, accountID, provisioned); err != nil {
			return err
		}
		if err := s.trials.Init(ctx, tx, accountID, sub.ID); err != nil {
			return err
		}
		return s.emitter.Emit(ctx, tx, outbox.LifecycleEvent{
			EventType: enums.LifecycleTrialStarted,
			AccountID: accountID,
			Data: map[string]any{
				"plan_id":       planID.String(),
				"trial_ends_at": trialEnd,
			},
		})
	})
	if err != nil {
		s.allocator.ReleaseUpstream(ctx, provisioned)
		return nil, err
	}
	return sub, nil
}

// CompleteCheckout activates a subscription from a processor checkout.
// Idempotent by external subscription ref: a redelivered checkout for an
// already-active ref returns the current state untouched. Coming from a trial
// or from nothing it tops the allocation up to the plan limit; arriving as a
// disguised plan change it applies the delta.
func (s *service) CompleteCheckout(ctx context.Context, accountID uuid.UUID, planID enums.PlanID, refs CheckoutRefs) (*models.Subscription, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	tier, err := s.catalog.Get(planID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Acquire(accountID)
	defer unlock()

	if refs.SubscriptionRef != "" {
		byRef, err := s.repo.FindByExternalRef(ctx, refs.SubscriptionRef)
		if err != nil {
			return nil, err
		}
		if byRef != nil && byRef.Status == enums.SubscriptionStatusActive {
			return byRef, nil
		}
	}

	current, err := s.repo.FindCurrent(ctx, accountID)
	if err != nil {
		return nil, err
	}

	activeCount, err := s.allocator.ActiveCount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	delta := tier.PhoneNumberLimit - activeCount

	var provisioned []string
	if delta > 0 {
		provisioned, err = s.allocator.Provision(ctx, delta)
		if err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	start, end := refs.PeriodStart, refs.PeriodEnd
	if start.IsZero() {
		start = now
	}
	if end.IsZero() {
		end = start.AddDate(0, 1, 0)
	}

	sub := current
	var releasedNumbers []string
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if sub == nil {
			sub = &models.Subscription{AccountID: accountID}
			sub.PlanID = planID
			sub.Status = enums.SubscriptionStatusActive
			sub.CurrentPeriodStart = &start
			sub.CurrentPeriodEnd = &end
			sub.ExternalCustomerRef = refs.CustomerRef
			sub.ExternalSubscriptionRef = refs.SubscriptionRef
			if err := repo.Create(ctx, sub); err != nil {
				return err
			}
		} else {
			sub.PlanID = planID
			sub.Status = enums.SubscriptionStatusActive
			sub.CurrentPeriodStart = &start
			sub.CurrentPeriodEnd = &end
			if refs.CustomerRef != "" {
				sub.ExternalCustomerRef = refs.CustomerRef
			}
			if refs.SubscriptionRef != "" {
				sub.ExternalSubscriptionRef = refs.SubscriptionRef
			}
			if err := repo.Update(ctx, sub); err != nil {
				return err
			}
		}

		if delta < 0 {
			released, err := s.allocator.Release(ctx, tx, accountID, -delta)
			if err != nil {
				return err
			}
			releasedNumbers = released
		}
		if err := s.allocator.Attach(ctx, tx, accountID, provisioned); err != nil {
			return err
		}
		if err := s.usage.EnsurePeriod(ctx, tx, accountID, start, end); err != nil {
			return err
		}
		return s.emitter.Emit(ctx, tx, outbox.LifecycleEvent{
			EventType: enums.LifecycleActivated,
			AccountID: accountID,
			Data: map[string]any{
				"plan_id":              planID.String(),
				"current_period_start": start,
				"current_period_end":   end,
			},
		})
	})
	if err != nil {
		s.allocator.ReleaseUpstream(ctx, provisioned)
		return nil, err
	}
	s.allocator.ReleaseUpstream(ctx, releasedNumbers)
	return sub, nil
}

// ChangePlan applies the allocation delta between two tiers. The plan id and
// the allocation change commit atomically; a plan id without its matching
// allocation change is a data-integrity fault.
func (s *service) ChangePlan(ctx context.Context, accountID uuid.UUID, oldPlanID, newPlanID enums.PlanID) (*ChangePlanResult, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	oldTier, err := s.catalog.Get(oldPlanID)
	if err != nil {
		return nil, err
	}
	newTier, err := s.catalog.Get(newPlanID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Acquire(accountID)
	defer unlock()

	sub, err := s.repo.FindCurrent(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for account")
	}
	if !sub.Status.HoldsNumbers() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription cannot change plan in its current state")
	}
	if sub.PlanID != oldPlanID {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "current plan does not match requested change")
	}

	delta := newTier.PhoneNumberLimit - oldTier.PhoneNumberLimit

	var provisioned []string
	if delta > 0 {
		provisioned, err = s.allocator.Provision(ctx, delta)
		if err != nil {
			return nil, err
		}
	}

	var releasedNumbers []string
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		sub.PlanID = newPlanID
		if err := s.repo.WithTx(tx).Update(ctx, sub); err != nil {
			return err
		}
		if delta < 0 {
			released, err := s.allocator.Release(ctx, tx, accountID, -delta)
			if err != nil {
				return err
			}
			releasedNumbers = released
		}
		if err := s.allocator.Attach(ctx, tx, accountID, provisioned); err != nil {
			return err
		}
		return s.emitter.Emit(ctx, tx, outbox.LifecycleEvent{
			EventType: enums.LifecyclePlanChanged,
			AccountID: accountID,
			Data: map[string]any{
				"old_plan_id": oldPlanID.String(),
				"new_plan_id": newPlanID.String(),
			},
		})
	})
	if err != nil {
		s.allocator.ReleaseUpstream(ctx, provisioned)
		return nil, err
	}
	s.allocator.ReleaseUpstream(ctx, releasedNumbers)

	result := &ChangePlanResult{Subscription: sub}
	switch {
	case delta > 0:
		result.Action = ActionUpgrade
		result.Added = delta
	case delta < 0:
		result.Action = ActionDowngrade
		result.Released = len(releasedNumbers)
	default:
		result.Action = ActionLateral
	}
	return result, nil
}

// Cancel releases every active number and marks the subscription canceled.
// The row is retained for audit; canceling an already-canceled account is a
// no-op.
func (s *service) Cancel(ctx context.Context, accountID uuid.UUID) error {
	if accountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}

	unlock := s.locks.Acquire(accountID)
	defer unlock()

	sub, err := s.repo.FindCurrent(ctx, accountID)
	if err != nil {
		return err
	}
	if sub == nil {
		latest, err := s.repo.FindLatest(ctx, accountID)
		if err != nil {
			return err
		}
		if latest != nil && latest.Status.IsTerminal() {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for account")
	}

	now := s.now().UTC()
	var releasedNumbers []string
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		sub.Status = enums.SubscriptionStatusCanceled
		sub.CanceledAt = &now
		if err := s.repo.WithTx(tx).Update(ctx, sub); err != nil {
			return err
		}
		released, err := s.allocator.ReleaseAll(ctx, tx, accountID)
		if err != nil {
			return err
		}
		releasedNumbers = released
		return s.emitter.Emit(ctx, tx, outbox.LifecycleEvent{
			EventType: enums.LifecycleCanceled,
			AccountID: accountID,
			Data:      map[string]any{"plan_id": sub.PlanID.String()},
		})
	})
	if err != nil {
		return err
	}
	s.allocator.ReleaseUpstream(ctx, releasedNumbers)
	return nil
}

// MarkPastDue reflects a failed payment. Status only; the account keeps its
// numbers while the processor retries collection.
func (s *service) MarkPastDue(ctx context.Context, accountID uuid.UUID) error {
	return s.statusOnly(ctx, accountID,
		enums.SubscriptionStatusActive, enums.SubscriptionStatusPastDue, enums.LifecyclePastDue)
}

// Reactivate reflects a recovered payment on a past-due subscription.
func (s *service) Reactivate(ctx context.Context, accountID uuid.UUID) error {
	return s.statusOnly(ctx, accountID,
		enums.SubscriptionStatusPastDue, enums.SubscriptionStatusActive, enums.LifecycleReactivated)
}

func (s *service) statusOnly(ctx context.Context, accountID uuid.UUID, from, to enums.SubscriptionStatus, eventType enums.LifecycleEventType) error {
	if accountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}

	unlock := s.locks.Acquire(accountID)
	defer unlock()

	sub, err := s.repo.FindCurrent(ctx, accountID)
	if err != nil {
		return err
	}
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for account")
	}
	if sub.Status == to {
		return nil
	}
	if sub.Status != from {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot transition %s subscription to %s", sub.Status, to))
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		sub.Status = to
		if err := s.repo.WithTx(tx).Update(ctx, sub); err != nil {
			return err
		}
		return s.emitter.Emit(ctx, tx, outbox.LifecycleEvent{
			EventType: eventType,
			AccountID: accountID,
			Data:      map[string]any{"status": to.String()},
		})
	})
}

// ApplyProcessorUpdate folds a subscription.updated event into local state.
// Deliveries can arrive out of order; an update whose period end predates the
// stored one is stale and ignored.
func (s *service) ApplyProcessorUpdate(ctx context.Context, subscriptionRef string, status enums.SubscriptionStatus, periodStart, periodEnd time.Time) error {
	sub, err := s.repo.FindByExternalRef(ctx, subscriptionRef)
	if err != nil {
		return err
	}
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for ref")
	}

	unlock := s.locks.Acquire(sub.AccountID)
	defer unlock()

	sub, err = s.repo.FindByExternalRef(ctx, subscriptionRef)
	if err != nil {
		return err
	}
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for ref")
	}

	if !periodEnd.IsZero() && sub.CurrentPeriodEnd != nil && periodEnd.Before(*sub.CurrentPeriodEnd) {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"account_id":       sub.AccountID.String(),
			"subscription_ref": subscriptionRef,
			"stored_end":       sub.CurrentPeriodEnd,
			"update_end":       periodEnd,
		}), "stale subscription update ignored")
		return nil
	}

	if sub.Status.IsTerminal() {
		s.logg.Warn(s.logg.WithAccountID(ctx, sub.AccountID.String()), "update for canceled subscription ignored")
		return nil
	}

	switch status {
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusPastDue:
	default:
		s.logg.Warn(s.logg.WithAccountID(ctx, sub.AccountID.String()),
			fmt.Sprintf("processor status %q not applied", status))
		return nil
	}

	prior := sub.Status
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		sub.Status = status
		if !periodStart.IsZero() {
			sub.CurrentPeriodStart = &periodStart
		}
		if !periodEnd.IsZero() {
			sub.CurrentPeriodEnd = &periodEnd
		}
		if err := s.repo.WithTx(tx).Update(ctx, sub); err != nil {
			return err
		}
		if status == enums.SubscriptionStatusActive && sub.CurrentPeriodStart != nil && sub.CurrentPeriodEnd != nil {
			if err := s.usage.EnsurePeriod(ctx, tx, sub.AccountID, *sub.CurrentPeriodStart, *sub.CurrentPeriodEnd); err != nil {
				return err
			}
		}
		if prior == status {
			return nil
		}
		eventType := enums.LifecyclePastDue
		if status == enums.SubscriptionStatusActive {
			eventType = enums.LifecycleReactivated
		}
		return s.emitter.Emit(ctx, tx, outbox.LifecycleEvent{
			EventType: eventType,
			AccountID: sub.AccountID,
			Data:      map[string]any{"status": status.String()},
		})
	})
}

// CancelByRef resolves the account behind a processor ref and cancels it.
func (s *service) CancelByRef(ctx context.Context, subscriptionRef string) error {
	sub, err := s.repo.FindByExternalRef(ctx, subscriptionRef)
	if err != nil {
		return err
	}
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for ref")
	}
	return s.Cancel(ctx, sub.AccountID)
}

// ExpireDueTrials cancels trials whose window has passed without conversion.
// Cancellation is the default expiry policy; accounts that convert move to
// active through CompleteCheckout before this sweep reaches them.
func (s *service) ExpireDueTrials(ctx context.Context, batch int) (int, error) {
	rows, err := s.repo.ListExpiredTrials(ctx, s.now().UTC(), batch)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, row := range rows {
		if err := s.Cancel(ctx, row.AccountID); err != nil {
			s.logg.Error(s.logg.WithAccountID(ctx, row.AccountID.String()), "expire trial", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// GetSubscription returns the account's current subscription, falling back
// to the latest canceled row for audit visibility.
func (s *service) GetSubscription(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	sub, err := s.repo.FindCurrent(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		return sub, nil
	}
	latest, err := s.repo.FindLatest(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for account")
	}
	return latest, nil
}
