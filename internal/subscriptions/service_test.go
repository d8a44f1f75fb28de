package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ringdesk/ringdesk-backend/internal/numbers"
	"github.com/ringdesk/ringdesk-backend/internal/plans"
	"github.com/ringdesk/ringdesk-backend/internal/trials"
	"github.com/ringdesk/ringdesk-backend/pkg/enums"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
	"github.com/ringdesk/ringdesk-backend/pkg/logger"
	"github.com/ringdesk/ringdesk-backend/pkg/outbox"
	"github.com/ringdesk/ringdesk-backend/pkg/telephony"
)

func setupSubscriptionsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  status TEXT NOT NULL,
  current_period_start DATETIME,
  current_period_end DATETIME,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  trial_starts_at DATETIME,
  trial_ends_at DATETIME,
  external_customer_ref TEXT,
  external_subscription_ref TEXT,
  canceled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS phone_number_allocations (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  number TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  assigned_assistant_id TEXT,
  allocated_at DATETIME NOT NULL,
  released_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS trial_usages (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  subscription_id TEXT NOT NULL UNIQUE,
  calls_made INTEGER NOT NULL DEFAULT 0,
  minutes_used NUMERIC NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

type testTxRunner struct {
	db *gorm.DB
}

func (r *testTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

type seqProvider struct {
	next        int
	provisioned int
	released    []string
	failWith    error
}

func (p *seqProvider) ProvisionNumbers(_ context.Context, count int) ([]string, error) {
	if p.failWith != nil {
		return nil, p.failWith
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		p.next++
		out = append(out, fmt.Sprintf("+1555000%04d", p.next))
	}
	p.provisioned += count
	return out, nil
}

func (p *seqProvider) ReleaseNumber(_ context.Context, number string) error {
	p.released = append(p.released, number)
	return nil
}

type stubUsageMeter struct {
	ensured int
}

func (s *stubUsageMeter) EnsurePeriod(context.Context, *gorm.DB, uuid.UUID, time.Time, time.Time) error {
	s.ensured++
	return nil
}

type stubEmitter struct {
	events   []enums.LifecycleEventType
	failNext bool
}

func (s *stubEmitter) Emit(_ context.Context, tx *gorm.DB, event outbox.LifecycleEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if s.failNext {
		s.failNext = false
		return errors.New("emit failed")
	}
	s.events = append(s.events, event.EventType)
	return nil
}

type fixture struct {
	svc      Service
	repo     Repository
	numbers  numbers.Service
	provider *seqProvider
	usage    *stubUsageMeter
	emitter  *stubEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupSubscriptionsTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	provider := &seqProvider{}

	numRepo := numbers.NewRepository(db)
	numSvc, err := numbers.NewService(numbers.ServiceParams{
		Repo:     numRepo,
		Provider: provider,
		Logger:   logg,
	})
	if err != nil {
		t.Fatalf("numbers service: %v", err)
	}

	subRepo := NewRepository(db)
	trialSvc, err := trials.NewService(trials.ServiceParams{
		Repo:          trials.NewRepository(db),
		Subscriptions: subRepo,
	})
	if err != nil {
		t.Fatalf("trials service: %v", err)
	}

	usageMeter := &stubUsageMeter{}
	emitter := &stubEmitter{}
	svc, err := NewService(ServiceParams{
		Repo:              subRepo,
		Catalog:           plans.Default(),
		Allocator:         numSvc,
		Usage:             usageMeter,
		Trials:            trialSvc,
		Emitter:           emitter,
		TransactionRunner: &testTxRunner{db: db},
		Logger:            logg,
	})
	if err != nil {
		t.Fatalf("subscriptions service: %v", err)
	}

	return &fixture{
		svc:      svc,
		repo:     subRepo,
		numbers:  numSvc,
		provider: provider,
		usage:    usageMeter,
		emitter:  emitter,
	}
}

func (f *fixture) activeCount(t *testing.T, accountID uuid.UUID) int {
	t.Helper()
	count, err := f.numbers.ActiveCount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("active count: %v", err)
	}
	return count
}

func (f *fixture) releasedCount(t *testing.T, accountID uuid.UUID) int {
	t.Helper()
	count, err := f.numbers.ReleasedCount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("released count: %v", err)
	}
	return count
}

func TestStartTrialAllocatesPlanLimit(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	sub, err := f.svc.StartTrial(context.Background(), accountID, enums.PlanStarter)
	if err != nil {
		t.Fatalf("start trial: %v", err)
	}
	if sub.Status != enums.SubscriptionStatusTrialing {
		t.Fatalf("expected trialing, got %s", sub.Status)
	}
	if sub.TrialEndsAt == nil || !sub.TrialEndsAt.After(time.Now().UTC().Add(6*24*time.Hour)) {
		t.Fatalf("expected 7 day trial window, got %v", sub.TrialEndsAt)
	}
	if got := f.activeCount(t, accountID); got != 1 {
		t.Fatalf("expected starter allocation of 1, got %d", got)
	}
	if len(f.emitter.events) != 1 || f.emitter.events[0] != enums.LifecycleTrialStarted {
		t.Fatalf("expected trial_started event, got %v", f.emitter.events)
	}
}

func TestStartTrialRejectsExistingSubscription(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	if _, err := f.svc.StartTrial(context.Background(), accountID, enums.PlanStarter); err != nil {
		t.Fatalf("start trial: %v", err)
	}
	_, err := f.svc.StartTrial(context.Background(), accountID, enums.PlanGrowth)
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected already-subscribed conflict, got %v", err)
	}
}

func TestStartTrialAbortsWhenPoolExhausted(t *testing.T) {
	f := newFixture(t)
	f.provider.failWith = telephony.ErrInsufficientInventory
	accountID := uuid.New()

	_, err := f.svc.StartTrial(context.Background(), accountID, enums.PlanStarter)
	if !pkgerrors.IsCode(err, pkgerrors.CodePoolExhausted) {
		t.Fatalf("expected pool exhausted, got %v", err)
	}

	if sub, _ := f.repo.FindCurrent(context.Background(), accountID); sub != nil {
		t.Fatal("aborted transition must not leave a subscription behind")
	}
}

func TestStartTrialCompensatesOnCommitFailure(t *testing.T) {
	f := newFixture(t)
	f.emitter.failNext = true
	accountID := uuid.New()

	if _, err := f.svc.StartTrial(context.Background(), accountID, enums.PlanStarter); err == nil {
		t.Fatal("expected failure")
	}
	if len(f.provider.released) != 1 {
		t.Fatalf("provisioned numbers must be handed back on rollback, released=%v", f.provider.released)
	}
	if got := f.activeCount(t, accountID); got != 0 {
		t.Fatalf("expected no allocations after rollback, got %d", got)
	}
}

func TestCompleteCheckoutFreshAccount(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	sub, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanStarter, CheckoutRefs{
		CustomerRef:     "cus_123",
		SubscriptionRef: "sub_123",
	})
	if err != nil {
		t.Fatalf("complete checkout: %v", err)
	}
	if sub.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", sub.Status)
	}
	if got := f.activeCount(t, accountID); got != 1 {
		t.Fatalf("expected 1 number, got %d", got)
	}
	if f.usage.ensured != 1 {
		t.Fatal("expected a usage period to be created")
	}
}

func TestCompleteCheckoutConvertsTrialWithoutReallocation(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	if _, err := f.svc.StartTrial(context.Background(), accountID, enums.PlanStarter); err != nil {
		t.Fatalf("start trial: %v", err)
	}
	provisionedBefore := f.provider.provisioned

	sub, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanStarter, CheckoutRefs{
		SubscriptionRef: "sub_trial_convert",
	})
	if err != nil {
		t.Fatalf("complete checkout: %v", err)
	}
	if sub.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", sub.Status)
	}
	if f.provider.provisioned != provisionedBefore {
		t.Fatal("trial conversion at the same tier must not provision again")
	}
	if got := f.activeCount(t, accountID); got != 1 {
		t.Fatalf("expected 1 number, got %d", got)
	}
}

func TestCompleteCheckoutIdempotentByRef(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()
	refs := CheckoutRefs{SubscriptionRef: "sub_replay"}

	first, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanStarter, refs)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	second, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanStarter, refs)
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("redelivered checkout must return the same subscription")
	}
	if got := f.activeCount(t, accountID); got != 1 {
		t.Fatalf("redelivery must not duplicate allocation, got %d", got)
	}
}

func TestChangePlanUpgrade(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	if _, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanStarter, CheckoutRefs{SubscriptionRef: "sub_up"}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	result, err := f.svc.ChangePlan(context.Background(), accountID, enums.PlanStarter, enums.PlanGrowth)
	if err != nil {
		t.Fatalf("change plan: %v", err)
	}
	if result.Action != ActionUpgrade || result.Added != 1 {
		t.Fatalf("expected upgrade added=1, got %+v", result)
	}
	if got := f.activeCount(t, accountID); got != 2 {
		t.Fatalf("expected 2 numbers, got %d", got)
	}
}

func TestChangePlanDowngrade(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	if _, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanGrowth, CheckoutRefs{SubscriptionRef: "sub_down"}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	result, err := f.svc.ChangePlan(context.Background(), accountID, enums.PlanGrowth, enums.PlanStarter)
	if err != nil {
		t.Fatalf("change plan: %v", err)
	}
	if result.Action != ActionDowngrade || result.Released != 1 {
		t.Fatalf("expected downgrade released=1, got %+v", result)
	}
	if got := f.activeCount(t, accountID); got != 1 {
		t.Fatalf("expected 1 number, got %d", got)
	}
	if got := f.releasedCount(t, accountID); got != 1 {
		t.Fatalf("expected 1 released row, got %d", got)
	}
	if len(f.provider.released) != 1 {
		t.Fatalf("expected upstream release, got %v", f.provider.released)
	}
}

func TestChangePlanDeltaLaw(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	if _, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanStarter, CheckoutRefs{SubscriptionRef: "sub_law"}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	before := f.activeCount(t, accountID)

	if _, err := f.svc.ChangePlan(context.Background(), accountID, enums.PlanStarter, enums.PlanPro); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if _, err := f.svc.ChangePlan(context.Background(), accountID, enums.PlanPro, enums.PlanStarter); err != nil {
		t.Fatalf("downgrade: %v", err)
	}

	if got := f.activeCount(t, accountID); got != before {
		t.Fatalf("round trip must restore active count, before=%d after=%d", before, got)
	}
}

func TestChangePlanRequiresMatchingCurrentPlan(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	if _, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanStarter, CheckoutRefs{SubscriptionRef: "sub_mismatch"}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	_, err := f.svc.ChangePlan(context.Background(), accountID, enums.PlanGrowth, enums.PlanPro)
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestChangePlanUnknownAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ChangePlan(context.Background(), uuid.New(), enums.PlanStarter, enums.PlanGrowth)
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCancelReleasesEverything(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	if _, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanGrowth, CheckoutRefs{SubscriptionRef: "sub_cancel"}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	priorActive := f.activeCount(t, accountID)

	if err := f.svc.Cancel(context.Background(), accountID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	sub, err := f.svc.GetSubscription(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if sub.Status != enums.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %s", sub.Status)
	}
	if got := f.activeCount(t, accountID); got != 0 {
		t.Fatalf("expected 0 active, got %d", got)
	}
	if got := f.releasedCount(t, accountID); got != priorActive {
		t.Fatalf("released count %d must equal prior active %d", got, priorActive)
	}

	// Second cancel is a no-op, nothing double-released.
	if err := f.svc.Cancel(context.Background(), accountID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if got := f.releasedCount(t, accountID); got != priorActive {
		t.Fatalf("double release detected: %d", got)
	}
}

func TestCancelAfterCancelKeepsRowForAudit(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	if _, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanStarter, CheckoutRefs{SubscriptionRef: "sub_audit"}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := f.svc.Cancel(context.Background(), accountID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	latest, err := f.repo.FindLatest(context.Background(), accountID)
	if err != nil {
		t.Fatalf("find latest: %v", err)
	}
	if latest == nil || latest.CanceledAt == nil {
		t.Fatal("canceled row must be retained with its timestamp")
	}
}

func TestResubscribeCreatesFreshRow(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	first, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanStarter, CheckoutRefs{SubscriptionRef: "sub_v1"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := f.svc.Cancel(context.Background(), accountID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	second, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanStarter, CheckoutRefs{SubscriptionRef: "sub_v2"})
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("resubscription must create a fresh row, not revive the canceled one")
	}
	if got := f.activeCount(t, accountID); got != 1 {
		t.Fatalf("expected fresh allocation of 1, got %d", got)
	}
}

func TestMarkPastDueAndReactivate(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	if _, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanStarter, CheckoutRefs{SubscriptionRef: "sub_dues"}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	numbersBefore := f.activeCount(t, accountID)

	if err := f.svc.MarkPastDue(context.Background(), accountID); err != nil {
		t.Fatalf("mark past due: %v", err)
	}
	sub, _ := f.repo.FindCurrent(context.Background(), accountID)
	if sub.Status != enums.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due, got %s", sub.Status)
	}
	if got := f.activeCount(t, accountID); got != numbersBefore {
		t.Fatal("past_due must not touch allocations")
	}

	// Repeat is a no-op.
	if err := f.svc.MarkPastDue(context.Background(), accountID); err != nil {
		t.Fatalf("repeat mark past due: %v", err)
	}

	if err := f.svc.Reactivate(context.Background(), accountID); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	sub, _ = f.repo.FindCurrent(context.Background(), accountID)
	if sub.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", sub.Status)
	}
}

func TestApplyProcessorUpdateIgnoresStalePeriod(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	if _, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanStarter, CheckoutRefs{
		SubscriptionRef: "sub_stale",
		PeriodStart:     start,
		PeriodEnd:       end,
	}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	// An update from the previous cycle arrives late.
	staleEnd := end.AddDate(0, -1, 0)
	if err := f.svc.ApplyProcessorUpdate(context.Background(), "sub_stale", enums.SubscriptionStatusPastDue, staleEnd.AddDate(0, -1, 0), staleEnd); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	sub, _ := f.repo.FindCurrent(context.Background(), accountID)
	if sub.Status != enums.SubscriptionStatusActive {
		t.Fatalf("stale update must be ignored, got %s", sub.Status)
	}
	if !sub.CurrentPeriodEnd.Equal(end) {
		t.Fatalf("period must not regress, got %v", sub.CurrentPeriodEnd)
	}
}

func TestApplyProcessorUpdateAdvancesPeriod(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	if _, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanStarter, CheckoutRefs{
		SubscriptionRef: "sub_roll",
		PeriodStart:     start,
		PeriodEnd:       end,
	}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	ensuredBefore := f.usage.ensured

	nextStart := end
	nextEnd := end.AddDate(0, 1, 0)
	if err := f.svc.ApplyProcessorUpdate(context.Background(), "sub_roll", enums.SubscriptionStatusActive, nextStart, nextEnd); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	sub, _ := f.repo.FindCurrent(context.Background(), accountID)
	if !sub.CurrentPeriodEnd.Equal(nextEnd) {
		t.Fatalf("expected rolled period, got %v", sub.CurrentPeriodEnd)
	}
	if f.usage.ensured != ensuredBefore+1 {
		t.Fatal("rollover must open a fresh usage period")
	}
}

func TestCancelByRef(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	if _, err := f.svc.CompleteCheckout(context.Background(), accountID, enums.PlanStarter, CheckoutRefs{SubscriptionRef: "sub_byref"}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := f.svc.CancelByRef(context.Background(), "sub_byref"); err != nil {
		t.Fatalf("cancel by ref: %v", err)
	}

	sub, _ := f.svc.GetSubscription(context.Background(), accountID)
	if sub.Status != enums.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %s", sub.Status)
	}
}

func TestExpireDueTrialsCancelsRanOutTrials(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	sub, err := f.svc.StartTrial(context.Background(), accountID, enums.PlanStarter)
	if err != nil {
		t.Fatalf("start trial: %v", err)
	}
	past := time.Now().UTC().Add(-time.Hour)
	if err := f.repo.SetTrialEnd(context.Background(), sub.ID, past); err != nil {
		t.Fatalf("backdate trial: %v", err)
	}

	processed, err := f.svc.ExpireDueTrials(context.Background(), 10)
	if err != nil {
		t.Fatalf("expire trials: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 expired trial, got %d", processed)
	}

	got, _ := f.svc.GetSubscription(context.Background(), accountID)
	if got.Status != enums.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %s", got.Status)
	}
	if count := f.activeCount(t, accountID); count != 0 {
		t.Fatalf("expired trial must release numbers, got %d", count)
	}
}
