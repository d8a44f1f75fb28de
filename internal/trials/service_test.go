package trials

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ringdesk/ringdesk-backend/pkg/db/models"
	"github.com/ringdesk/ringdesk-backend/pkg/enums"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
)

func setupTrialsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	schema := `
CREATE TABLE IF NOT EXISTS trial_usages (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  subscription_id TEXT NOT NULL UNIQUE,
  calls_made INTEGER NOT NULL DEFAULT 0,
  minutes_used NUMERIC NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	if err := db.Exec(schema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

type stubSubStore struct {
	sub      *models.Subscription
	trialEnd *time.Time
}

func (s *stubSubStore) FindCurrent(context.Context, uuid.UUID) (*models.Subscription, error) {
	return s.sub, nil
}

func (s *stubSubStore) SetTrialEnd(_ context.Context, _ uuid.UUID, endsAt time.Time) error {
	s.trialEnd = &endsAt
	if s.sub != nil {
		s.sub.TrialEndsAt = &endsAt
	}
	return nil
}

func trialingSub(accountID uuid.UUID, endsAt *time.Time) *models.Subscription {
	return &models.Subscription{
		ID:          uuid.New(),
		AccountID:   accountID,
		PlanID:      enums.PlanStarter,
		Status:      enums.SubscriptionStatusTrialing,
		TrialEndsAt: endsAt,
	}
}

func newTrialService(t *testing.T, db *gorm.DB, store *stubSubStore) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:          NewRepository(db),
		Subscriptions: store,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestInitCreatesEmptyCounters(t *testing.T) {
	db := setupTrialsTestDB(t)
	accountID := uuid.New()
	store := &stubSubStore{sub: trialingSub(accountID, nil)}
	svc := newTrialService(t, db, store)

	if err := svc.Init(context.Background(), nil, accountID, store.sub.ID); err != nil {
		t.Fatalf("init: %v", err)
	}

	usage, err := svc.Current(context.Background(), accountID)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if usage == nil {
		t.Fatal("expected trial usage row")
	}
	if usage.CallsMade != 0 || !usage.MinutesUsed.IsZero() {
		t.Fatalf("expected empty counters, got %+v", usage)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	db := setupTrialsTestDB(t)
	accountID := uuid.New()
	store := &stubSubStore{sub: trialingSub(accountID, nil)}
	svc := newTrialService(t, db, store)

	if err := svc.Init(context.Background(), nil, accountID, store.sub.ID); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := svc.RecordTrialUsage(context.Background(), accountID, 2, decimal.NewFromInt(5)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := svc.Init(context.Background(), nil, accountID, store.sub.ID); err != nil {
		t.Fatalf("second init: %v", err)
	}

	usage, _ := svc.Current(context.Background(), accountID)
	if usage.CallsMade != 2 {
		t.Fatalf("second init must not reset counters, got %+v", usage)
	}
}

func TestRecordTrialUsageOverwrites(t *testing.T) {
	db := setupTrialsTestDB(t)
	accountID := uuid.New()
	store := &stubSubStore{sub: trialingSub(accountID, nil)}
	svc := newTrialService(t, db, store)

	if err := svc.Init(context.Background(), nil, accountID, store.sub.ID); err != nil {
		t.Fatalf("init: %v", err)
	}

	// Reports carry running totals: a later report replaces, never adds.
	if err := svc.RecordTrialUsage(context.Background(), accountID, 1, decimal.NewFromInt(2)); err != nil {
		t.Fatalf("first report: %v", err)
	}
	if err := svc.RecordTrialUsage(context.Background(), accountID, 3, decimal.NewFromInt(7)); err != nil {
		t.Fatalf("second report: %v", err)
	}

	usage, err := svc.Current(context.Background(), accountID)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if usage.CallsMade != 3 {
		t.Fatalf("expected overwrite to 3 calls, got %d", usage.CallsMade)
	}
	if !usage.MinutesUsed.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected 7 minutes, got %s", usage.MinutesUsed)
	}
}

func TestAddCallAccumulates(t *testing.T) {
	db := setupTrialsTestDB(t)
	accountID := uuid.New()
	store := &stubSubStore{sub: trialingSub(accountID, nil)}
	svc := newTrialService(t, db, store)

	if err := svc.Init(context.Background(), nil, accountID, store.sub.ID); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := svc.AddCall(context.Background(), nil, accountID, decimal.NewFromFloat(1.5)); err != nil {
		t.Fatalf("add call: %v", err)
	}
	if err := svc.AddCall(context.Background(), nil, accountID, decimal.NewFromFloat(2.5)); err != nil {
		t.Fatalf("add call: %v", err)
	}

	usage, _ := svc.Current(context.Background(), accountID)
	if usage.CallsMade != 2 {
		t.Fatalf("expected 2 calls, got %d", usage.CallsMade)
	}
	if !usage.MinutesUsed.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected 4 minutes, got %s", usage.MinutesUsed)
	}
}

func TestRecordTrialUsageRequiresTrialingStatus(t *testing.T) {
	db := setupTrialsTestDB(t)
	accountID := uuid.New()
	sub := trialingSub(accountID, nil)
	sub.Status = enums.SubscriptionStatusActive
	svc := newTrialService(t, db, &stubSubStore{sub: sub})

	err := svc.RecordTrialUsage(context.Background(), accountID, 1, decimal.NewFromInt(1))
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestIsExpired(t *testing.T) {
	db := setupTrialsTestDB(t)
	accountID := uuid.New()

	past := time.Now().UTC().Add(-time.Hour)
	svc := newTrialService(t, db, &stubSubStore{sub: trialingSub(accountID, &past)})
	expired, err := svc.IsExpired(context.Background(), accountID)
	if err != nil {
		t.Fatalf("is expired: %v", err)
	}
	if !expired {
		t.Fatal("expected expired trial")
	}

	future := time.Now().UTC().Add(time.Hour)
	svc = newTrialService(t, db, &stubSubStore{sub: trialingSub(accountID, &future)})
	expired, err = svc.IsExpired(context.Background(), accountID)
	if err != nil {
		t.Fatalf("is expired: %v", err)
	}
	if expired {
		t.Fatal("expected live trial")
	}
}

func TestExpireTrialStampsPastMarker(t *testing.T) {
	db := setupTrialsTestDB(t)
	accountID := uuid.New()
	future := time.Now().UTC().Add(time.Hour)
	store := &stubSubStore{sub: trialingSub(accountID, &future)}
	svc := newTrialService(t, db, store)

	if err := svc.ExpireTrial(context.Background(), accountID); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if store.trialEnd == nil || !store.trialEnd.Before(time.Now().UTC()) {
		t.Fatalf("expected past marker, got %v", store.trialEnd)
	}
}

func TestExpireTrialAlreadyExpiredIsNoop(t *testing.T) {
	db := setupTrialsTestDB(t)
	accountID := uuid.New()
	past := time.Now().UTC().Add(-time.Hour)
	store := &stubSubStore{sub: trialingSub(accountID, &past)}
	svc := newTrialService(t, db, store)

	if err := svc.ExpireTrial(context.Background(), accountID); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if store.trialEnd != nil {
		t.Fatal("already-expired trial must not be restamped")
	}
}
