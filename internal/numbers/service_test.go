package numbers

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ringdesk/ringdesk-backend/pkg/db/models"
	"github.com/ringdesk/ringdesk-backend/pkg/enums"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
	"github.com/ringdesk/ringdesk-backend/pkg/logger"
	"github.com/ringdesk/ringdesk-backend/pkg/telephony"
)

func setupNumbersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	schema := `
CREATE TABLE IF NOT EXISTS phone_number_allocations (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  number TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  assigned_assistant_id TEXT,
  allocated_at DATETIME NOT NULL,
  released_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	if err := db.Exec(schema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

type stubProvider struct {
	provisionFn func(ctx context.Context, count int) ([]string, error)
	released    []string
	releaseErr  error
}

func (s *stubProvider) ProvisionNumbers(ctx context.Context, count int) ([]string, error) {
	if s.provisionFn != nil {
		return s.provisionFn(ctx, count)
	}
	out := make([]string, count)
	for i := range out {
		out[i] = uuid.NewString()
	}
	return out, nil
}

func (s *stubProvider) ReleaseNumber(_ context.Context, number string) error {
	if s.releaseErr != nil {
		return s.releaseErr
	}
	s.released = append(s.released, number)
	return nil
}

func newTestService(t *testing.T, db *gorm.DB, provider telephony.Provider) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(db),
		Provider: provider,
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func seedAllocation(t *testing.T, db *gorm.DB, accountID uuid.UUID, number string, allocatedAt time.Time, assistant *uuid.UUID) models.PhoneNumberAllocation {
	t.Helper()
	row := models.PhoneNumberAllocation{
		AccountID:           accountID,
		Number:              number,
		Status:              enums.AllocationStatusActive,
		AssignedAssistantID: assistant,
		AllocatedAt:         allocatedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed allocation: %v", err)
	}
	return row
}

func TestProvisionMapsInventoryShortfall(t *testing.T) {
	db := setupNumbersTestDB(t)
	provider := &stubProvider{provisionFn: func(context.Context, int) ([]string, error) {
		return nil, telephony.ErrInsufficientInventory
	}}
	svc := newTestService(t, db, provider)

	_, err := svc.Provision(context.Background(), 2)
	if err == nil {
		t.Fatal("expected error")
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodePoolExhausted) {
		t.Fatalf("expected pool exhausted code, got %v", err)
	}
}

func TestAttachCreatesActiveAllocations(t *testing.T) {
	db := setupNumbersTestDB(t)
	svc := newTestService(t, db, &stubProvider{})
	accountID := uuid.New()

	if err := svc.Attach(context.Background(), nil, accountID, []string{"+15550000001", "+15550000002"}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	count, err := svc.ActiveCount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("active count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 active allocations, got %d", count)
	}
}

func TestReleasedCountTracksRetiredAllocations(t *testing.T) {
	db := setupNumbersTestDB(t)
	svc := newTestService(t, db, &stubProvider{})
	accountID := uuid.New()

	if err := svc.Attach(context.Background(), nil, accountID, []string{"+15550000001", "+15550000002", "+15550000003"}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := svc.Release(context.Background(), nil, accountID, 2); err != nil {
		t.Fatalf("release: %v", err)
	}

	released, err := svc.ReleasedCount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("released count: %v", err)
	}
	if released != 2 {
		t.Fatalf("expected 2 released allocations, got %d", released)
	}
	active, err := svc.ActiveCount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("active count: %v", err)
	}
	if active != 1 {
		t.Fatalf("expected 1 active allocation, got %d", active)
	}
}

func TestReleasePrefersUnassignedThenOldest(t *testing.T) {
	db := setupNumbersTestDB(t)
	svc := newTestService(t, db, &stubProvider{})
	accountID := uuid.New()
	assistant := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)

	// Oldest number has an assistant attached; it should survive a single
	// release in favor of the unassigned one.
	seedAllocation(t, db, accountID, "+15550000001", base, &assistant)
	seedAllocation(t, db, accountID, "+15550000002", base.Add(10*time.Minute), nil)
	seedAllocation(t, db, accountID, "+15550000003", base.Add(20*time.Minute), nil)

	released, err := svc.Release(context.Background(), nil, accountID, 2)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(released) != 2 {
		t.Fatalf("expected 2 released, got %v", released)
	}
	if released[0] != "+15550000002" || released[1] != "+15550000003" {
		t.Fatalf("unexpected release order: %v", released)
	}

	remaining, err := svc.ListActive(context.Background(), accountID)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Number != "+15550000001" {
		t.Fatalf("expected assigned number to remain, got %+v", remaining)
	}
}

func TestReleaseClampsWhenFewerActiveThanRequested(t *testing.T) {
	db := setupNumbersTestDB(t)
	svc := newTestService(t, db, &stubProvider{})
	accountID := uuid.New()

	seedAllocation(t, db, accountID, "+15550000001", time.Now().UTC(), nil)

	released, err := svc.Release(context.Background(), nil, accountID, 5)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(released) != 1 {
		t.Fatalf("expected clamp to 1 released, got %v", released)
	}

	count, _ := svc.ActiveCount(context.Background(), accountID)
	if count != 0 {
		t.Fatalf("expected 0 active, got %d", count)
	}
}

func TestReleaseWithNoActiveIsNoop(t *testing.T) {
	db := setupNumbersTestDB(t)
	svc := newTestService(t, db, &stubProvider{})

	released, err := svc.Release(context.Background(), nil, uuid.New(), 2)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(released) != 0 {
		t.Fatalf("expected no releases, got %v", released)
	}
}

func TestReleaseAll(t *testing.T) {
	db := setupNumbersTestDB(t)
	svc := newTestService(t, db, &stubProvider{})
	accountID := uuid.New()

	seedAllocation(t, db, accountID, "+15550000001", time.Now().UTC(), nil)
	seedAllocation(t, db, accountID, "+15550000002", time.Now().UTC(), nil)

	released, err := svc.ReleaseAll(context.Background(), nil, accountID)
	if err != nil {
		t.Fatalf("release all: %v", err)
	}
	if len(released) != 2 {
		t.Fatalf("expected 2 released, got %v", released)
	}
}

func TestReleaseUpstreamSwallowsProviderErrors(t *testing.T) {
	db := setupNumbersTestDB(t)
	provider := &stubProvider{releaseErr: telephony.ErrInsufficientInventory}
	svc := newTestService(t, db, provider)

	// Must not panic or surface the error.
	svc.ReleaseUpstream(context.Background(), []string{"+15550000001"})
}

func TestAssignAssistantRequiresActiveAllocation(t *testing.T) {
	db := setupNumbersTestDB(t)
	svc := newTestService(t, db, &stubProvider{})

	err := svc.AssignAssistant(context.Background(), uuid.New(), "+15550000001", uuid.New())
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
