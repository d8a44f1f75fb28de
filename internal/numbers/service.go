package numbers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ringdesk/ringdesk-backend/pkg/db/models"
	"github.com/ringdesk/ringdesk-backend/pkg/enums"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
	"github.com/ringdesk/ringdesk-backend/pkg/logger"
	"github.com/ringdesk/ringdesk-backend/pkg/telephony"
)

// Service manages the account-side phone number pool. Provider calls happen
// outside database transactions; callers provision first, attach rows inside
// their transaction, and compensate upstream if the transaction fails.
type Service interface {
	Provision(ctx context.Context, count int) ([]string, error)
	Attach(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, numbers []string) error
	Release(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, count int) ([]string, error)
	ReleaseAll(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) ([]string, error)
	ReleaseUpstream(ctx context.Context, numbers []string)
	ActiveCount(ctx context.Context, accountID uuid.UUID) (int, error)
	ReleasedCount(ctx context.Context, accountID uuid.UUID) (int, error)
	ListActive(ctx context.Context, accountID uuid.UUID) ([]models.PhoneNumberAllocation, error)
	AssignAssistant(ctx context.Context, accountID uuid.UUID, number string, assistantID uuid.UUID) error
}

// ServiceParams groups dependencies for the allocator service.
type ServiceParams struct {
	Repo     Repository
	Provider telephony.Provider
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	provider telephony.Provider
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds an allocator service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("repo required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("telephony provider required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     params.Repo,
		provider: params.Provider,
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

// Provision asks the upstream pool for count fresh numbers. Inventory
// shortfalls surface as a retryable pool-exhausted error.
func (s *service) Provision(ctx context.Context, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	numbers, err := s.provider.ProvisionNumbers(ctx, count)
	if err != nil {
		if errors.Is(err, telephony.ErrInsufficientInventory) {
			return nil, pkgerrors.Wrap(pkgerrors.CodePoolExhausted, err, "upstream number pool exhausted")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "provision numbers upstream")
	}
	return numbers, nil
}

// Attach records provisioned numbers as active allocations inside the
// caller's transaction.
func (s *service) Attach(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, numbers []string) error {
	if accountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	repo := s.repo
	if tx != nil {
		repo = s.repo.WithTx(tx)
	}
	now := s.now().UTC()
	for _, number := range numbers {
		allocation := &models.PhoneNumberAllocation{
			AccountID:   accountID,
			Number:      number,
			Status:      enums.AllocationStatusActive,
			AllocatedAt: now,
		}
		if err := repo.Insert(ctx, allocation); err != nil {
			return err
		}
	}
	return nil
}

// Release marks count allocations released, preferring numbers with no
// assistant attached and then the oldest allocations. When fewer active
// allocations exist than requested the release clamps to what is there and
// logs the mismatch rather than failing the transition.
func (s *service) Release(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, count int) ([]string, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if count <= 0 {
		return nil, nil
	}

	repo := s.repo
	if tx != nil {
		repo = s.repo.WithTx(tx)
	}

	active, err := repo.ListActiveReleaseOrder(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(active) < count {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"account_id": accountID.String(),
			"expected":   count,
			"active":     len(active),
		}), "allocation integrity: fewer active numbers than expected, clamping release")
		count = len(active)
	}
	if count == 0 {
		return nil, nil
	}

	victims := active[:count]
	ids := make([]uuid.UUID, 0, count)
	released := make([]string, 0, count)
	for _, row := range victims {
		ids = append(ids, row.ID)
		released = append(released, row.Number)
	}
	if err := repo.MarkReleased(ctx, ids, s.now().UTC()); err != nil {
		return nil, err
	}
	return released, nil
}

// ReleaseAll releases every active allocation for the account.
func (s *service) ReleaseAll(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) ([]string, error) {
	repo := s.repo
	if tx != nil {
		repo = s.repo.WithTx(tx)
	}
	active, err := repo.ListActiveReleaseOrder(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}
	return s.Release(ctx, tx, accountID, len(active))
}

// ReleaseUpstream returns numbers to the provider pool after the owning
// transaction commits. Failures are logged, not returned: the local row is
// already released and the provider call is idempotent on retry.
func (s *service) ReleaseUpstream(ctx context.Context, numbers []string) {
	for _, number := range numbers {
		if err := s.provider.ReleaseNumber(ctx, number); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "number", number), "release number upstream", err)
		}
	}
}

func (s *service) ActiveCount(ctx context.Context, accountID uuid.UUID) (int, error) {
	if accountID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	return s.repo.CountActive(ctx, accountID)
}

// ReleasedCount reports how many allocations the account has retired.
// Released rows are kept forever, so this is also the audit trail size.
func (s *service) ReleasedCount(ctx context.Context, accountID uuid.UUID) (int, error) {
	if accountID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	return s.repo.CountReleased(ctx, accountID)
}

func (s *service) ListActive(ctx context.Context, accountID uuid.UUID) ([]models.PhoneNumberAllocation, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	return s.repo.ListActive(ctx, accountID)
}

func (s *service) AssignAssistant(ctx context.Context, accountID uuid.UUID, number string, assistantID uuid.UUID) error {
	if accountID == uuid.Nil || assistantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id and assistant id are required")
	}
	if number == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "number is required")
	}
	return s.repo.AssignAssistant(ctx, accountID, number, assistantID)
}
