package numbers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ringdesk/ringdesk-backend/pkg/db/models"
	"github.com/ringdesk/ringdesk-backend/pkg/enums"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
)

// Repository defines persistence operations for phone number allocations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, allocation *models.PhoneNumberAllocation) error
	ListActive(ctx context.Context, accountID uuid.UUID) ([]models.PhoneNumberAllocation, error)
	ListActiveReleaseOrder(ctx context.Context, accountID uuid.UUID) ([]models.PhoneNumberAllocation, error)
	CountActive(ctx context.Context, accountID uuid.UUID) (int, error)
	CountReleased(ctx context.Context, accountID uuid.UUID) (int, error)
	MarkReleased(ctx context.Context, ids []uuid.UUID, at time.Time) error
	AssignAssistant(ctx context.Context, accountID uuid.UUID, number string, assistantID uuid.UUID) error
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

func (r *repository) Insert(ctx context.Context, allocation *models.PhoneNumberAllocation) error {
	if err := r.db.WithContext(ctx).Create(allocation).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert phone number allocation")
	}
	return nil
}

func (r *repository) ListActive(ctx context.Context, accountID uuid.UUID) ([]models.PhoneNumberAllocation, error) {
	var rows []models.PhoneNumberAllocation
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, enums.AllocationStatusActive).
		Order("allocated_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list active allocations")
	}
	return rows, nil
}

// ListActiveReleaseOrder returns active allocations in the order they should
// be released: numbers with no assistant attached first, then oldest
// allocations.
func (r *repository) ListActiveReleaseOrder(ctx context.Context, accountID uuid.UUID) ([]models.PhoneNumberAllocation, error) {
	var rows []models.PhoneNumberAllocation
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, enums.AllocationStatusActive).
		Order("assigned_assistant_id IS NOT NULL, allocated_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list allocations for release")
	}
	return rows, nil
}

func (r *repository) CountActive(ctx context.Context, accountID uuid.UUID) (int, error) {
	return r.countByStatus(ctx, accountID, enums.AllocationStatusActive)
}

func (r *repository) CountReleased(ctx context.Context, accountID uuid.UUID) (int, error) {
	return r.countByStatus(ctx, accountID, enums.AllocationStatusReleased)
}

func (r *repository) countByStatus(ctx context.Context, accountID uuid.UUID, status enums.AllocationStatus) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PhoneNumberAllocation{}).
		Where("account_id = ? AND status = ?", accountID, status).
		Count(&count).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count allocations")
	}
	return int(count), nil
}

func (r *repository) MarkReleased(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.PhoneNumberAllocation{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"status":                enums.AllocationStatusReleased,
			"released_at":           at,
			"assigned_assistant_id": nil,
		}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark allocations released")
	}
	return nil
}

func (r *repository) AssignAssistant(ctx context.Context, accountID uuid.UUID, number string, assistantID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.PhoneNumberAllocation{}).
		Where("account_id = ? AND number = ? AND status = ?", accountID, number, enums.AllocationStatusActive).
		Update("assigned_assistant_id", assistantID)
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "assign assistant")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no active allocation for number")
	}
	return nil
}
