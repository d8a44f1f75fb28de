package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ringdesk/ringdesk-backend/api/middleware"
	"github.com/ringdesk/ringdesk-backend/api/responses"
	"github.com/ringdesk/ringdesk-backend/api/validators"
	subscriptionsvc "github.com/ringdesk/ringdesk-backend/internal/subscriptions"
	"github.com/ringdesk/ringdesk-backend/pkg/db/models"
	"github.com/ringdesk/ringdesk-backend/pkg/enums"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
	"github.com/ringdesk/ringdesk-backend/pkg/logger"
)

// SubscriptionService describes the state machine methods used by the HTTP
// controllers.
type SubscriptionService interface {
	StartTrial(ctx context.Context, accountID uuid.UUID, planID enums.PlanID) (*models.Subscription, error)
	ChangePlan(ctx context.Context, accountID uuid.UUID, oldPlanID, newPlanID enums.PlanID) (*subscriptionsvc.ChangePlanResult, error)
	Cancel(ctx context.Context, accountID uuid.UUID) error
	GetSubscription(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error)
}

type subscriptionResponse struct {
	ID                 string  `json:"id"`
	PlanID             string  `json:"plan_id"`
	Status             string  `json:"status"`
	CurrentPeriodStart *string `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *string `json:"current_period_end,omitempty"`
	TrialStartsAt      *string `json:"trial_starts_at,omitempty"`
	TrialEndsAt        *string `json:"trial_ends_at,omitempty"`
	CanceledAt         *string `json:"canceled_at,omitempty"`
	CreatedAt          string  `json:"created_at"`
}

type startTrialRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

type changePlanRequest struct {
	OldPlanID string `json:"old_plan_id" validate:"required"`
	NewPlanID string `json:"new_plan_id" validate:"required"`
}

type changePlanResponse struct {
	Action       string               `json:"action"`
	NumbersAdded int                  `json:"numbers_added"`
	Released     int                  `json:"numbers_released"`
	Subscription subscriptionResponse `json:"subscription"`
}

func SubscriptionFetch(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		accountID := middleware.AccountIDFromContext(ctx)
		if accountID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing account id"))
			return
		}

		sub, err := svc.GetSubscription(ctx, accountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, subscriptionToResponse(sub))
	}
}

func SubscriptionStartTrial(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		accountID := middleware.AccountIDFromContext(ctx)
		if accountID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing account id"))
			return
		}

		var payload startTrialRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		planID, err := enums.ParsePlanID(payload.PlanID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan id"))
			return
		}

		sub, err := svc.StartTrial(ctx, accountID, planID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, subscriptionToResponse(sub))
	}
}

func SubscriptionChangePlan(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		accountID := middleware.AccountIDFromContext(ctx)
		if accountID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing account id"))
			return
		}

		var payload changePlanRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		oldPlanID, err := enums.ParsePlanID(payload.OldPlanID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid old plan id"))
			return
		}
		newPlanID, err := enums.ParsePlanID(payload.NewPlanID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid new plan id"))
			return
		}

		result, err := svc.ChangePlan(ctx, accountID, oldPlanID, newPlanID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, changePlanResponse{
			Action:       result.Action,
			NumbersAdded: result.Added,
			Released:     result.Released,
			Subscription: subscriptionToResponse(result.Subscription),
		})
	}
}

func SubscriptionCancel(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		accountID := middleware.AccountIDFromContext(ctx)
		if accountID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing account id"))
			return
		}

		if err := svc.Cancel(ctx, accountID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "canceled"})
	}
}

func subscriptionToResponse(sub *models.Subscription) subscriptionResponse {
	if sub == nil {
		return subscriptionResponse{}
	}
	return subscriptionResponse{
		ID:                 sub.ID.String(),
		PlanID:             string(sub.PlanID),
		Status:             string(sub.Status),
		CurrentPeriodStart: formatTimePtr(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   formatTimePtr(sub.CurrentPeriodEnd),
		TrialStartsAt:      formatTimePtr(sub.TrialStartsAt),
		TrialEndsAt:        formatTimePtr(sub.TrialEndsAt),
		CanceledAt:         formatTimePtr(sub.CanceledAt),
		CreatedAt:          sub.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}
