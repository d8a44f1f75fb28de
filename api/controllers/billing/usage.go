package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/ringdesk/ringdesk-backend/api/middleware"
	"github.com/ringdesk/ringdesk-backend/api/responses"
	usagesvc "github.com/ringdesk/ringdesk-backend/internal/usage"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
	"github.com/ringdesk/ringdesk-backend/pkg/logger"
)

// UsageService describes the usage meter methods used by the HTTP
// controllers.
type UsageService interface {
	GetUsageSummary(ctx context.Context, accountID uuid.UUID) (*usagesvc.Summary, error)
	CanMakeCall(ctx context.Context, accountID uuid.UUID) (*usagesvc.CallPermission, error)
}

type usageResponse struct {
	CallsMade           int    `json:"calls_made"`
	MinutesUsed         string `json:"minutes_used"`
	MinutesIncluded     int    `json:"minutes_included"`
	MinutesRemaining    string `json:"minutes_remaining"`
	OverageMinutes      string `json:"overage_minutes"`
	OverageChargesCents int64  `json:"overage_charges_cents"`
	FairUseCallCap      int    `json:"fair_use_call_cap"`
	CallsRemaining      int    `json:"calls_remaining"`
}

func UsageSummary(svc UsageService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}

		accountID := middleware.AccountIDFromContext(ctx)
		if accountID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing account id"))
			return
		}

		summary, err := svc.GetUsageSummary(ctx, accountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, usageResponse{
			CallsMade:           summary.CallsMade,
			MinutesUsed:         summary.MinutesUsed.StringFixed(1),
			MinutesIncluded:     summary.MinutesIncluded,
			MinutesRemaining:    summary.MinutesRemaining.StringFixed(1),
			OverageMinutes:      summary.OverageMinutes.StringFixed(1),
			OverageChargesCents: summary.OverageChargesCents,
			FairUseCallCap:      summary.FairUseCallCap,
			CallsRemaining:      summary.CallsRemaining,
		})
	}
}

func CanMakeCall(svc UsageService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}

		accountID := middleware.AccountIDFromContext(ctx)
		if accountID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing account id"))
			return
		}

		permission, err := svc.CanMakeCall(ctx, accountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, permission)
	}
}
