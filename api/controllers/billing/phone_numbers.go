package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ringdesk/ringdesk-backend/api/middleware"
	"github.com/ringdesk/ringdesk-backend/api/responses"
	"github.com/ringdesk/ringdesk-backend/api/validators"
	"github.com/ringdesk/ringdesk-backend/pkg/db/models"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
	"github.com/ringdesk/ringdesk-backend/pkg/logger"
)

// PhoneNumberService describes the allocation methods used by the HTTP
// controllers.
type PhoneNumberService interface {
	ListActive(ctx context.Context, accountID uuid.UUID) ([]models.PhoneNumberAllocation, error)
	AssignAssistant(ctx context.Context, accountID uuid.UUID, number string, assistantID uuid.UUID) error
}

type phoneNumberResponse struct {
	ID                  string  `json:"id"`
	Number              string  `json:"number"`
	Status              string  `json:"status"`
	AssignedAssistantID *string `json:"assigned_assistant_id,omitempty"`
	AllocatedAt         string  `json:"allocated_at"`
}

type phoneNumberListResponse struct {
	PhoneNumbers []phoneNumberResponse `json:"phone_numbers"`
}

type assignAssistantRequest struct {
	Number      string `json:"number" validate:"required"`
	AssistantID string `json:"assistant_id" validate:"required,uuid"`
}

func PhoneNumberList(svc PhoneNumberService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "phone number service unavailable"))
			return
		}

		accountID := middleware.AccountIDFromContext(ctx)
		if accountID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing account id"))
			return
		}

		allocations, err := svc.ListActive(ctx, accountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result := make([]phoneNumberResponse, 0, len(allocations))
		for _, allocation := range allocations {
			entry := phoneNumberResponse{
				ID:          allocation.ID.String(),
				Number:      allocation.Number,
				Status:      string(allocation.Status),
				AllocatedAt: allocation.AllocatedAt.UTC().Format(time.RFC3339),
			}
			if allocation.AssignedAssistantID != nil {
				assistantID := allocation.AssignedAssistantID.String()
				entry.AssignedAssistantID = &assistantID
			}
			result = append(result, entry)
		}
		responses.WriteSuccess(w, phoneNumberListResponse{PhoneNumbers: result})
	}
}

func PhoneNumberAssignAssistant(svc PhoneNumberService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "phone number service unavailable"))
			return
		}

		accountID := middleware.AccountIDFromContext(ctx)
		if accountID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing account id"))
			return
		}

		var payload assignAssistantRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		assistantID, err := uuid.Parse(payload.AssistantID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid assistant id"))
			return
		}

		if err := svc.AssignAssistant(ctx, accountID, payload.Number, assistantID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "assigned"})
	}
}
