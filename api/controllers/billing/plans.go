package billing

import (
	"net/http"

	"github.com/ringdesk/ringdesk-backend/api/responses"
	"github.com/ringdesk/ringdesk-backend/internal/plans"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
	"github.com/ringdesk/ringdesk-backend/pkg/logger"
)

type planResponse struct {
	ID                    string `json:"id"`
	PhoneNumberLimit      int    `json:"phone_number_limit"`
	MinutesIncluded       int    `json:"minutes_included"`
	FairUseCallCap        int    `json:"fair_use_call_cap"`
	OveragePerMinuteCents int64  `json:"overage_per_minute_cents"`
	TrialDurationDays     int    `json:"trial_duration_days"`
	OveragePolicy         string `json:"overage_policy"`
}

type planListResponse struct {
	Plans []planResponse `json:"plans"`
}

// PlanList exposes the plan catalog. It is a public endpoint so pricing
// pages can render tiers without a session.
func PlanList(catalog *plans.Catalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if catalog == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog unavailable"))
			return
		}

		tiers := catalog.Tiers()
		result := make([]planResponse, 0, len(tiers))
		for _, tier := range tiers {
			result = append(result, planResponse{
				ID:                    string(tier.ID),
				PhoneNumberLimit:      tier.PhoneNumberLimit,
				MinutesIncluded:       tier.MinutesIncluded,
				FairUseCallCap:        tier.FairUseCallCap,
				OveragePerMinuteCents: tier.OveragePerMinuteCents,
				TrialDurationDays:     tier.TrialDurationDays,
				OveragePolicy:         string(tier.OveragePolicy),
			})
		}
		responses.WriteSuccess(w, planListResponse{Plans: result})
	}
}
