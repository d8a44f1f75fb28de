package events

import (
	"time"

	"github.com/google/uuid"
)

// External event types accepted by the gateway.
const (
	EventCheckoutCompleted    = "checkout.completed"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
	EventCallEnded            = "call.ended"
)

// Ingest outcomes recorded on the ledger.
const (
	OutcomeApplied = "applied"
	OutcomeIgnored = "ignored"
	OutcomeFailed  = "failed"
)

// CheckoutCompletedPayload is the processor's checkout.completed body.
type CheckoutCompletedPayload struct {
	AccountID       uuid.UUID `json:"account_id"`
	PlanID          string    `json:"plan_id"`
	CustomerRef     string    `json:"customer_ref"`
	SubscriptionRef string    `json:"subscription_ref"`
}

// SubscriptionUpdatedPayload is the processor's subscription.updated body.
type SubscriptionUpdatedPayload struct {
	SubscriptionRef    string    `json:"subscription_ref"`
	Status             string    `json:"status"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
}

// SubscriptionCanceledPayload is the processor's subscription.canceled body.
type SubscriptionCanceledPayload struct {
	SubscriptionRef string `json:"subscription_ref"`
}

// CallEndedPayload is the telephony provider's call report.
type CallEndedPayload struct {
	CallID          string    `json:"call_id"`
	AccountID       uuid.UUID `json:"account_id"`
	DurationSeconds int64     `json:"duration_seconds"`
	CostCents       int64     `json:"cost_cents"`
	PhoneNumberID   string    `json:"phone_number_id"`
	IsTrial         bool      `json:"is_trial"`
}
