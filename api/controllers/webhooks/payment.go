package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/ringdesk/ringdesk-backend/api/responses"
	"github.com/ringdesk/ringdesk-backend/internal/events"
	"github.com/ringdesk/ringdesk-backend/pkg/enums"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
	"github.com/ringdesk/ringdesk-backend/pkg/logger"
)

// IngestGateway applies one external event at most once.
type IngestGateway interface {
	Ingest(ctx context.Context, externalEventID, eventType string, payload json.RawMessage) (*events.IngestResult, error)
}

type deliveryGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// PaymentWebhook handles payment processor subscription lifecycle events.
// Signature verification happens before any payload parsing; the redis guard
// sheds concurrent redeliveries and the gateway's ledger dedupes durably.
func PaymentWebhook(gateway IngestGateway, guard deliveryGuard, signingSecret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if gateway == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ingest gateway unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, signingSecret)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verify signature"))
			return
		}

		if logg != nil {
			ctx = logg.WithEventID(ctx, event.ID)
		}

		eventType, body, err := translatePaymentEvent(event)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		alreadyProcessing, err := guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check delivery guard"))
			return
		}
		if alreadyProcessing {
			responses.WriteSuccess(w, events.IngestResult{Received: true, Duplicate: true})
			return
		}

		result, err := gateway.Ingest(ctx, event.ID, eventType, body)
		if err != nil {
			// Clear the edge mark so the processor's retry is not shed
			// before it reaches the ledger.
			_ = guard.Delete(ctx, event.ID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// translatePaymentEvent maps Stripe's event types and object shapes onto the
// gateway vocabulary. Types the gateway has no command for pass through
// unchanged so the ledger still records them as ignored.
func translatePaymentEvent(event stripe.Event) (string, json.RawMessage, error) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return "", nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed checkout session")
		}
		accountID, err := uuid.Parse(session.ClientReferenceID)
		if err != nil {
			return "", nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "checkout session client_reference_id is not an account id")
		}
		body := events.CheckoutCompletedPayload{
			AccountID:       accountID,
			PlanID:          session.Metadata["plan_id"],
			CustomerRef:     stripeCustomerRef(session.Customer),
			SubscriptionRef: stripeSubscriptionRef(session.Subscription),
		}
		return marshalTranslated(events.EventCheckoutCompleted, body)

	case stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed subscription object")
		}
		status, err := translateProcessorStatus(sub.Status)
		if err != nil {
			return "", nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "translate subscription status")
		}
		body := events.SubscriptionUpdatedPayload{
			SubscriptionRef:    sub.ID,
			Status:             status,
			CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
			CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		}
		return marshalTranslated(events.EventSubscriptionUpdated, body)

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed subscription object")
		}
		return marshalTranslated(events.EventSubscriptionCanceled, events.SubscriptionCanceledPayload{
			SubscriptionRef: sub.ID,
		})

	default:
		return string(event.Type), event.Data.Raw, nil
	}
}

// translateProcessorStatus folds Stripe's wider status set onto the four
// lifecycle states the state machine tracks.
func translateProcessorStatus(status stripe.SubscriptionStatus) (string, error) {
	switch status {
	case stripe.SubscriptionStatusTrialing:
		return enums.SubscriptionStatusTrialing.String(), nil
	case stripe.SubscriptionStatusActive:
		return enums.SubscriptionStatusActive.String(), nil
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return enums.SubscriptionStatusPastDue.String(), nil
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return enums.SubscriptionStatusCanceled.String(), nil
	default:
		return "", fmt.Errorf("unmapped processor status %q", status)
	}
}

func marshalTranslated(eventType string, body any) (string, json.RawMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal translated payload")
	}
	return eventType, raw, nil
}

func stripeCustomerRef(customer *stripe.Customer) string {
	if customer == nil {
		return ""
	}
	return customer.ID
}

func stripeSubscriptionRef(sub *stripe.Subscription) string {
	if sub == nil {
		return ""
	}
	return sub.ID
}
