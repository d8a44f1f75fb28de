package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ringdesk/ringdesk-backend/internal/subscriptions"
	"github.com/ringdesk/ringdesk-backend/pkg/db/models"
	"github.com/ringdesk/ringdesk-backend/pkg/enums"
	pkgerrors "github.com/ringdesk/ringdesk-backend/pkg/errors"
	"github.com/ringdesk/ringdesk-backend/pkg/logger"
)

// stateMachine is the command surface the gateway drives.
type stateMachine interface {
	CompleteCheckout(ctx context.Context, accountID uuid.UUID, planID enums.PlanID, refs subscriptions.CheckoutRefs) (*models.Subscription, error)
	ApplyProcessorUpdate(ctx context.Context, subscriptionRef string, status enums.SubscriptionStatus, periodStart, periodEnd time.Time) error
	CancelByRef(ctx context.Context, subscriptionRef string) error
}

// callMeter records finished calls against usage counters.
type callMeter interface {
	RecordCall(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, minutes decimal.Decimal, isTrial bool) error
}

// txRunner executes a function inside one database transaction.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// IngestResult tells the webhook controller what happened so it can choose
// the response status.
type IngestResult struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// Service is the ingestion gateway. Every externally delivered event passes
// the idempotency ledger before any command runs: providers retry webhook
// delivery, so an event id seen once must never take effect twice.
type Service interface {
	Ingest(ctx context.Context, externalEventID, eventType string, payload json.RawMessage) (*IngestResult, error)
}

// ServiceParams groups dependencies for the gateway.
type ServiceParams struct {
	Ledger            Repository
	Subscriptions     stateMachine
	Usage             callMeter
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	ledger Repository
	subs   stateMachine
	usage  callMeter
	runner txRunner
	logg   *logger.Logger
	now    func() time.Time
}

// NewService builds the gateway with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("state machine required")
	}
	if params.Usage == nil {
		return nil, fmt.Errorf("usage meter required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		ledger: params.Ledger,
		subs:   params.Subscriptions,
		usage:  params.Usage,
		runner: params.TransactionRunner,
		logg:   params.Logger,
		now:    time.Now,
	}, nil
}

// Ingest applies one external event at most once. Duplicates return the prior
// outcome without reprocessing. Unknown event types are acknowledged and
// recorded as ignored so the sender stops retrying. A transient command
// failure leaves no ledger row and surfaces the error so the controller can
// request redelivery; a permanent failure is recorded and acknowledged.
func (s *service) Ingest(ctx context.Context, externalEventID, eventType string, payload json.RawMessage) (*IngestResult, error) {
	if externalEventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external event id is required")
	}
	if eventType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event type is required")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event_id":   externalEventID,
		"event_type": eventType,
	})

	prior, err := s.ledger.Find(ctx, externalEventID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		s.logg.Info(logCtx, "duplicate event acknowledged")
		return &IngestResult{Received: true, Duplicate: true, Outcome: prior.Outcome}, nil
	}

	outcome := OutcomeApplied
	var dispatchErr error
	if eventType == EventCallEnded {
		dispatchErr = s.applyCallEnded(ctx, externalEventID, payload)
		if dispatchErr == nil {
			// Counters and ledger row committed together.
			return &IngestResult{Received: true, Outcome: OutcomeApplied}, nil
		}
	} else {
		dispatchErr = s.dispatch(ctx, eventType, payload)
	}
	switch {
	case dispatchErr == nil:
	case errors.Is(dispatchErr, errUnknownEventType):
		outcome = OutcomeIgnored
		s.logg.Info(logCtx, "unknown event type acknowledged")
	case isTransient(dispatchErr):
		// No ledger row: the redelivery should get another attempt.
		return nil, dispatchErr
	default:
		outcome = OutcomeFailed
		s.logg.Error(logCtx, "event side effect failed, acknowledging for manual reconciliation", dispatchErr)
	}

	if err := s.ledger.Record(ctx, &models.ProcessedEvent{
		ExternalEventID: externalEventID,
		EventType:       eventType,
		Outcome:         outcome,
		ProcessedAt:     s.now().UTC(),
	}); err != nil {
		return nil, err
	}
	return &IngestResult{Received: true, Outcome: outcome}, nil
}

func (s *service) dispatch(ctx context.Context, eventType string, payload json.RawMessage) error {
	switch eventType {
	case EventCheckoutCompleted:
		var body CheckoutCompletedPayload
		if err := json.Unmarshal(payload, &body); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed checkout payload")
		}
		planID, err := enums.ParsePlanID(body.PlanID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown plan in checkout payload")
		}
		_, err = s.subs.CompleteCheckout(ctx, body.AccountID, planID, subscriptions.CheckoutRefs{
			CustomerRef:     body.CustomerRef,
			SubscriptionRef: body.SubscriptionRef,
		})
		return err

	case EventSubscriptionUpdated:
		var body SubscriptionUpdatedPayload
		if err := json.Unmarshal(payload, &body); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed subscription payload")
		}
		status, err := enums.ParseSubscriptionStatus(body.Status)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown status in subscription payload")
		}
		return s.subs.ApplyProcessorUpdate(ctx, body.SubscriptionRef, status, body.CurrentPeriodStart, body.CurrentPeriodEnd)

	case EventSubscriptionCanceled:
		var body SubscriptionCanceledPayload
		if err := json.Unmarshal(payload, &body); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed cancellation payload")
		}
		return s.subs.CancelByRef(ctx, body.SubscriptionRef)

	default:
		return fmt.Errorf("%w: %s", errUnknownEventType, eventType)
	}
}

// applyCallEnded commits the usage increment and the ledger row in one
// transaction. Call reports add to counters on every effect, so a redelivery
// must never find the increment committed without its ledger row.
func (s *service) applyCallEnded(ctx context.Context, externalEventID string, payload json.RawMessage) error {
	var body CallEndedPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed call payload")
	}
	minutes := decimal.NewFromInt(body.DurationSeconds).Div(decimal.NewFromInt(60))
	return s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.usage.RecordCall(ctx, tx, body.AccountID, minutes, body.IsTrial); err != nil {
			return err
		}
		return s.ledger.WithTx(tx).Record(ctx, &models.ProcessedEvent{
			ExternalEventID: externalEventID,
			EventType:       EventCallEnded,
			Outcome:         OutcomeApplied,
			ProcessedAt:     s.now().UTC(),
		})
	})
}

var errUnknownEventType = errors.New("unknown event type")

// isTransient reports whether a redelivery could succeed where this attempt
// failed. Non-coded errors count as transient so nothing permanent is
// recorded on an unclassified failure.
func isTransient(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	return pkgerrors.MetadataFor(typed.Code()).Retryable
}
