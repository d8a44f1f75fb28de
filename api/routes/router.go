package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ringdesk/ringdesk-backend/api/controllers"
	billingcontrollers "github.com/ringdesk/ringdesk-backend/api/controllers/billing"
	webhookcontrollers "github.com/ringdesk/ringdesk-backend/api/controllers/webhooks"
	"github.com/ringdesk/ringdesk-backend/api/middleware"
	"github.com/ringdesk/ringdesk-backend/internal/events"
	"github.com/ringdesk/ringdesk-backend/internal/plans"
	"github.com/ringdesk/ringdesk-backend/pkg/config"
	"github.com/ringdesk/ringdesk-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP pinger,
	redisP pinger,
	catalog *plans.Catalog,
	subscriptionsService billingcontrollers.SubscriptionService,
	usageService billingcontrollers.UsageService,
	numbersService billingcontrollers.PhoneNumberService,
	ingestGateway webhookcontrollers.IngestGateway,
	paymentGuard *events.DeliveryGuard,
	telephonyGuard *events.DeliveryGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payment", webhookcontrollers.PaymentWebhook(ingestGateway, paymentGuard, cfg.Stripe.WebhookSecret, logg))
		r.Post("/telephony", webhookcontrollers.TelephonyWebhook(ingestGateway, telephonyGuard, cfg.Telephony.WebhookSecret, logg))
	})

	r.Get("/api/v1/plans", billingcontrollers.PlanList(catalog, logg))

	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", billingcontrollers.SubscriptionFetch(subscriptionsService, logg))
			r.Post("/trial", billingcontrollers.SubscriptionStartTrial(subscriptionsService, logg))
			r.Post("/change-plan", billingcontrollers.SubscriptionChangePlan(subscriptionsService, logg))
			r.Post("/cancel", billingcontrollers.SubscriptionCancel(subscriptionsService, logg))
		})

		r.Route("/usage", func(r chi.Router) {
			r.Get("/", billingcontrollers.UsageSummary(usageService, logg))
			r.Get("/can-make-call", billingcontrollers.CanMakeCall(usageService, logg))
		})

		r.Route("/phone-numbers", func(r chi.Router) {
			r.Get("/", billingcontrollers.PhoneNumberList(numbersService, logg))
			r.Post("/assign", billingcontrollers.PhoneNumberAssignAssistant(numbersService, logg))
		})
	})

	return r
}
