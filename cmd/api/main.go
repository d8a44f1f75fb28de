package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/ringdesk/ringdesk-backend/api/routes"
	"github.com/ringdesk/ringdesk-backend/internal/events"
	"github.com/ringdesk/ringdesk-backend/internal/numbers"
	"github.com/ringdesk/ringdesk-backend/internal/plans"
	"github.com/ringdesk/ringdesk-backend/internal/subscriptions"
	"github.com/ringdesk/ringdesk-backend/internal/trials"
	"github.com/ringdesk/ringdesk-backend/internal/usage"
	"github.com/ringdesk/ringdesk-backend/pkg/config"
	"github.com/ringdesk/ringdesk-backend/pkg/db"
	"github.com/ringdesk/ringdesk-backend/pkg/logger"
	"github.com/ringdesk/ringdesk-backend/pkg/migrate"
	"github.com/ringdesk/ringdesk-backend/pkg/outbox"
	"github.com/ringdesk/ringdesk-backend/pkg/redis"
	"github.com/ringdesk/ringdesk-backend/pkg/telephony"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	provider, err := telephony.NewClient(cfg.Telephony)
	if err != nil {
		logg.Error(context.Background(), "failed to create telephony client", err)
		os.Exit(1)
	}

	catalog := plans.Default()

	numbersService, err := numbers.NewService(numbers.ServiceParams{
		Repo:     numbers.NewRepository(dbClient.DB()),
		Provider: provider,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create numbers service", err)
		os.Exit(1)
	}

	subscriptionsRepo := subscriptions.NewRepository(dbClient.DB())

	trialsService, err := trials.NewService(trials.ServiceParams{
		Repo:          trials.NewRepository(dbClient.DB()),
		Subscriptions: subscriptionsRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create trials service", err)
		os.Exit(1)
	}

	usageService, err := usage.NewService(usage.ServiceParams{
		Repo:          usage.NewRepository(dbClient.DB()),
		Catalog:       catalog,
		Subscriptions: subscriptionsRepo,
		Trials:        trialsService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create usage service", err)
		os.Exit(1)
	}

	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	subscriptionsService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptionsRepo,
		Catalog:           catalog,
		Allocator:         numbersService,
		Usage:             usageService,
		Trials:            trialsService,
		Emitter:           emitter,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	ingestGateway, err := events.NewService(events.ServiceParams{
		Ledger:            events.NewRepository(dbClient.DB()),
		Subscriptions:     subscriptionsService,
		Usage:             usageService,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ingest gateway", err)
		os.Exit(1)
	}

	paymentGuard, err := events.NewDeliveryGuard(redisClient, "payment-webhook", 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment delivery guard", err)
		os.Exit(1)
	}
	telephonyGuard, err := events.NewDeliveryGuard(redisClient, "telephony-webhook", 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create telephony delivery guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			catalog,
			subscriptionsService,
			usageService,
			numbersService,
			ingestGateway,
			paymentGuard,
			telephonyGuard,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
