package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ringdesk/ringdesk-backend/internal/cron"
	"github.com/ringdesk/ringdesk-backend/internal/events"
	"github.com/ringdesk/ringdesk-backend/internal/numbers"
	"github.com/ringdesk/ringdesk-backend/internal/plans"
	"github.com/ringdesk/ringdesk-backend/internal/subscriptions"
	"github.com/ringdesk/ringdesk-backend/internal/trials"
	"github.com/ringdesk/ringdesk-backend/internal/usage"
	"github.com/ringdesk/ringdesk-backend/pkg/config"
	"github.com/ringdesk/ringdesk-backend/pkg/db"
	"github.com/ringdesk/ringdesk-backend/pkg/logger"
	"github.com/ringdesk/ringdesk-backend/pkg/metrics"
	"github.com/ringdesk/ringdesk-backend/pkg/migrate"
	"github.com/ringdesk/ringdesk-backend/pkg/outbox"
	"github.com/ringdesk/ringdesk-backend/pkg/redis"
	"github.com/ringdesk/ringdesk-backend/pkg/telephony"
)

const lockKeyFormat = "cron-worker:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	trialExpiryJob, err := cron.NewTrialExpiryJob(cron.TrialExpiryJobParams{
		Logger:        logg,
		Subscriptions: subscriptionsService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create trial expiry job", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(trialExpiryJob)

	if cfg.Cron.LedgerRetentionEnabled {
		ledgerRetentionJob, err := cron.NewLedgerRetentionJob(cron.LedgerRetentionJobParams{
			Logger:    logg,
			Ledger:    events.NewRepository(dbClient.DB()),
			Retention: cfg.Cron.LedgerRetention,
			Batch:     cfg.Cron.LedgerRetentionBatch,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create ledger retention job", err)
			os.Exit(1)
		}
		registry.Register(ledgerRetentionJob)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockKey(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.TrialExpiryInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
