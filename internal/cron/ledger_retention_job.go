package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/ringdesk/ringdesk-backend/pkg/logger"
)

const (
	defaultLedgerRetention = 30 * 24 * time.Hour
	defaultLedgerBatch     = 1000
)

type ledgerPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

// LedgerRetentionJobParams configure the processed-event retention sweep.
type LedgerRetentionJobParams struct {
	Logger    *logger.Logger
	Ledger    ledgerPruner
	Retention time.Duration
	Batch     int
}

// NewLedgerRetentionJob builds the job that prunes idempotency ledger rows
// older than the retention horizon. Providers stop retrying deliveries long
// before the horizon, so pruned ids cannot come back.
func NewLedgerRetentionJob(params LedgerRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultLedgerRetention
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultLedgerBatch
	}
	return &ledgerRetentionJob{
		logg:      params.Logger,
		ledger:    params.Ledger,
		retention: retention,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type ledgerRetentionJob struct {
	logg      *logger.Logger
	ledger    ledgerPruner
	retention time.Duration
	batch     int
	now       func() time.Time
}

func (j *ledgerRetentionJob) Name() string { return "ledger-retention" }

func (j *ledgerRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.ledger.DeleteOlderThan(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("ledger retention: %w", err)
	}
	if deleted > 0 {
		j.logg.Info(j.logg.WithField(ctx, "deleted", deleted), "processed events pruned")
	}
	return nil
}
