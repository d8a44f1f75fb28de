package cron

import (
	"context"
	"fmt"

	"github.com/ringdesk/ringdesk-backend/pkg/logger"
)

const defaultTrialExpiryBatch = 100

type trialExpirer interface {
	ExpireDueTrials(ctx context.Context, batch int) (int, error)
}

// TrialExpiryJobParams configure the trial expiry sweep.
type TrialExpiryJobParams struct {
	Logger        *logger.Logger
	Subscriptions trialExpirer
	Batch         int
}

// NewTrialExpiryJob builds the job that cancels trials whose window passed
// without conversion.
func NewTrialExpiryJob(params TrialExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscriptions service required")
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultTrialExpiryBatch
	}
	return &trialExpiryJob{
		logg:  params.Logger,
		subs:  params.Subscriptions,
		batch: batch,
	}, nil
}

type trialExpiryJob struct {
	logg  *logger.Logger
	subs  trialExpirer
	batch int
}

func (j *trialExpiryJob) Name() string { return "trial-expiry" }

func (j *trialExpiryJob) Run(ctx context.Context) error {
	processed, err := j.subs.ExpireDueTrials(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("trial expiry: %w", err)
	}
	if processed > 0 {
		j.logg.Info(j.logg.WithField(ctx, "expired", processed), "expired trials canceled")
	}
	return nil
}
