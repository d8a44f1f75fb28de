package cron

import (
	"context"
	"testing"
	"time"
)

type fakePruner struct {
	cutoff  time.Time
	batch   int
	deleted int64
}

func (f *fakePruner) DeleteOlderThan(_ context.Context, cutoff time.Time, batch int) (int64, error) {
	f.cutoff = cutoff
	f.batch = batch
	return f.deleted, nil
}

func TestLedgerRetentionJobUsesConfiguredHorizon(t *testing.T) {
	pruner := &fakePruner{deleted: 5}
	job, err := NewLedgerRetentionJob(LedgerRetentionJobParams{
		Logger:    testLogger(),
		Ledger:    pruner,
		Retention: 48 * time.Hour,
		Batch:     500,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if pruner.batch != 500 {
		t.Fatalf("expected batch 500, got %d", pruner.batch)
	}
	expected := time.Now().UTC().Add(-48 * time.Hour)
	if pruner.cutoff.Before(expected.Add(-time.Minute)) || pruner.cutoff.After(expected.Add(time.Minute)) {
		t.Fatalf("cutoff %v not near expected %v", pruner.cutoff, expected)
	}
}

func TestLedgerRetentionJobDefaults(t *testing.T) {
	pruner := &fakePruner{}
	job, err := NewLedgerRetentionJob(LedgerRetentionJobParams{
		Logger: testLogger(),
		Ledger: pruner,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if pruner.batch != defaultLedgerBatch {
		t.Fatalf("expected default batch, got %d", pruner.batch)
	}
}
