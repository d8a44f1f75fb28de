package cron

import (
	"context"
	"errors"
	"testing"
)

type fakeExpirer struct {
	processed int
	batch     int
	err       error
}

func (f *fakeExpirer) ExpireDueTrials(_ context.Context, batch int) (int, error) {
	f.batch = batch
	if f.err != nil {
		return 0, f.err
	}
	return f.processed, nil
}

func TestTrialExpiryJobRunsSweep(t *testing.T) {
	expirer := &fakeExpirer{processed: 3}
	job, err := NewTrialExpiryJob(TrialExpiryJobParams{
		Logger:        testLogger(),
		Subscriptions: expirer,
		Batch:         25,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if expirer.batch != 25 {
		t.Fatalf("expected batch 25, got %d", expirer.batch)
	}
}

func TestTrialExpiryJobDefaultsBatch(t *testing.T) {
	expirer := &fakeExpirer{}
	job, err := NewTrialExpiryJob(TrialExpiryJobParams{
		Logger:        testLogger(),
		Subscriptions: expirer,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if expirer.batch != defaultTrialExpiryBatch {
		t.Fatalf("expected default batch, got %d", expirer.batch)
	}
}

func TestTrialExpiryJobSurfacesErrors(t *testing.T) {
	job, err := NewTrialExpiryJob(TrialExpiryJobParams{
		Logger:        testLogger(),
		Subscriptions: &fakeExpirer{err: errors.New("db down")},
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
