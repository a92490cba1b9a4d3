package main

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/bank-download/internal/jobs"
	"github.com/dvloznov/bank-download/internal/jobs/inmemory"
)

// savingPublisher records jobs in the store without running them.
type savingPublisher struct {
	store       jobs.JobStore
	PublishFunc func(job *jobs.SyncAccountJob) error
}

func (p *savingPublisher) PublishSyncAccount(ctx context.Context, job *jobs.SyncAccountJob) error {
	if p.PublishFunc != nil {
		if err := p.PublishFunc(job); err != nil {
			return err
		}
	}
	job.JobID = job.Account + "-" + job.Trigger
	job.Status = jobs.JobStatusPending
	return p.store.SaveJob(ctx, job)
}

func (p *savingPublisher) Close() error { return nil }

func TestSchedulerSkipsBusyAccounts(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	sched := newScheduler([]string{"checking", "card"}, &savingPublisher{store: store}, store)

	if n := sched.EnqueueAll(ctx); n != 2 {
		t.Fatalf("first EnqueueAll() = %d, want 2", n)
	}
	if n := sched.EnqueueAll(ctx); n != 0 {
		t.Errorf("EnqueueAll() with pending jobs = %d, want 0", n)
	}

	err := sched.PublishSyncAccount(ctx, &jobs.SyncAccountJob{Account: "card", Trigger: jobs.TriggerManual})
	if !errors.Is(err, errBusy) {
		t.Errorf("manual publish of a busy account error = %v, want errBusy", err)
	}

	if err := store.UpdateJobStatus(ctx, "checking-schedule", jobs.JobStatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateJobStatus(ctx, "card-schedule", jobs.JobStatusFailed, "session expired"); err != nil {
		t.Fatal(err)
	}
	if err := sched.PublishSyncAccount(ctx, &jobs.SyncAccountJob{Account: "card", Trigger: jobs.TriggerManual}); err != nil {
		t.Errorf("publish after the previous job failed: %v", err)
	}
}

func TestSchedulerContinuesAfterPublishError(t *testing.T) {
	store := inmemory.NewStore()
	pub := &savingPublisher{store: store, PublishFunc: func(job *jobs.SyncAccountJob) error {
		if job.Account == "checking" {
			return errors.New("queue is closed")
		}
		return nil
	}}
	sched := newScheduler([]string{"checking", "card"}, pub, store)

	if n := sched.EnqueueAll(context.Background()); n != 1 {
		t.Errorf("EnqueueAll() = %d, want 1", n)
	}
	list, _ := store.ListJobs(context.Background(), jobs.JobFilter{})
	if len(list) != 1 || list[0].Account != "card" {
		t.Errorf("queued jobs = %+v", list)
	}
}
