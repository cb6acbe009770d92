package inmemory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/inboxledger/inboxledger/internal/jobs"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublishAssignsDefaults(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	job := &jobs.SyncUserJob{UserID: "u1"}
	if err := q.PublishSyncUser(context.Background(), job); err != nil {
		t.Fatalf("PublishSyncUser: %v", err)
	}

	if job.JobID == "" {
		t.Error("job id not assigned")
	}
	if job.Status != jobs.JobStatusPending {
		t.Errorf("status = %s, want pending", job.Status)
	}
	if job.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
	if job.MaxRetries == 0 {
		t.Error("max retries not defaulted")
	}

	saved, err := store.GetJob(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if saved.UserID != "u1" {
		t.Errorf("saved user = %q", saved.UserID)
	}
}

func TestQueueProcessesJobs(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 2, store)
	defer q.Close()

	var mu sync.Mutex
	var handled []string
	handler := func(ctx context.Context, job jobs.Job) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, job.(*jobs.SyncUserJob).UserID)
		return nil
	}

	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, user := range []string{"u1", "u2", "u3"} {
		if err := q.PublishSyncUser(context.Background(), &jobs.SyncUserJob{UserID: user}); err != nil {
			t.Fatalf("PublishSyncUser(%s): %v", user, err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 3
	})

	done, err := store.ListJobs(context.Background(), jobs.JobFilter{Status: jobs.JobStatusCompleted})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(done) != 3 {
		t.Errorf("completed jobs = %d, want 3", len(done))
	}
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	var mu sync.Mutex
	attempts := 0
	handler := func(ctx context.Context, job jobs.Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 2 {
			return errors.New("transient failure")
		}
		return nil
	}

	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.SyncUserJob{UserID: "u1", MaxRetries: 2}
	if err := q.PublishSyncUser(context.Background(), job); err != nil {
		t.Fatalf("PublishSyncUser: %v", err)
	}

	waitFor(t, func() bool {
		saved, err := store.GetJob(context.Background(), job.JobID)
		return err == nil && saved.Status == jobs.JobStatusCompleted
	})

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestQueueMarksExhaustedJobsFailed(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	handler := func(ctx context.Context, job jobs.Job) error {
		return errors.New("always failing")
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.SyncUserJob{UserID: "u1", MaxRetries: 1}
	if err := q.PublishSyncUser(context.Background(), job); err != nil {
		t.Fatalf("PublishSyncUser: %v", err)
	}

	waitFor(t, func() bool {
		saved, err := store.GetJob(context.Background(), job.JobID)
		return err == nil && saved.Status == jobs.JobStatusFailed
	})

	saved, _ := store.GetJob(context.Background(), job.JobID)
	if saved.Error == "" {
		t.Error("failed job has no error detail")
	}
	if saved.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", saved.RetryCount)
	}
}

func TestPublishAfterStopFails(t *testing.T) {
	q := NewQueue(10, 1, NewStore())
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	err := q.PublishSyncUser(context.Background(), &jobs.SyncUserJob{UserID: "u1"})
	if err == nil {
		t.Error("publish on a stopped queue succeeded")
	}
}

func TestStopWaitsForInFlightJobs(t *testing.T) {
	q := NewQueue(10, 1, NewStore())

	started := make(chan struct{})
	release := make(chan struct{})
	handler := func(ctx context.Context, job jobs.Job) error {
		close(started)
		<-release
		return nil
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := q.PublishSyncUser(context.Background(), &jobs.SyncUserJob{UserID: "u1"}); err != nil {
		t.Fatalf("PublishSyncUser: %v", err)
	}
	<-started

	stopDone := make(chan error, 1)
	go func() { stopDone <- q.Stop(context.Background()) }()

	select {
	case <-stopDone:
		t.Fatal("Stop returned while a job was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-stopDone; err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
