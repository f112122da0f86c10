package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mathcivilce/mailsync/internal/models"
)

// processorFunc adapts a function to the ChunkProcessor interface.
type processorFunc func(ctx context.Context, job *models.SyncJob, chunk *models.ChunkJob) (*Outcome, error)

func (f processorFunc) Process(ctx context.Context, job *models.SyncJob, chunk *models.ChunkJob) (*Outcome, error) {
	return f(ctx, job, chunk)
}

func okProcessor() ChunkProcessor {
	return processorFunc(func(ctx context.Context, job *models.SyncJob, chunk *models.ChunkJob) (*Outcome, error) {
		return &Outcome{Fetched: 10}, nil
	})
}

func newRunnerFixture(jobID string, chunks, maxAttempts int, processor ChunkProcessor) (*memStore, *fakeNotifier, *Runner) {
	store := newMemStore()
	store.seedJob(jobID, chunks, maxAttempts)
	notifier := &fakeNotifier{}
	jobs := jobStoreAdapter{store}
	coord := NewCoordinator(store, jobs, notifier)
	runner := NewRunner(store, jobs, processor, coord)
	return store, notifier, runner
}

func TestRunJob_AllChunksComplete(t *testing.T) {
	store, _, runner := newRunnerFixture("job-1", 3, 3, okProcessor())
	ctx := context.Background()

	if err := runner.RunJob(ctx, "job-1"); err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}

	job, _ := store.GetJobByID(ctx, "job-1")
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected job completed, got %s", job.Status)
	}
	for _, c := range store.jobChunks("job-1") {
		if c.Status != models.ChunkStatusCompleted {
			t.Errorf("chunk %d: expected completed, got %s", c.Seq, c.Status)
		}
		if c.AttemptCount != 1 {
			t.Errorf("chunk %d: expected 1 attempt, got %d", c.Seq, c.AttemptCount)
		}
	}
}

func TestRunJob_RetryableFailureThenSuccess(t *testing.T) {
	// Chunk 2 fails with a retryable error on its first attempt and
	// succeeds on the second. The whole job still converges in one run
	// because the runner keeps claiming after a retry.
	processor := processorFunc(func(ctx context.Context, job *models.SyncJob, chunk *models.ChunkJob) (*Outcome, error) {
		if chunk.Seq == 2 && chunk.AttemptCount == 1 {
			return nil, Transient("provider returned 503", nil)
		}
		return &Outcome{Fetched: 10}, nil
	})
	store, _, runner := newRunnerFixture("job-1", 3, 3, processor)
	ctx := context.Background()

	if err := runner.RunJob(ctx, "job-1"); err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}

	job, _ := store.GetJobByID(ctx, "job-1")
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected job completed, got %s", job.Status)
	}

	chunk2, _ := store.GetByID(ctx, "job-1-chunk-2")
	if chunk2.Status != models.ChunkStatusCompleted {
		t.Errorf("expected chunk 2 completed, got %s", chunk2.Status)
	}
	if chunk2.AttemptCount != 2 {
		t.Errorf("expected chunk 2 attempt count 2, got %d", chunk2.AttemptCount)
	}
}

func TestRunJob_PermanentFailureHaltsJob(t *testing.T) {
	processor := processorFunc(func(ctx context.Context, job *models.SyncJob, chunk *models.ChunkJob) (*Outcome, error) {
		return nil, Permanent("refresh token revoked", nil)
	})
	store, _, runner := newRunnerFixture("job-1", 2, 3, processor)
	ctx := context.Background()

	if err := runner.RunJob(ctx, "job-1"); err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}

	job, _ := store.GetJobByID(ctx, "job-1")
	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected job failed, got %s", job.Status)
	}

	chunk1, _ := store.GetByID(ctx, "job-1-chunk-1")
	if chunk1.Status != models.ChunkStatusFailed {
		t.Errorf("expected chunk 1 failed, got %s", chunk1.Status)
	}
	chunk2, _ := store.GetByID(ctx, "job-1-chunk-2")
	if chunk2.Status != models.ChunkStatusQueued {
		t.Errorf("chunk 2 should never have been touched, got %s", chunk2.Status)
	}
}

func TestRunJob_TerminalJobRejected(t *testing.T) {
	store, _, runner := newRunnerFixture("job-1", 1, 3, okProcessor())
	ctx := context.Background()

	if err := store.MarkJobFailed(ctx, "job-1", nil); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	err := runner.RunJob(ctx, "job-1")
	if !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}
}

func TestRunJob_SweepReclaimsAbandonedChunk(t *testing.T) {
	store, notifier, runner := newRunnerFixture("job-1", 2, 3, okProcessor())
	ctx := context.Background()

	// A worker claims chunk 1 and then crashes without completing it.
	abandoned := claimOrFail(t, store, "job-1", "dead-worker")

	// Nobody else can make progress while the claim is live.
	if chunk, err := store.ClaimNext(ctx, "job-1", "live-worker"); err != nil || chunk != nil {
		t.Fatalf("expected no claimable chunk while claim is held, got %v, %v", chunk, err)
	}

	// Backdate the claim past the timeout and sweep.
	store.mu.Lock()
	past := time.Now().Add(-10 * time.Minute)
	store.chunks[abandoned.ID].ClaimedAt = &past
	store.mu.Unlock()

	jobs := jobStoreAdapter{store}
	sweeper := NewSweeper(store, jobs, notifier)
	if err := sweeper.Sweep(ctx, 5*time.Minute); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	swept, _ := store.GetByID(ctx, abandoned.ID)
	if swept.Status != models.ChunkStatusQueued {
		t.Fatalf("expected swept chunk requeued, got %s", swept.Status)
	}
	if notifier.count() == 0 {
		t.Error("expected a wake trigger after the sweep requeued work")
	}

	// The wake-up drives the job to completion. The reclaimed chunk's
	// attempt counter carries the abandoned attempt plus the new one.
	if err := runner.RunJob(ctx, "job-1"); err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}

	job, _ := store.GetJobByID(ctx, "job-1")
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected job completed, got %s", job.Status)
	}
	reclaimed, _ := store.GetByID(ctx, abandoned.ID)
	if reclaimed.AttemptCount != 2 {
		t.Errorf("expected attempt count 2 after reclaim, got %d", reclaimed.AttemptCount)
	}
}

func TestClaimNext_MutualExclusion(t *testing.T) {
	store := newMemStore()
	store.seedJob("job-1", 1, 3)
	ctx := context.Background()

	const claimants = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			chunk, err := store.ClaimNext(ctx, "job-1", uuidLike(n))
			if err != nil {
				t.Errorf("claim error: %v", err)
				return
			}
			if chunk != nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly 1 successful claimant, got %d", winners)
	}
}

func uuidLike(n int) string {
	return string(rune('a'+n%26)) + "-owner-token"
}
