package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mathcivilce/mailsync/internal/observability"
)

// ErrJobTerminal is returned when work is requested for a job that
// already reached a final state.
var ErrJobTerminal = errors.New("sync job is already terminal")

// Runner drives one job's claim/process/complete loop. Each wake-up or
// poll tick invokes RunJob, which keeps claiming until the claim engine
// reports nothing to do; competing runners for the same job are safe
// because only one of them can hold the active chunk.
type Runner struct {
	chunks      ChunkStore
	jobs        JobStore
	processor   ChunkProcessor
	coordinator *Coordinator
}

func NewRunner(chunks ChunkStore, jobs JobStore, processor ChunkProcessor, coordinator *Coordinator) *Runner {
	return &Runner{chunks: chunks, jobs: jobs, processor: processor, coordinator: coordinator}
}

// RunJob processes claimable chunks for jobID until none remain.
// Unknown and terminal jobs are the only caller-visible errors; chunk
// failures are absorbed into the job's state by the coordinator.
func (r *Runner) RunJob(ctx context.Context, jobID string) error {
	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobTerminal, jobID, job.Status)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Fresh owner token per claim so a swept claim and its successor
		// are always distinguishable.
		ownerToken := uuid.New().String()

		chunk, err := r.chunks.ClaimNext(ctx, jobID, ownerToken)
		if err != nil {
			return fmt.Errorf("failed to claim next chunk: %w", err)
		}
		if chunk == nil {
			// Nothing claimable: job busy elsewhere or finished.
			return nil
		}
		observability.ChunksClaimed.Inc()
		log.Printf("Claimed chunk %d of job %s (attempt %d/%d)",
			chunk.Seq, jobID, chunk.AttemptCount, chunk.MaxAttempts)

		if err := r.jobs.MarkRunning(ctx, jobID); err != nil {
			log.Printf("Warning: failed to mark job %s running: %v", jobID, err)
		}

		if err := r.chunks.MarkProcessing(ctx, chunk.ID, ownerToken); err != nil {
			if IsStaleClaim(err) {
				log.Printf("Lost claim on chunk %d of job %s before processing", chunk.Seq, jobID)
				continue
			}
			return err
		}

		start := time.Now()
		outcome, procErr := r.processor.Process(ctx, job, chunk)
		observability.ChunkDuration.Observe(time.Since(start).Seconds())

		result, err := r.coordinator.Complete(ctx, chunk.ID, ownerToken, outcome, procErr)
		if err != nil {
			if IsStaleClaim(err) {
				// The sweeper reclaimed this chunk mid-flight and a newer
				// claim owns it now. Drop our result and stand down.
				log.Printf("Dropping stale completion for chunk %d of job %s", chunk.Seq, jobID)
				return nil
			}
			return fmt.Errorf("failed to complete chunk: %w", err)
		}

		switch result.Action {
		case ActionContinue, ActionRetry:
			// The trigger already fired, but claiming inline saves a
			// round-trip when this worker still has capacity.
			continue
		default:
			return nil
		}
	}
}
