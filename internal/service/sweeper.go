package service

import (
	"context"
	"log"
	"time"

	"github.com/mathcivilce/mailsync/internal/observability"
)

// Sweeper converts crashed or hung workers into forward progress: any
// chunk whose claim outlived the timeout goes back to the claimable
// pool (with a wake-up) or, once its attempts are spent, drags the
// parent job into a clean terminal failure.
type Sweeper struct {
	chunks   ChunkStore
	jobs     JobStore
	notifier Notifier
}

func NewSweeper(chunks ChunkStore, jobs JobStore, notifier Notifier) *Sweeper {
	return &Sweeper{chunks: chunks, jobs: jobs, notifier: notifier}
}

// Sweep reclaims chunks claimed longer than timeout ago. Runs on a
// fixed interval, independently of the trigger-driven main loop.
func (s *Sweeper) Sweep(ctx context.Context, timeout time.Duration) error {
	result, err := s.chunks.SweepStale(ctx, timeout)
	if err != nil {
		return err
	}

	for _, jobID := range result.FailedJobIDs {
		errMsg := "chunk abandoned and attempts exhausted"
		if err := s.jobs.MarkFailed(ctx, jobID, &errMsg); err != nil {
			log.Printf("Warning: failed to mark job %s failed after sweep: %v", jobID, err)
		}
		observability.SweptChunks.WithLabelValues("failed").Inc()
	}

	for _, jobID := range result.RequeuedJobIDs {
		observability.SweptChunks.WithLabelValues("requeued").Inc()
		s.notifier.Notify(ctx, jobID)
	}

	if len(result.RequeuedJobIDs) > 0 || len(result.FailedJobIDs) > 0 {
		log.Printf("Sweep reclaimed %d job(s), failed %d job(s)",
			len(result.RequeuedJobIDs), len(result.FailedJobIDs))
	}
	return nil
}
