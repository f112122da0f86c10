package watcher

import (
	"context"
	"log"
	"time"

	"github.com/mathcivilce/mailsync/internal/config"
	"github.com/mathcivilce/mailsync/internal/service"
)

// JobFinder lists jobs that currently have claimable work.
type JobFinder interface {
	JobsWithQueuedChunks(ctx context.Context, limit int) ([]string, error)
}

// Watcher is the pull fallback and the sweeper's clock. Wake triggers
// are the fast path; the poll loop guarantees progress when every
// trigger delivery was lost, and the sweep ticker reclaims chunks
// abandoned by crashed workers.
type Watcher struct {
	cfg    *config.Config
	finder JobFinder
	runner *service.Runner
	sweep  *service.Sweeper
}

func New(cfg *config.Config, finder JobFinder, runner *service.Runner, sweep *service.Sweeper) *Watcher {
	return &Watcher{
		cfg:    cfg,
		finder: finder,
		runner: runner,
		sweep:  sweep,
	}
}

// Start begins the poll and sweep loops and blocks until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	log.Println("Starting watcher for queued sync chunks...")

	// Pick up work left over from previous runs before the first tick.
	if err := w.runQueuedJobs(ctx); err != nil {
		log.Printf("Warning: failed to process queued jobs on startup: %v", err)
	}

	pollTicker := time.NewTicker(time.Duration(w.cfg.PollInterval) * time.Second)
	defer pollTicker.Stop()

	sweepTicker := time.NewTicker(time.Duration(w.cfg.SweepInterval) * time.Second)
	defer sweepTicker.Stop()

	claimTimeout := time.Duration(w.cfg.ClaimTimeout) * time.Second

	for {
		select {
		case <-ctx.Done():
			log.Println("Watcher shutting down...")
			return ctx.Err()
		case <-pollTicker.C:
			if err := w.runQueuedJobs(ctx); err != nil {
				log.Printf("Error processing queued jobs: %v", err)
			}
		case <-sweepTicker.C:
			if err := w.sweep.Sweep(ctx, claimTimeout); err != nil {
				log.Printf("Error sweeping stale claims: %v", err)
			}
		}
	}
}

// runQueuedJobs drives every job that has a queued chunk. Jobs whose
// active chunk is held elsewhere come back as immediate no-ops.
func (w *Watcher) runQueuedJobs(ctx context.Context) error {
	jobIDs, err := w.finder.JobsWithQueuedChunks(ctx, 10)
	if err != nil {
		return err
	}

	for _, jobID := range jobIDs {
		if err := w.runner.RunJob(ctx, jobID); err != nil {
			log.Printf("Failed to run job %s: %v", jobID, err)
		}
	}
	return nil
}
