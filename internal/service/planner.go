package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mathcivilce/mailsync/internal/models"
)

// Planner creates sync jobs. Chunk ranges are computed eagerly at job
// creation: the sync window is split into fixed date windows, newest
// first, so the total chunk count is known up front and recent mail
// lands before the backlog. Page cursors within a window ride along in
// the chunk payload as the chunk makes partial progress.
type Planner struct {
	chunks   ChunkStore
	accounts AccountStore
	notifier Notifier

	syncWindowDays  int
	chunkWindowDays int
	maxAttempts     int
}

func NewPlanner(chunks ChunkStore, accounts AccountStore, notifier Notifier, syncWindowDays, chunkWindowDays, maxAttempts int) *Planner {
	return &Planner{
		chunks:          chunks,
		accounts:        accounts,
		notifier:        notifier,
		syncWindowDays:  syncWindowDays,
		chunkWindowDays: chunkWindowDays,
		maxAttempts:     maxAttempts,
	}
}

// CreateSyncJob plans a full mailbox sync for an account: one job row
// plus its ordered chunk batch, inserted atomically, then an immediate
// wake trigger so work starts without waiting for a poll tick.
func (p *Planner) CreateSyncJob(ctx context.Context, accountID string) (*models.SyncJob, error) {
	if _, err := p.accounts.GetByID(ctx, accountID); err != nil {
		return nil, err
	}

	now := time.Now()
	windows := p.planWindows(now)

	job := &models.SyncJob{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		Status:      models.JobStatusPending,
		TotalChunks: len(windows),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	chunks := make([]models.ChunkJob, 0, len(windows))
	for i, w := range windows {
		payload, err := w.Encode()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, models.ChunkJob{
			ID:          uuid.New().String(),
			SyncJobID:   job.ID,
			Seq:         i + 1,
			Status:      models.ChunkStatusQueued,
			Payload:     payload,
			MaxAttempts: p.maxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	if err := p.chunks.CreateJobWithChunks(ctx, job, chunks); err != nil {
		return nil, fmt.Errorf("failed to create sync job: %w", err)
	}

	log.Printf("Created sync job %s for account %s (%d chunks over %d days)",
		job.ID, accountID, len(chunks), p.syncWindowDays)

	p.notifier.Notify(ctx, job.ID)
	return job, nil
}

// planWindows splits [now - syncWindow, now] into chunk windows,
// newest first. The last window absorbs the remainder.
func (p *Planner) planWindows(now time.Time) []ChunkRange {
	start := now.AddDate(0, 0, -p.syncWindowDays)

	var windows []ChunkRange
	before := now
	for before.After(start) {
		after := before.AddDate(0, 0, -p.chunkWindowDays)
		if after.Before(start) {
			after = start
		}
		windows = append(windows, ChunkRange{After: after, Before: before})
		before = after
	}
	return windows
}
