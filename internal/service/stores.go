package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mathcivilce/mailsync/internal/models"
	"github.com/mathcivilce/mailsync/internal/repository"
)

// ChunkStore is the single mutation surface over chunk rows. Implemented
// by repository.ChunkJobRepository; every method is an atomic statement
// and the token-guarded ones return repository.ErrStaleClaim when the
// presented owner token no longer holds the claim.
type ChunkStore interface {
	CreateJobWithChunks(ctx context.Context, job *models.SyncJob, chunks []models.ChunkJob) error
	ClaimNext(ctx context.Context, jobID, ownerToken string) (*models.ChunkJob, error)
	GetByID(ctx context.Context, chunkID string) (*models.ChunkJob, error)
	MarkProcessing(ctx context.Context, chunkID, ownerToken string) error
	MarkCompleted(ctx context.Context, chunkID, ownerToken string) error
	Requeue(ctx context.Context, chunkID, ownerToken string, payload json.RawMessage, resetAttempts bool, lastError *string) error
	MarkFailed(ctx context.Context, chunkID, ownerToken string, lastError *string) error
	NextQueuedSeq(ctx context.Context, jobID string) (int, bool, error)
	CountNonTerminal(ctx context.Context, jobID string) (int, error)
	SweepStale(ctx context.Context, olderThan time.Duration) (*repository.SweepResult, error)
}

// JobStore covers the sync job mutations the orchestrator performs.
type JobStore interface {
	GetByID(ctx context.Context, jobID string) (*models.SyncJob, error)
	MarkRunning(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, lastError *string) error
}

// Notifier fires the best-effort wake signal for a job. Delivery is
// never guaranteed; the sweeper is the backstop.
type Notifier interface {
	Notify(ctx context.Context, jobID string)
}

// AccountStore is what the mailbox processor needs from account storage.
type AccountStore interface {
	GetByID(ctx context.Context, accountID string) (*models.Account, error)
	UpdateTokens(ctx context.Context, accountID string, accessToken string, refreshToken string, accessTokenExpiresAt time.Time) error
}

// MessageSink receives the message IDs a chunk discovered.
type MessageSink interface {
	RecordMessages(ctx context.Context, accountID string, messageIDs []string) error
}
