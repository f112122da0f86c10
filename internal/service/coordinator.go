package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/mathcivilce/mailsync/internal/models"
	"github.com/mathcivilce/mailsync/internal/observability"
	"github.com/mathcivilce/mailsync/internal/repository"
)

// NextAction tells the caller what the completion decided.
type NextAction int

const (
	ActionNone      NextAction = iota
	ActionContinue             // more chunks queued; trigger fired for the next one
	ActionRetry                // chunk requeued for another attempt; trigger fired
	ActionJobDone              // last chunk completed; job marked completed
	ActionJobFailed            // chunk and job marked failed; chain halted
)

func (a NextAction) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionRetry:
		return "retry"
	case ActionJobDone:
		return "job_done"
	case ActionJobFailed:
		return "job_failed"
	default:
		return "none"
	}
}

// CompletionResult is the coordinator's verdict for one finished chunk.
type CompletionResult struct {
	Action  NextAction
	NextSeq int // set for ActionContinue and ActionRetry
}

// Coordinator records chunk outcomes and advances the parent job.
// Every state transition is guarded by the owner token, so a stale
// worker whose chunk was swept and reclaimed cannot clobber the result
// written by the newer claim.
type Coordinator struct {
	chunks   ChunkStore
	jobs     JobStore
	notifier Notifier
}

func NewCoordinator(chunks ChunkStore, jobs JobStore, notifier Notifier) *Coordinator {
	return &Coordinator{chunks: chunks, jobs: jobs, notifier: notifier}
}

// Complete records the outcome of a processed chunk and decides whether
// to advance, retry, or terminate the parent job. Returns
// repository.ErrStaleClaim when ownerToken no longer holds the chunk;
// callers log that and drop the result, they never fail the job over it.
//
// The outbound trigger is fire-and-forget: if delivery is lost the
// sweeper's requeue pass restores forward progress.
func (c *Coordinator) Complete(ctx context.Context, chunkID, ownerToken string, outcome *Outcome, procErr error) (*CompletionResult, error) {
	chunk, err := c.chunks.GetByID(ctx, chunkID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk for completion: %w", err)
	}

	// Idempotency guard: only the current claim may write a result.
	if chunk.Status.IsTerminal() || chunk.OwnerToken == nil || *chunk.OwnerToken != ownerToken {
		return nil, repository.ErrStaleClaim
	}

	if procErr != nil {
		return c.completeFailure(ctx, chunk, ownerToken, procErr)
	}
	return c.completeSuccess(ctx, chunk, ownerToken, outcome)
}

func (c *Coordinator) completeSuccess(ctx context.Context, chunk *models.ChunkJob, ownerToken string, outcome *Outcome) (*CompletionResult, error) {
	// Partial progress: the chunk's range is not exhausted. Fold the
	// cursor into the payload and requeue the same chunk. The attempt
	// budget resets because the claim moved the cursor forward; attempts
	// only bound repeated failures, not legitimate pagination.
	if outcome != nil && outcome.PartialCursor != nil {
		payload, err := c.payloadWithCursor(chunk.Payload, *outcome.PartialCursor)
		if err != nil {
			return nil, err
		}
		if err := c.chunks.Requeue(ctx, chunk.ID, ownerToken, payload, true, nil); err != nil {
			return nil, err
		}
		observability.ChunksCompleted.WithLabelValues("partial").Inc()
		c.notifier.Notify(ctx, chunk.SyncJobID)
		return &CompletionResult{Action: ActionContinue, NextSeq: chunk.Seq}, nil
	}

	if err := c.chunks.MarkCompleted(ctx, chunk.ID, ownerToken); err != nil {
		return nil, err
	}
	observability.ChunksCompleted.WithLabelValues("completed").Inc()

	nextSeq, ok, err := c.chunks.NextQueuedSeq(ctx, chunk.SyncJobID)
	if err != nil {
		return nil, err
	}
	if ok {
		c.notifier.Notify(ctx, chunk.SyncJobID)
		return &CompletionResult{Action: ActionContinue, NextSeq: nextSeq}, nil
	}

	remaining, err := c.chunks.CountNonTerminal(ctx, chunk.SyncJobID)
	if err != nil {
		return nil, err
	}
	if remaining == 0 {
		if err := c.jobs.MarkCompleted(ctx, chunk.SyncJobID); err != nil {
			return nil, err
		}
		log.Printf("Sync job %s completed (%d chunks)", chunk.SyncJobID, chunk.Seq)
		return &CompletionResult{Action: ActionJobDone}, nil
	}

	// Nothing queued but something non-terminal: another claim is in
	// flight (possible only after a sweep raced us). Leave it be.
	return &CompletionResult{Action: ActionNone}, nil
}

func (c *Coordinator) completeFailure(ctx context.Context, chunk *models.ChunkJob, ownerToken string, procErr error) (*CompletionResult, error) {
	errMsg := procErr.Error()

	if retryable(procErr) && chunk.AttemptCount < chunk.MaxAttempts {
		// attempt_count was already incremented at claim time.
		if err := c.chunks.Requeue(ctx, chunk.ID, ownerToken, nil, false, &errMsg); err != nil {
			return nil, err
		}
		observability.ChunksCompleted.WithLabelValues("retried").Inc()
		log.Printf("Chunk %d of job %s failed (attempt %d/%d), requeued: %v",
			chunk.Seq, chunk.SyncJobID, chunk.AttemptCount, chunk.MaxAttempts, procErr)
		c.notifier.Notify(ctx, chunk.SyncJobID)
		return &CompletionResult{Action: ActionRetry, NextSeq: chunk.Seq}, nil
	}

	if err := c.chunks.MarkFailed(ctx, chunk.ID, ownerToken, &errMsg); err != nil {
		return nil, err
	}
	if err := c.jobs.MarkFailed(ctx, chunk.SyncJobID, &errMsg); err != nil {
		return nil, err
	}
	observability.ChunksCompleted.WithLabelValues("failed").Inc()
	log.Printf("Chunk %d of job %s failed terminally after %d attempt(s): %v",
		chunk.Seq, chunk.SyncJobID, chunk.AttemptCount, procErr)
	return &CompletionResult{Action: ActionJobFailed}, nil
}

func (c *Coordinator) payloadWithCursor(payload json.RawMessage, cursor string) (json.RawMessage, error) {
	cr, err := DecodeChunkRange(payload)
	if err != nil {
		return nil, err
	}
	cr.PageToken = cursor
	return cr.Encode()
}

// IsStaleClaim reports whether err is the stale-claim rejection.
func IsStaleClaim(err error) bool {
	return errors.Is(err, repository.ErrStaleClaim)
}
