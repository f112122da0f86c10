package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mathcivilce/mailsync/internal/models"
)

// ChunkProcessor performs the actual sync work for one claimed chunk.
// The orchestrator treats it as opaque: possibly slow, possibly failing,
// and never allowed to touch chunk state directly — it only reports an
// outcome. A returned *ProcessingError decides retry vs. terminal
// failure; any other error is treated as transient.
type ChunkProcessor interface {
	Process(ctx context.Context, job *models.SyncJob, chunk *models.ChunkJob) (*Outcome, error)
}

// Outcome reports a successful Process call. A non-nil PartialCursor
// means the chunk's range is not exhausted yet: the coordinator requeues
// the same chunk with the cursor folded into its payload so the next
// claim resumes where this one stopped.
type Outcome struct {
	PartialCursor *string
	Fetched       int
}

// ProcessingError classifies a chunk failure. Retryable failures
// (provider hiccup, rate limit) return the chunk to the queue while
// attempts remain; permanent ones (revoked grant, malformed payload)
// fail the chunk and its parent job immediately.
type ProcessingError struct {
	Reason    string
	Retryable bool
	Err       error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable processing failure.
func Transient(reason string, err error) *ProcessingError {
	return &ProcessingError{Reason: reason, Retryable: true, Err: err}
}

// Permanent wraps err as a non-retryable processing failure.
func Permanent(reason string, err error) *ProcessingError {
	return &ProcessingError{Reason: reason, Retryable: false, Err: err}
}

// retryable reports whether a processing error should be retried.
// Unclassified errors default to retryable so a bug in classification
// degrades to bounded retries rather than an instant job failure.
func retryable(err error) bool {
	var procErr *ProcessingError
	if errors.As(err, &procErr) {
		return procErr.Retryable
	}
	return true
}

// ChunkRange is the payload stored on every chunk: one bounded date
// window of the mailbox plus the provider page cursor within it. The
// orchestrator round-trips it as opaque JSON; only the planner and the
// processor understand the fields.
type ChunkRange struct {
	After     time.Time `json:"after"`
	Before    time.Time `json:"before"`
	PageToken string    `json:"page_token,omitempty"`
}

// DecodeChunkRange parses a chunk payload.
func DecodeChunkRange(payload json.RawMessage) (*ChunkRange, error) {
	var cr ChunkRange
	if err := json.Unmarshal(payload, &cr); err != nil {
		return nil, fmt.Errorf("failed to decode chunk payload: %w", err)
	}
	return &cr, nil
}

// Encode serializes the range back into a chunk payload.
func (cr *ChunkRange) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chunk payload: %w", err)
	}
	return data, nil
}
