package models

import (
	"encoding/json"
	"time"
)

type ChunkStatus string

const (
	ChunkStatusQueued     ChunkStatus = "queued"     // Eligible for claiming
	ChunkStatusClaimed    ChunkStatus = "claimed"    // A worker holds the claim, processing not started
	ChunkStatusProcessing ChunkStatus = "processing" // Worker is executing the chunk
	ChunkStatusCompleted  ChunkStatus = "completed"  // Terminal success
	ChunkStatusFailed     ChunkStatus = "failed"     // Terminal failure (attempts exhausted or permanent error)
)

// IsTerminal reports whether the chunk has reached a final state.
func (s ChunkStatus) IsTerminal() bool {
	return s == ChunkStatusCompleted || s == ChunkStatusFailed
}

// ChunkJob is one bounded, ordered sub-unit of a SyncJob's work.
// Seq defines the total order within the job; chunks are processed
// strictly in sequence and at most one per job is claimed at a time.
// Payload describes the sync range and is opaque to the orchestrator.
//
// Rows are mutated only through ChunkJobRepository: ClaimNext moves
// queued -> claimed, the coordinator moves claimed/processing to a
// terminal state (or back to queued on retry), and the sweeper returns
// expired claims to queued.
type ChunkJob struct {
	ID           string          `gorm:"column:id;primaryKey"`
	SyncJobID    string          `gorm:"column:sync_job_id;index"`
	Seq          int             `gorm:"column:seq"`
	Status       ChunkStatus     `gorm:"column:status;index"`
	Payload      json.RawMessage `gorm:"column:payload"`
	OwnerToken   *string         `gorm:"column:owner_token"`
	ClaimedAt    *time.Time      `gorm:"column:claimed_at"`
	AttemptCount int             `gorm:"column:attempt_count"`
	MaxAttempts  int             `gorm:"column:max_attempts"`
	LastError    *string         `gorm:"column:last_error"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
	CompletedAt  *time.Time      `gorm:"column:completed_at"`
}

// TableName specifies the table name for GORM
func (ChunkJob) TableName() string {
	return "chunk_job"
}
