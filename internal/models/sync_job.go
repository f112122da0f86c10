package models

import "time"

type SyncJobStatus string

const (
	JobStatusPending   SyncJobStatus = "pending"   // Created, no chunk claimed yet
	JobStatusRunning   SyncJobStatus = "running"   // At least one chunk claimed
	JobStatusCompleted SyncJobStatus = "completed" // Every chunk completed
	JobStatusFailed    SyncJobStatus = "failed"    // A chunk exhausted its attempts or hit a permanent error
	JobStatusCancelled SyncJobStatus = "cancelled" // Cancelled by an external actor
)

// IsTerminal reports whether the job can no longer make progress.
func (s SyncJobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// SyncJob is the parent unit of sync work for one mailbox account.
// Mutated only by the completion coordinator and the admin operations;
// rows are retained after completion for audit and pruned externally.
type SyncJob struct {
	ID          string        `gorm:"column:id;primaryKey"`
	AccountID   string        `gorm:"column:account_id;index"`
	Status      SyncJobStatus `gorm:"column:status;index"`
	Paused      bool          `gorm:"column:paused"`
	TotalChunks int           `gorm:"column:total_chunks"`
	LastError   *string       `gorm:"column:last_error"`
	CreatedAt   time.Time     `gorm:"column:created_at"`
	UpdatedAt   time.Time     `gorm:"column:updated_at"`
	CompletedAt *time.Time    `gorm:"column:completed_at"`
}

// TableName specifies the table name for GORM
func (SyncJob) TableName() string {
	return "sync_job"
}

// JobStatusView is the read-only monitoring projection over a job's chunks.
// Derived from the chunk table; never consumed by the orchestrator itself.
type JobStatusView struct {
	JobID           string        `json:"job_id"`
	Status          SyncJobStatus `json:"status"`
	Paused          bool          `json:"paused"`
	TotalChunks     int           `json:"total_chunks"`
	QueuedChunks    int           `json:"queued_chunks"`
	ClaimedChunks   int           `json:"claimed_chunks"`
	CompletedChunks int           `json:"completed_chunks"`
	FailedChunks    int           `json:"failed_chunks"`
	CurrentSeq      *int          `json:"current_seq,omitempty"`
	LastError       *string       `json:"last_error,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	ElapsedSeconds  float64       `json:"elapsed_seconds"`
}
