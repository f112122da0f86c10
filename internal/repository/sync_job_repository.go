package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mathcivilce/mailsync/internal/models"
)

var ErrJobNotFound = errors.New("sync job not found")

type SyncJobRepository struct {
	db *gorm.DB
}

func NewSyncJobRepository(db *gorm.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// GetByID retrieves a sync job by ID
func (r *SyncJobRepository) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	var job models.SyncJob
	result := r.db.WithContext(ctx).First(&job, "id = ?", jobID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get sync job: %w", result.Error)
	}
	return &job, nil
}

// MarkRunning moves a pending job to running. A no-op for jobs already
// running or terminal, so every claimant can call it unconditionally.
func (r *SyncJobRepository) MarkRunning(ctx context.Context, jobID string) error {
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     models.JobStatusRunning,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job running: %w", result.Error)
	}
	return nil
}

// MarkCompleted records terminal success for a job.
func (r *SyncJobRepository) MarkCompleted(ctx context.Context, jobID string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status NOT IN ?", jobID, []models.SyncJobStatus{
			models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled,
		}).
		Updates(map[string]interface{}{
			"status":       models.JobStatusCompleted,
			"completed_at": &now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job completed: %w", result.Error)
	}
	return nil
}

// MarkFailed records terminal failure for a job together with the last error.
func (r *SyncJobRepository) MarkFailed(ctx context.Context, jobID string, lastError *string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status NOT IN ?", jobID, []models.SyncJobStatus{
			models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled,
		}).
		Updates(map[string]interface{}{
			"status":       models.JobStatusFailed,
			"last_error":   lastError,
			"completed_at": &now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job failed: %w", result.Error)
	}
	return nil
}

// Cancel marks a job cancelled. The claim engine refuses cancelled jobs,
// so in-flight work winds down cooperatively after the active chunk.
func (r *SyncJobRepository) Cancel(ctx context.Context, jobID string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status NOT IN ?", jobID, []models.SyncJobStatus{
			models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled,
		}).
		Updates(map[string]interface{}{
			"status":       models.JobStatusCancelled,
			"completed_at": &now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to cancel job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// SetPaused pauses or resumes claiming for a job.
func (r *SyncJobRepository) SetPaused(ctx context.Context, jobID string, paused bool) error {
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"paused":     paused,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update paused flag: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// DeleteCompletedBefore prunes completed jobs older than the cutoff.
// Chunk rows go with them via ON DELETE CASCADE. Housekeeping only;
// the orchestrator itself never deletes.
func (r *SyncJobRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND completed_at < ?", models.JobStatusCompleted, cutoff).
		Delete(&models.SyncJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete completed jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
