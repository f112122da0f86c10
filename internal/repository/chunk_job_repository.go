package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mathcivilce/mailsync/internal/models"
)

// ErrStaleClaim is returned when a mutation presents an owner token that
// no longer matches the chunk's current claim. A late completion from a
// swept-and-reclaimed worker lands here; callers log it and move on.
var ErrStaleClaim = errors.New("stale claim: owner token does not match current claim")

// ChunkJobRepository owns every mutation of chunk_job rows. No other
// component writes to the table; the single-writer-per-row invariant
// depends on all writes flowing through the guarded statements below.
type ChunkJobRepository struct {
	db *sql.DB
}

func NewChunkJobRepository(db *sql.DB) *ChunkJobRepository {
	return &ChunkJobRepository{db: db}
}

const chunkColumns = `id, sync_job_id, seq, status, payload, owner_token, claimed_at,
	       attempt_count, max_attempts, last_error, created_at, updated_at, completed_at`

// CreateJobWithChunks inserts the sync job row and its chunk batch in a
// single transaction so a partial batch is never observable.
func (r *ChunkJobRepository) CreateJobWithChunks(ctx context.Context, job *models.SyncJob, chunks []models.ChunkJob) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	jobQuery := `
		INSERT INTO sync_job (id, account_id, status, paused, total_chunks, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.ExecContext(ctx, jobQuery,
		job.ID, job.AccountID, job.Status, job.Paused, job.TotalChunks, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}

	chunkQuery := `
		INSERT INTO chunk_job (
			id, sync_job_id, seq, status, payload, attempt_count, max_attempts,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	stmt, err := tx.PrepareContext(ctx, chunkQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		_, err := stmt.ExecContext(ctx,
			c.ID, c.SyncJobID, c.Seq, c.Status, c.Payload, c.AttemptCount, c.MaxAttempts,
			c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create chunk %d: %w", c.Seq, err)
		}
	}

	return tx.Commit()
}

// ClaimNext atomically claims the next eligible chunk for a job.
//
// The sub-select locks the candidate row with FOR UPDATE SKIP LOCKED, so
// concurrent claimants skip a row another transaction is claiming instead
// of queueing behind it; a flood of duplicate wake-ups degrades into
// cheap no-ops. Eligibility: parent job non-terminal and not paused, no
// sibling currently claimed or processing, and no earlier chunk still
// unfinished. Returns (nil, nil) when nothing is claimable, which covers
// both "job busy" and "job finished".
func (r *ChunkJobRepository) ClaimNext(ctx context.Context, jobID, ownerToken string) (*models.ChunkJob, error) {
	query := `
		UPDATE chunk_job
		SET status = 'claimed',
		    owner_token = $2,
		    claimed_at = NOW(),
		    attempt_count = attempt_count + 1,
		    updated_at = NOW()
		WHERE id = (
			SELECT c.id
			FROM chunk_job c
			JOIN sync_job j ON j.id = c.sync_job_id
			WHERE c.sync_job_id = $1
			  AND c.status = 'queued'
			  AND j.status IN ('pending', 'running')
			  AND j.paused = FALSE
			  AND NOT EXISTS (
				SELECT 1 FROM chunk_job b
				WHERE b.sync_job_id = $1 AND b.status IN ('claimed', 'processing')
			  )
			  AND NOT EXISTS (
				SELECT 1 FROM chunk_job p
				WHERE p.sync_job_id = $1 AND p.seq < c.seq AND p.status <> 'completed'
			  )
			ORDER BY c.seq ASC
			LIMIT 1
			FOR UPDATE OF c SKIP LOCKED
		)
		RETURNING ` + chunkColumns

	chunk, err := r.scanChunk(r.db.QueryRowContext(ctx, query, jobID, ownerToken))
	if err != nil {
		// No claimable chunk. Not an error: another worker holds the
		// active chunk, or the job has nothing left to do.
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim chunk: %w", err)
	}
	return chunk, nil
}

// MarkProcessing moves a claimed chunk to processing, guarded by the owner token.
func (r *ChunkJobRepository) MarkProcessing(ctx context.Context, chunkID, ownerToken string) error {
	query := `
		UPDATE chunk_job
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND owner_token = $2 AND status = 'claimed'
	`
	return r.guardedExec(ctx, query, chunkID, ownerToken)
}

// MarkCompleted records terminal success for a chunk, guarded by the owner token.
func (r *ChunkJobRepository) MarkCompleted(ctx context.Context, chunkID, ownerToken string) error {
	query := `
		UPDATE chunk_job
		SET status = 'completed', last_error = NULL, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND owner_token = $2 AND status IN ('claimed', 'processing')
	`
	return r.guardedExec(ctx, query, chunkID, ownerToken)
}

// Requeue returns a chunk to the claimable pool, guarded by the owner token.
// A non-nil payload replaces the work range (cursor advance on partial
// progress); resetAttempts refreshes the attempt budget in the same case.
func (r *ChunkJobRepository) Requeue(ctx context.Context, chunkID, ownerToken string, payload json.RawMessage, resetAttempts bool, lastError *string) error {
	query := `
		UPDATE chunk_job
		SET status = 'queued',
		    owner_token = NULL,
		    claimed_at = NULL,
		    payload = COALESCE($3, payload),
		    attempt_count = CASE WHEN $4 THEN 0 ELSE attempt_count END,
		    last_error = $5,
		    updated_at = NOW()
		WHERE id = $1 AND owner_token = $2 AND status IN ('claimed', 'processing')
	`
	result, err := r.db.ExecContext(ctx, query, chunkID, ownerToken, payload, resetAttempts, lastError)
	if err != nil {
		return fmt.Errorf("failed to requeue chunk: %w", err)
	}
	return r.checkAffected(result)
}

// MarkFailed records terminal failure for a chunk, guarded by the owner token.
func (r *ChunkJobRepository) MarkFailed(ctx context.Context, chunkID, ownerToken string, lastError *string) error {
	query := `
		UPDATE chunk_job
		SET status = 'failed', last_error = $3, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND owner_token = $2 AND status IN ('claimed', 'processing')
	`
	result, err := r.db.ExecContext(ctx, query, chunkID, ownerToken, lastError)
	if err != nil {
		return fmt.Errorf("failed to mark chunk failed: %w", err)
	}
	return r.checkAffected(result)
}

// GetByID retrieves a chunk by ID
func (r *ChunkJobRepository) GetByID(ctx context.Context, chunkID string) (*models.ChunkJob, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunk_job WHERE id = $1`
	chunk, err := r.scanChunk(r.db.QueryRowContext(ctx, query, chunkID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chunk not found")
		}
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return chunk, nil
}

// ListByJob retrieves a job's chunks ordered by sequence. A non-zero
// fromSeq/toSeq bounds the range; zero leaves that side open.
func (r *ChunkJobRepository) ListByJob(ctx context.Context, jobID string, fromSeq, toSeq int) ([]models.ChunkJob, error) {
	query := `
		SELECT ` + chunkColumns + `
		FROM chunk_job
		WHERE sync_job_id = $1
		  AND ($2 = 0 OR seq >= $2)
		  AND ($3 = 0 OR seq <= $3)
		ORDER BY seq ASC
	`
	rows, err := r.db.QueryContext(ctx, query, jobID, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.ChunkJob
	for rows.Next() {
		var c models.ChunkJob
		err := rows.Scan(
			&c.ID, &c.SyncJobID, &c.Seq, &c.Status, &c.Payload, &c.OwnerToken, &c.ClaimedAt,
			&c.AttemptCount, &c.MaxAttempts, &c.LastError, &c.CreatedAt, &c.UpdatedAt, &c.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// NextQueuedSeq returns the lowest queued sequence number for a job,
// or ok=false when no chunk is queued.
func (r *ChunkJobRepository) NextQueuedSeq(ctx context.Context, jobID string) (int, bool, error) {
	query := `SELECT MIN(seq) FROM chunk_job WHERE sync_job_id = $1 AND status = 'queued'`
	var seq sql.NullInt64
	if err := r.db.QueryRowContext(ctx, query, jobID).Scan(&seq); err != nil {
		return 0, false, fmt.Errorf("failed to query next queued seq: %w", err)
	}
	if !seq.Valid {
		return 0, false, nil
	}
	return int(seq.Int64), true, nil
}

// CountNonTerminal counts chunks of a job that have not reached a final state.
func (r *ChunkJobRepository) CountNonTerminal(ctx context.Context, jobID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM chunk_job
		WHERE sync_job_id = $1 AND status NOT IN ('completed', 'failed')
	`
	var n int
	if err := r.db.QueryRowContext(ctx, query, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count non-terminal chunks: %w", err)
	}
	return n, nil
}

// SweepResult reports which jobs a sweep touched.
type SweepResult struct {
	RequeuedJobIDs []string // jobs with a chunk returned to queued; need a wake-up
	FailedJobIDs   []string // jobs whose chunk exhausted its attempts while abandoned
}

// SweepStale reclaims chunks whose claim outlived olderThan. Chunks with
// attempts remaining go back to queued; exhausted ones are failed. Both
// statements run in one transaction so a sweep cycle touches each
// abandoned chunk exactly once.
func (r *ChunkJobRepository) SweepStale(ctx context.Context, olderThan time.Duration) (*SweepResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	cutoff := time.Now().Add(-olderThan)

	requeueQuery := `
		UPDATE chunk_job
		SET status = 'queued', owner_token = NULL, claimed_at = NULL,
		    last_error = 'claim expired', updated_at = NOW()
		WHERE status IN ('claimed', 'processing')
		  AND claimed_at < $1
		  AND attempt_count < max_attempts
		RETURNING sync_job_id
	`
	requeued, err := collectJobIDs(tx.QueryContext(ctx, requeueQuery, cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to requeue stale chunks: %w", err)
	}

	failQuery := `
		UPDATE chunk_job
		SET status = 'failed', owner_token = NULL,
		    last_error = 'claim expired after max attempts',
		    completed_at = NOW(), updated_at = NOW()
		WHERE status IN ('claimed', 'processing')
		  AND claimed_at < $1
		  AND attempt_count >= max_attempts
		RETURNING sync_job_id
	`
	failed, err := collectJobIDs(tx.QueryContext(ctx, failQuery, cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to fail exhausted chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &SweepResult{RequeuedJobIDs: requeued, FailedJobIDs: failed}, nil
}

// JobsWithQueuedChunks lists job IDs that currently have claimable work.
// The watcher's poll fallback feeds on this when triggers were lost.
func (r *ChunkJobRepository) JobsWithQueuedChunks(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT DISTINCT c.sync_job_id
		FROM chunk_job c
		JOIN sync_job j ON j.id = c.sync_job_id
		WHERE c.status = 'queued'
		  AND j.status IN ('pending', 'running')
		  AND j.paused = FALSE
		LIMIT $1
	`
	return collectJobIDs(r.db.QueryContext(ctx, query, limit))
}

// JobStatus builds the read-only monitoring projection for a job.
func (r *ChunkJobRepository) JobStatus(ctx context.Context, jobID string) (*models.JobStatusView, error) {
	query := `
		SELECT j.status, j.paused, j.total_chunks, j.last_error, j.created_at, j.completed_at,
		       COUNT(*) FILTER (WHERE c.status = 'queued'),
		       COUNT(*) FILTER (WHERE c.status IN ('claimed', 'processing')),
		       COUNT(*) FILTER (WHERE c.status = 'completed'),
		       COUNT(*) FILTER (WHERE c.status = 'failed'),
		       MIN(c.seq) FILTER (WHERE c.status NOT IN ('completed', 'failed'))
		FROM sync_job j
		LEFT JOIN chunk_job c ON c.sync_job_id = j.id
		WHERE j.id = $1
		GROUP BY j.id
	`

	view := models.JobStatusView{JobID: jobID}
	var currentSeq sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, jobID).Scan(
		&view.Status, &view.Paused, &view.TotalChunks, &view.LastError,
		&view.CreatedAt, &view.CompletedAt,
		&view.QueuedChunks, &view.ClaimedChunks, &view.CompletedChunks, &view.FailedChunks,
		&currentSeq,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job not found")
		}
		return nil, fmt.Errorf("failed to get job status: %w", err)
	}

	if currentSeq.Valid {
		seq := int(currentSeq.Int64)
		view.CurrentSeq = &seq
	}
	if view.CompletedAt != nil {
		view.ElapsedSeconds = view.CompletedAt.Sub(view.CreatedAt).Seconds()
	} else {
		view.ElapsedSeconds = time.Since(view.CreatedAt).Seconds()
	}
	return &view, nil
}

// guardedExec runs a token-guarded update and maps 0 rows to ErrStaleClaim.
func (r *ChunkJobRepository) guardedExec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update chunk: %w", err)
	}
	return r.checkAffected(result)
}

func (r *ChunkJobRepository) checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrStaleClaim
	}
	return nil
}

// scanChunk scans a single row into a ChunkJob
func (r *ChunkJobRepository) scanChunk(row *sql.Row) (*models.ChunkJob, error) {
	var chunk models.ChunkJob
	err := row.Scan(
		&chunk.ID,
		&chunk.SyncJobID,
		&chunk.Seq,
		&chunk.Status,
		&chunk.Payload,
		&chunk.OwnerToken,
		&chunk.ClaimedAt,
		&chunk.AttemptCount,
		&chunk.MaxAttempts,
		&chunk.LastError,
		&chunk.CreatedAt,
		&chunk.UpdatedAt,
		&chunk.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// collectJobIDs drains a single-column query of job IDs, de-duplicated.
func collectJobIDs(rows *sql.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}
