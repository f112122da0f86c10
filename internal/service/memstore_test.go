package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mathcivilce/mailsync/internal/models"
	"github.com/mathcivilce/mailsync/internal/repository"
)

// memStore is an in-memory double for ChunkStore + JobStore that honors
// the same claim contract as the SQL repository: single active chunk per
// job, lowest queued sequence first, token-guarded mutations.
type memStore struct {
	mu     sync.Mutex
	jobs   map[string]*models.SyncJob
	chunks map[string]*models.ChunkJob
}

func newMemStore() *memStore {
	return &memStore{
		jobs:   make(map[string]*models.SyncJob),
		chunks: make(map[string]*models.ChunkJob),
	}
}

// seedJob inserts a job with n queued chunks and returns its ID.
func (m *memStore) seedJob(jobID string, n, maxAttempts int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.jobs[jobID] = &models.SyncJob{
		ID:          jobID,
		AccountID:   "acc-" + jobID,
		Status:      models.JobStatusPending,
		TotalChunks: n,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%s-chunk-%d", jobID, i)
		m.chunks[id] = &models.ChunkJob{
			ID:          id,
			SyncJobID:   jobID,
			Seq:         i,
			Status:      models.ChunkStatusQueued,
			Payload:     json.RawMessage(`{"after":"2025-01-01T00:00:00Z","before":"2025-02-01T00:00:00Z"}`),
			MaxAttempts: maxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
}

func (m *memStore) jobChunks(jobID string) []*models.ChunkJob {
	var out []*models.ChunkJob
	for _, c := range m.chunks {
		if c.SyncJobID == jobID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (m *memStore) CreateJobWithChunks(ctx context.Context, job *models.SyncJob, chunks []models.ChunkJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobCopy := *job
	m.jobs[job.ID] = &jobCopy
	for i := range chunks {
		c := chunks[i]
		m.chunks[c.ID] = &c
	}
	return nil
}

func (m *memStore) ClaimNext(ctx context.Context, jobID, ownerToken string) (*models.ChunkJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Paused ||
		(job.Status != models.JobStatusPending && job.Status != models.JobStatusRunning) {
		return nil, nil
	}

	chunks := m.jobChunks(jobID)
	for _, c := range chunks {
		if c.Status == models.ChunkStatusClaimed || c.Status == models.ChunkStatusProcessing {
			return nil, nil
		}
	}
	for _, c := range chunks {
		if c.Status == models.ChunkStatusQueued {
			now := time.Now()
			c.Status = models.ChunkStatusClaimed
			c.OwnerToken = &ownerToken
			c.ClaimedAt = &now
			c.AttemptCount++
			copied := *c
			return &copied, nil
		}
		if c.Status != models.ChunkStatusCompleted {
			// Earlier chunk unfinished: strict sequence order forbids
			// skipping ahead.
			return nil, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetByID(ctx context.Context, chunkID string) (*models.ChunkJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chunks[chunkID]
	if !ok {
		return nil, fmt.Errorf("chunk not found")
	}
	copied := *c
	return &copied, nil
}

func (m *memStore) guarded(chunkID, ownerToken string, allowed []models.ChunkStatus, mutate func(*models.ChunkJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chunks[chunkID]
	if !ok || c.OwnerToken == nil || *c.OwnerToken != ownerToken {
		return repository.ErrStaleClaim
	}
	match := false
	for _, s := range allowed {
		if c.Status == s {
			match = true
		}
	}
	if !match {
		return repository.ErrStaleClaim
	}
	mutate(c)
	return nil
}

var claimedOrProcessing = []models.ChunkStatus{models.ChunkStatusClaimed, models.ChunkStatusProcessing}

func (m *memStore) MarkProcessing(ctx context.Context, chunkID, ownerToken string) error {
	return m.guarded(chunkID, ownerToken, []models.ChunkStatus{models.ChunkStatusClaimed}, func(c *models.ChunkJob) {
		c.Status = models.ChunkStatusProcessing
	})
}

func (m *memStore) MarkCompleted(ctx context.Context, chunkID, ownerToken string) error {
	return m.guarded(chunkID, ownerToken, claimedOrProcessing, func(c *models.ChunkJob) {
		now := time.Now()
		c.Status = models.ChunkStatusCompleted
		c.LastError = nil
		c.CompletedAt = &now
	})
}

func (m *memStore) Requeue(ctx context.Context, chunkID, ownerToken string, payload json.RawMessage, resetAttempts bool, lastError *string) error {
	return m.guarded(chunkID, ownerToken, claimedOrProcessing, func(c *models.ChunkJob) {
		c.Status = models.ChunkStatusQueued
		c.OwnerToken = nil
		c.ClaimedAt = nil
		if payload != nil {
			c.Payload = payload
		}
		if resetAttempts {
			c.AttemptCount = 0
		}
		c.LastError = lastError
	})
}

func (m *memStore) MarkFailed(ctx context.Context, chunkID, ownerToken string, lastError *string) error {
	return m.guarded(chunkID, ownerToken, claimedOrProcessing, func(c *models.ChunkJob) {
		now := time.Now()
		c.Status = models.ChunkStatusFailed
		c.LastError = lastError
		c.CompletedAt = &now
	})
}

func (m *memStore) NextQueuedSeq(ctx context.Context, jobID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.jobChunks(jobID) {
		if c.Status == models.ChunkStatusQueued {
			return c.Seq, true, nil
		}
	}
	return 0, false, nil
}

func (m *memStore) CountNonTerminal(ctx context.Context, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.jobChunks(jobID) {
		if !c.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (m *memStore) SweepStale(ctx context.Context, olderThan time.Duration) (*repository.SweepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	result := &repository.SweepResult{}
	for _, c := range m.chunks {
		if c.Status != models.ChunkStatusClaimed && c.Status != models.ChunkStatusProcessing {
			continue
		}
		if c.ClaimedAt == nil || !c.ClaimedAt.Before(cutoff) {
			continue
		}
		if c.AttemptCount < c.MaxAttempts {
			c.Status = models.ChunkStatusQueued
			c.OwnerToken = nil
			c.ClaimedAt = nil
			msg := "claim expired"
			c.LastError = &msg
			result.RequeuedJobIDs = append(result.RequeuedJobIDs, c.SyncJobID)
		} else {
			now := time.Now()
			c.Status = models.ChunkStatusFailed
			c.OwnerToken = nil
			msg := "claim expired after max attempts"
			c.LastError = &msg
			c.CompletedAt = &now
			result.FailedJobIDs = append(result.FailedJobIDs, c.SyncJobID)
		}
	}
	return result, nil
}

// JobStore implementation

func (m *memStore) GetJobByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	copied := *j
	return &copied, nil
}

func (m *memStore) MarkRunning(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.jobs[jobID]; ok && j.Status == models.JobStatusPending {
		j.Status = models.JobStatusRunning
	}
	return nil
}

func (m *memStore) MarkJobCompleted(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.jobs[jobID]; ok && !j.Status.IsTerminal() {
		now := time.Now()
		j.Status = models.JobStatusCompleted
		j.CompletedAt = &now
	}
	return nil
}

func (m *memStore) MarkJobFailed(ctx context.Context, jobID string, lastError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.jobs[jobID]; ok && !j.Status.IsTerminal() {
		now := time.Now()
		j.Status = models.JobStatusFailed
		j.LastError = lastError
		j.CompletedAt = &now
	}
	return nil
}

// jobStoreAdapter exposes the memStore under the JobStore method names.
type jobStoreAdapter struct {
	*memStore
}

func (a jobStoreAdapter) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	return a.GetJobByID(ctx, jobID)
}

func (a jobStoreAdapter) MarkCompleted(ctx context.Context, jobID string) error {
	return a.MarkJobCompleted(ctx, jobID)
}

func (a jobStoreAdapter) MarkFailed(ctx context.Context, jobID string, lastError *string) error {
	return a.MarkJobFailed(ctx, jobID, lastError)
}

// fakeNotifier records wake-ups instead of delivering them.
type fakeNotifier struct {
	mu     sync.Mutex
	jobIDs []string
}

func (f *fakeNotifier) Notify(ctx context.Context, jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobIDs = append(f.jobIDs, jobID)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobIDs)
}
