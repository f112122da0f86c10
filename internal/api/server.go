package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mathcivilce/mailsync/internal/models"
	"github.com/mathcivilce/mailsync/internal/repository"
)

// JobPlanner creates new sync jobs.
type JobPlanner interface {
	CreateSyncJob(ctx context.Context, accountID string) (*models.SyncJob, error)
}

// JobRunner drives the claim/process/complete loop for one job.
type JobRunner interface {
	RunJob(ctx context.Context, jobID string) error
}

// JobAdmin covers the administrative job operations.
type JobAdmin interface {
	GetByID(ctx context.Context, jobID string) (*models.SyncJob, error)
	Cancel(ctx context.Context, jobID string) error
	SetPaused(ctx context.Context, jobID string, paused bool) error
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StatusReader serves the read-only monitoring projection.
type StatusReader interface {
	JobStatus(ctx context.Context, jobID string) (*models.JobStatusView, error)
	ListByJob(ctx context.Context, jobID string, fromSeq, toSeq int) ([]models.ChunkJob, error)
}

// Server exposes the wake endpoint, the job API, and metrics.
type Server struct {
	planner JobPlanner
	runner  JobRunner
	admin   JobAdmin
	status  StatusReader
}

func NewServer(planner JobPlanner, runner JobRunner, admin JobAdmin, status StatusReader) *Server {
	return &Server{planner: planner, runner: runner, admin: admin, status: status}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/internal/wake", s.handleWake)

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Delete("/completed", s.handlePrune)
		r.Get("/{jobID}/status", s.handleJobStatus)
		r.Get("/{jobID}/chunks", s.handleJobChunks)
		r.Post("/{jobID}/cancel", s.handleCancel)
		r.Post("/{jobID}/pause", s.handlePause)
		r.Post("/{jobID}/resume", s.handleResume)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

type wakeRequest struct {
	JobID string `json:"job_id"`
}

// handleWake accepts the trigger dispatcher's wake call. It answers
// before any work happens; the claim engine decides whether there is
// anything to do, so duplicate wake-ups cost one claim attempt.
func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	var req wakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	job, err := s.admin.GetByID(r.Context(), req.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job.Status.IsTerminal() {
		writeError(w, http.StatusConflict, "job is already terminal")
		return
	}

	// Detached from the request: the wake caller never waits for chunk
	// processing.
	go func() {
		if err := s.runner.RunJob(context.Background(), req.JobID); err != nil {
			log.Printf("Wake run for job %s ended with error: %v", req.JobID, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type createJobRequest struct {
	AccountID string `json:"account_id"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	job, err := s.planner.CreateSyncJob(r.Context(), req.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.status.JobStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleJobChunks lists a job's chunk rows, optionally bounded by a
// sequence range (?from_seq=&to_seq=). Monitoring only.
func (s *Server) handleJobChunks(w http.ResponseWriter, r *http.Request) {
	fromSeq, ok := seqParam(r, "from_seq")
	if !ok {
		writeError(w, http.StatusBadRequest, "from_seq must be a positive integer")
		return
	}
	toSeq, ok := seqParam(r, "to_seq")
	if !ok {
		writeError(w, http.StatusBadRequest, "to_seq must be a positive integer")
		return
	}

	jobID := chi.URLParam(r, "jobID")
	if _, err := s.admin.GetByID(r.Context(), jobID); err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	chunks, err := s.status.ListByJob(r.Context(), jobID, fromSeq, toSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if chunks == nil {
		chunks = []models.ChunkJob{}
	}
	writeJSON(w, http.StatusOK, chunks)
}

// seqParam parses an optional positive-integer query parameter; absent
// means 0 (unbounded).
func seqParam(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.Cancel(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found or already terminal")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, true)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, false)
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	if err := s.admin.SetPaused(r.Context(), chi.URLParam(r, "jobID"), paused); err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

// handlePrune deletes completed jobs past the retention window.
// External housekeeping calls this; the orchestrator never does.
func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("older_than_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "older_than_days must be a positive integer")
			return
		}
		days = n
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	deleted, err := s.admin.DeleteCompletedBefore(r.Context(), cutoff)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
