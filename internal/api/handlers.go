package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/example/evmscan/internal/bootstrap"
	"github.com/example/evmscan/internal/config"
)

// handleJobs acts as a multiplexer: POST creates a new job, other verbs not
// allowed.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createJob(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobByID routes GET and DELETE for specific job IDs.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" {
		http.Error(w, "job id missing", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getJob(w, r, id)
	case http.MethodDelete:
		s.cancelJob(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// createJob handles POST /jobs.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req JobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Contracts) == 0 {
		http.Error(w, "at least one contract must be provided", http.StatusBadRequest)
		return
	}
	if len(req.Endpoints) == 0 {
		http.Error(w, "at least one endpoint must be provided", http.StatusBadRequest)
		return
	}

	jobID := uuid.NewString()

	status := &JobStatus{
		JobID:     jobID,
		Status:    "queued",
		StartedAt: time.Now(),
	}

	s.mu.Lock()
	s.jobs[jobID] = &jobEntry{status: status}
	s.mu.Unlock()

	go s.runJob(jobID, req)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(JobResponse{JobID: jobID})
}

// runJob converts the request into a config.Config, wires a
// scanner.Controller via bootstrap.Build, and runs it until completion,
// cancellation, or error.
func (s *Server) runJob(jobID string, req JobRequest) {
	s.mu.Lock()
	entry := s.jobs[jobID]
	if entry == nil {
		entry = &jobEntry{status: &JobStatus{JobID: jobID}}
		s.jobs[jobID] = entry
	}
	entry.status.Status = "running"
	s.mu.Unlock()

	cfg, err := configFromRequest(req)
	if err != nil {
		s.markJobError(jobID, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	entry.cancel = cancel
	s.mu.Unlock()

	built, err := bootstrap.Build(ctx, cfg, filepath.Join(s.dataDir, jobID))
	if err != nil {
		s.markJobError(jobID, err)
		return
	}

	s.mu.Lock()
	entry.store = built.Store
	s.mu.Unlock()

	if err := built.Controller.ScanBlocks(ctx, built.Start, built.End, built.Live); err != nil {
		if ctx.Err() != nil {
			// Cancelled via DELETE /jobs/{id}; cancelJob already updated status.
			return
		}
		s.markJobError(jobID, err)
		return
	}

	s.mu.Lock()
	entry.status.Status = "finished"
	finished := time.Now()
	entry.status.FinishedAt = &finished
	entry.status.LatestBlock = built.Store.Latest()
	s.mu.Unlock()
}

// getJob handles GET /jobs/{id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.RLock()
	entry, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	s.mu.RLock()
	status := *entry.status
	if entry.store != nil {
		status.LatestBlock = entry.store.Latest()
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// cancelJob handles DELETE /jobs/{id}.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	entry, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	if entry.cancel != nil {
		entry.cancel()
	}

	s.mu.Lock()
	entry.status.Status = "cancelled"
	finished := time.Now()
	entry.status.FinishedAt = &finished
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// markJobError sets the status of the job to error with the provided err.
func (s *Server) markJobError(jobID string, err error) {
	logrus.Errorf("job %s failed: %v", jobID, err)
	s.mu.Lock()
	if entry, ok := s.jobs[jobID]; ok {
		entry.status.Status = "error"
		entry.status.Error = err.Error()
		finished := time.Now()
		entry.status.FinishedAt = &finished
	}
	s.mu.Unlock()
}

// configFromRequest converts the HTTP request into a config.Config,
// applying the same defaulting rules config.Load applies to a YAML file.
func configFromRequest(req JobRequest) (*config.Config, error) {
	cfg := &config.Config{
		Mode:          req.Mode,
		StartBlock:    req.StartBlock,
		EndBlock:      req.EndBlock,
		LiveThreshold: req.LiveThreshold,
		Contracts:     req.Contracts,
		Events:        req.Events,
		Endpoints:     req.Endpoints,
		Storage:       req.Storage,
		Retry:         req.Retry,
	}
	if err := cfg.ApplyRequestDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}
