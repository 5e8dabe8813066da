package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/research"
	"github.com/sells-group/property-research/internal/store"
)

// submitRequest is the POST /jobs body.
type submitRequest struct {
	Address     string         `json:"address"`
	Strategy    model.Strategy `json:"strategy,omitempty"`
	Assumptions map[string]any `json:"assumptions,omitempty"`
	Limits      struct {
		Groups          []string `json:"groups,omitempty"`
		MaxWorkers      int      `json:"max_workers,omitempty"`
		MaxCostUSD      float64  `json:"max_cost_usd,omitempty"`
		MaxDurationSecs int      `json:"max_duration_secs,omitempty"`
	} `json:"limits"`
}

func (req submitRequest) research() research.Request {
	return research.Request{
		Address:     req.Address,
		Strategy:    req.Strategy,
		Assumptions: req.Assumptions,
		Limits: model.JobLimits{
			Groups:      req.Limits.Groups,
			MaxWorkers:  req.Limits.MaxWorkers,
			MaxCostUSD:  req.Limits.MaxCostUSD,
			MaxDuration: time.Duration(req.Limits.MaxDurationSecs) * time.Second,
		},
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r.URL.Query().Get("lookback_hours"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "lookback_hours must be a non-negative integer")
		return
	}
	if hours == 0 {
		hours = 24
	}
	snap, err := s.stats.Collect(r.Context(), hours)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.orch.Submit(r.Context(), req.research())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// The job stays PENDING when its worker graph cannot be built.
	if _, err := s.orch.Plan(job); err != nil {
		writeSchedulingError(w, job, err)
		return
	}

	s.start(job.ID, s.orch.Run)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, "job is "+string(job.Status))
		return
	}
	if _, err := s.orch.Plan(job); err != nil {
		writeSchedulingError(w, job, err)
		return
	}

	if !s.start(job.ID, s.orch.Resume) {
		writeError(w, http.StatusConflict, "job is already running")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// start runs a job in the background under the server's run context. It
// returns false when the job is already running in this server.
func (s *Server) start(jobID string, run func(context.Context, string) (*model.AgenticJob, *research.Summary, error)) bool {
	s.mu.Lock()
	if _, ok := s.running[jobID]; ok {
		s.mu.Unlock()
		return false
	}
	s.running[jobID] = struct{}{}
	s.mu.Unlock()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, jobID)
			s.mu.Unlock()
		}()
		_, sum, err := run(s.runCtx, jobID)
		if err != nil {
			zap.L().Error("api: job run failed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		zap.L().Info("api: job finished",
			zap.String("job_id", jobID),
			zap.String("status", string(sum.Status)),
			zap.Float64("cost_usd", sum.CostUSD),
		)
	}()
	return true
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		Status:     model.JobStatus(q.Get("status")),
		PropertyID: q.Get("property_id"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+q.Get("status"))
		return
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if jobs == nil {
		jobs = []model.AgenticJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	runs, err := s.store.ListWorkerRuns(r.Context(), job.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if runs == nil {
		runs = []model.WorkerRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	ev, err := s.store.ListEvidence(r.Context(), store.EvidenceFilter{JobID: job.ID, Limit: limit})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if ev == nil {
		ev = []model.Evidence{}
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleGetDossier(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	d, err := s.store.GetDossier(r.Context(), job.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "dossier not ready")
		return
	}
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(d.Markdown))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (*model.AgenticJob, bool) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return nil, false
	}
	return job, true
}

// writeSchedulingError reports a job whose worker graph cannot be built,
// naming the offending workers.
func writeSchedulingError(w http.ResponseWriter, job *model.AgenticJob, err error) {
	var serr *research.SchedulingError
	if !errors.As(err, &serr) {
		writeStoreError(w, err)
		return
	}
	zap.L().Warn("api: job cannot be scheduled", zap.String("job_id", job.ID), zap.Error(err))
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error":   serr.Error(),
		"job_id":  job.ID,
		"status":  job.Status,
		"workers": serr.Workers,
	})
}

// writeStoreError maps orchestrator and store errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	var verr *research.ValidationError
	var serr *research.SchedulingError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &serr):
		writeError(w, http.StatusUnprocessableEntity, serr.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		zap.L().Error("api: request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
