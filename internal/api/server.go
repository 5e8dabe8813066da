// Package api exposes research jobs over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/property-research/internal/monitoring"
	"github.com/sells-group/property-research/internal/research"
	"github.com/sells-group/property-research/internal/store"
)

// Server routes HTTP requests to the orchestrator and store.
type Server struct {
	orch   *research.Orchestrator
	store  store.Store
	stats  *monitoring.Collector
	router chi.Router

	// runCtx bounds jobs started in the background; cancelling it leaves
	// them IN_PROGRESS for a later resume.
	runCtx context.Context
	runs   sync.WaitGroup

	mu      sync.Mutex
	running map[string]struct{}
}

// Options configures a Server.
type Options struct {
	CORSOrigins []string
	// StaleAfter marks IN_PROGRESS jobs as stuck in /stats; 0 disables it.
	StaleAfter time.Duration
}

// New creates a Server. Jobs accepted over HTTP run under ctx.
func New(ctx context.Context, orch *research.Orchestrator, st store.Store, opts Options) *Server {
	s := &Server{
		orch:    orch,
		store:   st,
		stats:   monitoring.NewCollector(st, opts.StaleAfter),
		runCtx:  ctx,
		running: make(map[string]struct{}),
	}
	s.router = s.buildRouter(opts)
	return s
}

func (s *Server) buildRouter(opts Options) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Post("/", s.handleSubmitJob)
		r.Get("/{id}", s.handleGetJob)
		r.Post("/{id}/resume", s.handleResumeJob)
		r.Get("/{id}/workers", s.handleListWorkers)
		r.Get("/{id}/evidence", s.handleListEvidence)
		r.Get("/{id}/dossier", s.handleGetDossier)
	})

	return r
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until every background job started by the server returns.
func (s *Server) Wait() {
	s.runs.Wait()
}

// JSON response helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close() //nolint:errcheck
	return json.NewDecoder(r.Body).Decode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}
