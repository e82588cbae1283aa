// Package api exposes the HTTP interface for the scraping service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-scraper/internal/metrics"
	"github.com/JakeFAU/lead-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/lead-scraper/internal/scheduler"
	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

const (
	defaultRequestTimeout = 60 * time.Second
	maxRequestBody        = 1 << 20
)

// JobService is the part of the scheduler the HTTP layer depends on.
type JobService interface {
	Submit(ctx context.Context, req scheduler.SubmitRequest) (scraper.Job, error)
	Get(ctx context.Context, id string) (scraper.Job, error)
	List(ctx context.Context) ([]scraper.Job, error)
}

// Options configures middleware around the routes.
type Options struct {
	// APIKey enables X-API-Key authentication when non-empty.
	APIKey         string
	RequestTimeout time.Duration
	// AllowedOrigins defaults to "*".
	AllowedOrigins []string
	// SubmitLimiter throttles POST /api/scrape per client IP. Nil disables it.
	SubmitLimiter *ratelimit.Limiter
	// Ready reports downstream readiness for /readyz. Nil means always ready.
	Ready func(context.Context) error
}

// Server wires HTTP handlers to the job scheduler.
type Server struct {
	router chi.Router
	jobs   JobService
	opts   Options
	logger *zap.Logger
}

type scrapeRequest struct {
	Location string   `json:"location"`
	Radius   *float64 `json:"radius"`
	Type     string   `json:"type"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobs JobService, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		jobs:   jobs,
		opts:   opts,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/scrape", s.submitScrape)
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{job_id}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	if s.opts.SubmitLimiter != nil && !s.opts.SubmitLimiter.Allow(clientIP(r)) {
		metrics.ObserveRejectedSubmission("rate_limited")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req scrapeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		metrics.ObserveRejectedSubmission("invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.jobs.Submit(r.Context(), scheduler.SubmitRequest{
		Location: req.Location,
		Radius:   req.Radius,
		Type:     req.Type,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, job)
	case errors.Is(err, scraper.ErrValidation):
		metrics.ObserveRejectedSubmission("validation")
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "service shutting down")
	default:
		s.logger.Error("submit job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []scraper.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Get(r.Context(), jobID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, job)
	case errors.Is(err, scraper.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	default:
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read job")
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
