package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/demoshot/internal/artifact"
	"github.com/JakeFAU/demoshot/internal/batch"
	"github.com/JakeFAU/demoshot/internal/capture"
	"github.com/JakeFAU/demoshot/internal/catalog"
	"github.com/JakeFAU/demoshot/internal/config"
	"github.com/JakeFAU/demoshot/internal/metrics"
	"github.com/JakeFAU/demoshot/internal/pipeline"
)

const (
	requestTimeout = 60 * time.Second
	readyTimeout   = 3 * time.Second
)

// Scheduler accepts asynchronous capture batches.
type Scheduler interface {
	Submit(ctx context.Context, targets []capture.Target, opts pipeline.Options) (batch.Job, error)
	Get(ctx context.Context, id string) (batch.Job, error)
}

// Regenerator rebuilds variants from an existing master.
type Regenerator interface {
	RegenerateVariants(ctx context.Context, target capture.Target) ([]artifact.Artifact, error)
	PublicURL(slug string) string
}

// Server wires HTTP handlers to the scheduler, pipeline and catalog.
type Server struct {
	router    chi.Router
	scheduler Scheduler
	regen     Regenerator
	catalog   catalog.Store
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	scheduler Scheduler,
	regen Regenerator,
	store catalog.Store,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scheduler: scheduler,
		regen:     regen,
		catalog:   store,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/captures", s.submitCaptures)
		r.Get("/jobs/{job_id}", s.getJob)
		r.Route("/targets", func(r chi.Router) {
			r.Get("/", s.listTargets)
			r.Get("/{slug}", s.getTarget)
			r.Post("/{slug}/variants", s.regenerateVariants)
		})
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
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if _, err := s.catalog.ListTargets(ctx); err != nil {
		s.logger.Warn("catalog not ready", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type captureRequest struct {
	Slugs    []string `json:"slugs"`
	All      bool     `json:"all"`
	Force    bool     `json:"force"`
	FullPage *bool    `json:"full_page"`
	Width    *int     `json:"width"`
	Height   *int     `json:"height"`
}

func (s *Server) submitCaptures(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Slugs) == 0 && !req.All {
		writeError(w, http.StatusBadRequest, "slugs required")
		return
	}

	targets, status, err := s.resolveTargets(r.Context(), req)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	defaults := s.cfg.CaptureOptions()
	opts := pipeline.Options{
		Force:    req.Force,
		FullPage: valueOrDefault(req.FullPage, defaults.FullPage),
		Width:    valueOrDefault(req.Width, defaults.Width),
		Height:   valueOrDefault(req.Height, defaults.Height),
	}
	job, err := s.scheduler.Submit(r.Context(), targets, opts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, batch.ErrShuttingDown) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "status": string(job.Status)})
}

func (s *Server) resolveTargets(ctx context.Context, req captureRequest) ([]capture.Target, int, error) {
	if req.All {
		targets, err := s.catalog.ListTargets(ctx)
		if err != nil {
			s.logger.Error("list targets failed", zap.Error(err))
			return nil, http.StatusInternalServerError, errors.New("failed to list targets")
		}
		return targets, 0, nil
	}
	targets := make([]capture.Target, 0, len(req.Slugs))
	for _, slug := range req.Slugs {
		target, err := s.catalog.GetTarget(ctx, slug)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, http.StatusNotFound, fmt.Errorf("target %q not found", slug)
			}
			s.logger.Error("get target failed", zap.String("slug", slug), zap.Error(err))
			return nil, http.StatusInternalServerError, errors.New("failed to load target")
		}
		targets = append(targets, target)
	}
	return targets, 0, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid job_id")
		return
	}
	job, err := s.scheduler.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

type targetDTO struct {
	Slug             string `json:"slug"`
	URL              string `json:"url"`
	KnownProblematic bool   `json:"known_problematic"`
	PublicURL        string `json:"public_url"`
}

func (s *Server) toTargetDTO(t capture.Target) targetDTO {
	return targetDTO{
		Slug:             t.Slug,
		URL:              t.URL,
		KnownProblematic: t.KnownProblematic,
		PublicURL:        s.regen.PublicURL(t.Slug),
	}
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.catalog.ListTargets(r.Context())
	if err != nil {
		s.logger.Error("list targets failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}
	out := make([]targetDTO, 0, len(targets))
	for _, t := range targets {
		out = append(out, s.toTargetDTO(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": out})
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	target, ok := s.lookupTarget(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": s.toTargetDTO(target)})
}

func (s *Server) regenerateVariants(w http.ResponseWriter, r *http.Request) {
	target, ok := s.lookupTarget(w, r)
	if !ok {
		return
	}
	variants, err := s.regen.RegenerateVariants(r.Context(), target)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrMasterMissing):
			writeError(w, http.StatusConflict, "master screenshot missing")
		case errors.Is(err, capture.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("regenerate variants failed", zap.String("slug", target.Slug), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to regenerate variants")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slug":       target.Slug,
		"public_url": s.regen.PublicURL(target.Slug),
		"variants":   variants,
	})
}

func (s *Server) lookupTarget(w http.ResponseWriter, r *http.Request) (capture.Target, bool) {
	slug := chi.URLParam(r, "slug")
	target, err := s.catalog.GetTarget(r.Context(), slug)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "target not found")
			return capture.Target{}, false
		}
		s.logger.Error("get target failed", zap.String("slug", slug), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load target")
		return capture.Target{}, false
	}
	return target, true
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
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
