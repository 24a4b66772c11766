package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/webingest/internal/crawler"
	"github.com/JakeFAU/webingest/internal/loader"
	"github.com/JakeFAU/webingest/internal/metrics"
	"github.com/JakeFAU/webingest/internal/pool"
)

const defaultRequestTimeout = 30 * time.Second

// Submitter runs one ingestion job. *loader.Loader implements it.
type Submitter interface {
	Load(
		ctx context.Context,
		rawURL string,
		settings crawler.Settings,
		jobID string,
		opts ...loader.LoadOption,
	) (loader.Summary, error)
}

// PoolStatus is the read-only view of the worker pool the API needs.
type PoolStatus interface {
	Started() bool
	HasPendingJob(jobID string) bool
	Stats() pool.Stats
}

// Deps are the collaborators behind the routes. Jobs may be nil when the
// configured JobManager cannot report state.
type Deps struct {
	Loader Submitter
	Jobs   crawler.JobReader
	Pool   PoolStatus
	IDs    crawler.IDGenerator
}

// Config tunes the HTTP surface.
type Config struct {
	// APIKey, when set, is required on every /v1 route.
	APIKey         string
	RequestTimeout time.Duration
	// Defaults fill settings the caller leaves out.
	Defaults crawler.Settings
}

// Server owns the router and the jobs it started.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    Config
	logger *zap.Logger

	// loads outlive the request that started them.
	loadCtx    context.Context
	cancelLoad context.CancelFunc
	loads      sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:       deps,
		cfg:        cfg,
		logger:     logger.Named("api"),
		loadCtx:    ctx,
		cancelLoad: cancel,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Post("/ingest", s.submitIngest)
		r.Get("/jobs/{job_id}", s.getJob)
		r.Get("/pool", s.poolStats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Drain waits for jobs started through the API. When ctx expires first the
// remaining loads are canceled and ctx's error is returned.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.loads.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancelLoad()
		return nil
	case <-ctx.Done():
		s.cancelLoad()
		<-done
		return ctx.Err()
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Pool == nil || !s.deps.Pool.Started() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		zap.L().Warn("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
