// Package app builds the long-lived services from configuration and owns
// their start and shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/webingest/internal/api"
	"github.com/JakeFAU/webingest/internal/config"
	"github.com/JakeFAU/webingest/internal/crawler"
	"github.com/JakeFAU/webingest/internal/engine"
	collyfetcher "github.com/JakeFAU/webingest/internal/fetcher/colly"
	"github.com/JakeFAU/webingest/internal/fetcher/headless"
	"github.com/JakeFAU/webingest/internal/id/uuid"
	ingestfile "github.com/JakeFAU/webingest/internal/ingest/file"
	ingestgcs "github.com/JakeFAU/webingest/internal/ingest/gcs"
	ingestmem "github.com/JakeFAU/webingest/internal/ingest/memory"
	ingestpubsub "github.com/JakeFAU/webingest/internal/ingest/pubsub"
	jobsmem "github.com/JakeFAU/webingest/internal/jobs/memory"
	jobspg "github.com/JakeFAU/webingest/internal/jobs/postgres"
	jobsredis "github.com/JakeFAU/webingest/internal/jobs/redis"
	"github.com/JakeFAU/webingest/internal/loader"
	"github.com/JakeFAU/webingest/internal/metrics"
	"github.com/JakeFAU/webingest/internal/parser"
	"github.com/JakeFAU/webingest/internal/pool"
	"github.com/JakeFAU/webingest/internal/progress"
	"github.com/JakeFAU/webingest/internal/progress/sinks"
	"github.com/JakeFAU/webingest/internal/worker"
)

// App holds the services shared by the serve and crawl commands.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	pool   *pool.Pool
	hub    *progress.Hub
	loader *loader.Loader
	jobs   crawler.JobManager
	reader crawler.JobReader
	ingest crawler.IngestClient

	// closers run in reverse order on Close.
	closers []func(context.Context) error
}

// Option overrides a collaborator New would otherwise build from config.
type Option func(*options)

type options struct {
	jobs       crawler.JobManager
	ingest     crawler.IngestClient
	registerer prometheus.Registerer
	runner     pool.RunnerFactory
}

// WithJobManager replaces the configured JobManager.
func WithJobManager(m crawler.JobManager) Option {
	return func(o *options) { o.jobs = m }
}

// WithIngestClient replaces the configured IngestClient.
func WithIngestClient(c crawler.IngestClient) Option {
	return func(o *options) { o.ingest = c }
}

// WithRegisterer registers the job lifecycle collectors on reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithRunnerFactory replaces the engine-backed runners.
func WithRunnerFactory(f pool.RunnerFactory) Option {
	return func(o *options) { o.runner = f }
}

// New wires every service from cfg. Nothing is started; call Start.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	fail := func(err error) (*App, error) {
		_ = a.Close(context.Background())
		return nil, err
	}

	if err := a.initJobs(ctx, o.jobs); err != nil {
		return fail(err)
	}
	if err := a.initIngest(ctx, o.ingest); err != nil {
		return fail(err)
	}
	if err := a.initHub(o.registerer); err != nil {
		return fail(err)
	}

	factory := o.runner
	if factory == nil {
		var err error
		if factory, err = a.engineFactory(); err != nil {
			return fail(err)
		}
	}
	a.pool = pool.New(pool.Config{
		Workers:                cfg.Pool.Workers,
		StartupTimeout:         cfg.Pool.StartupTimeout,
		AcquireTimeout:         cfg.Pool.AcquireTimeout,
		ResultBuffer:           cfg.Pool.ResultBuffer,
		ProgressBuffer:         cfg.Pool.ProgressBuffer,
		ReclaimTimedOutWorkers: cfg.Pool.ReclaimTimedOutWorkers,
	}, factory, pool.WithLogger(logger), pool.WithEmitter(a.hub))

	a.loader = loader.New(a.pool, a.jobs, a.ingest, loader.Config{
		BatchSize:    cfg.Loader.BatchSize,
		CrawlTimeout: cfg.Pool.CrawlTimeout,
		IngestorID:   cfg.Loader.IngestorID,
	}, logger)
	return a, nil
}

func (a *App) initJobs(ctx context.Context, override crawler.JobManager) error {
	if override != nil {
		a.jobs = override
		a.reader, _ = override.(crawler.JobReader)
		return nil
	}
	switch a.cfg.Jobs.Backend {
	case config.BackendPostgres:
		m, err := jobspg.New(ctx, jobspg.Config{
			DSN:      a.cfg.Jobs.Postgres.DSN,
			Table:    a.cfg.Jobs.Postgres.Table,
			MaxConns: a.cfg.Jobs.Postgres.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("init postgres jobs: %w", err)
		}
		a.onClose(func(context.Context) error { m.Close(); return nil })
		if a.cfg.Jobs.Postgres.EnsureSchema {
			if err := m.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("init postgres jobs: %w", err)
			}
		}
		a.jobs, a.reader = m, m
	case config.BackendRedis:
		m, err := jobsredis.New(ctx, jobsredis.Config{
			Addr:     a.cfg.Jobs.Redis.Addr,
			Password: a.cfg.Jobs.Redis.Password,
			DB:       a.cfg.Jobs.Redis.DB,
			Prefix:   a.cfg.Jobs.Redis.Prefix,
			TTL:      a.cfg.Jobs.Redis.TTL,
		})
		if err != nil {
			return fmt.Errorf("init redis jobs: %w", err)
		}
		a.onClose(func(context.Context) error { return m.Close() })
		a.jobs, a.reader = m, m
	default:
		m := jobsmem.New(nil)
		a.jobs, a.reader = m, m
	}
	a.logger.Info("job manager ready", zap.String("backend", a.cfg.Jobs.Backend))
	return nil
}

func (a *App) initIngest(ctx context.Context, override crawler.IngestClient) error {
	if override != nil {
		a.ingest = override
		return nil
	}
	switch a.cfg.Ingest.Backend {
	case config.BackendFile:
		c, err := ingestfile.New(a.cfg.Ingest.Dir)
		if err != nil {
			return fmt.Errorf("init file ingest: %w", err)
		}
		a.ingest = c
	case config.BackendGCS:
		sc, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs ingest: %w", err)
		}
		a.onClose(func(context.Context) error { return sc.Close() })
		c, err := ingestgcs.New(sc, ingestgcs.Config{Bucket: a.cfg.Ingest.GCS.Bucket, Prefix: a.cfg.Ingest.GCS.Prefix})
		if err != nil {
			return fmt.Errorf("init gcs ingest: %w", err)
		}
		a.ingest = c
	case config.BackendPubSub:
		c, closeFn, err := ingestpubsub.Dial(ctx, a.cfg.Ingest.PubSub.ProjectID, a.cfg.Ingest.PubSub.Topic)
		if err != nil {
			return fmt.Errorf("init pubsub ingest: %w", err)
		}
		a.onClose(func(context.Context) error { return closeFn() })
		a.ingest = c
	default:
		a.ingest = ingestmem.New()
	}
	a.logger.Info("ingest client ready", zap.String("backend", a.cfg.Ingest.Backend))
	return nil
}

func (a *App) initHub(reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("init progress sinks: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:    a.cfg.Progress.BufferSize,
		FlushInterval: a.cfg.Progress.FlushInterval,
		Logger:        a.logger,
		OnDrop:        func() { metrics.ObserveProgressDropped("hub") },
	}, sinks.NewLogSink(a.logger), promSink)
	a.onClose(a.hub.Close)
	return nil
}

// engineFactory gives every worker its own Engine over a shared fetcher,
// renderer and parser registry.
func (a *App) engineFactory() (pool.RunnerFactory, error) {
	cfg := a.cfg
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.Crawler.RequestTimeout,
		MaxBodyBytes: cfg.Crawler.MaxBodyBytes,
	}, a.logger.Named("fetcher"))
	registry := parser.Default()

	var renderer crawler.Renderer
	if cfg.Headless.Enabled {
		r, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
			ExecPath:          cfg.Headless.ExecPath,
		}, a.logger.Named("headless"))
		if err != nil {
			return nil, fmt.Errorf("init headless renderer: %w", err)
		}
		a.onClose(func(context.Context) error { r.Close(); return nil })
		renderer = r
	}

	engineCfg := engine.Config{
		ProgressInterval: cfg.Crawler.ProgressInterval,
		MinContentLength: cfg.Crawler.MinContentLength,
		MaxErrors:        cfg.Crawler.MaxErrors,
		MaxSitemapDepth:  cfg.Crawler.MaxSitemapDepth,
		RequestTimeout:   cfg.Crawler.RequestTimeout,
		UserAgent:        cfg.Crawler.UserAgent,
	}
	return func(workerID int) worker.Runner {
		opts := []engine.Option{engine.WithLogger(a.logger.With(zap.Int("worker_id", workerID)))}
		if renderer != nil {
			opts = append(opts, engine.WithRenderer(renderer))
		}
		return engine.New(fetcher, registry, engineCfg, opts...)
	}, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Start brings up the worker pool.
func (a *App) Start(ctx context.Context) error {
	if err := a.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	return nil
}

// Loader returns the ingestion entry point.
func (a *App) Loader() *loader.Loader { return a.loader }

// Pool returns the worker pool.
func (a *App) Pool() *pool.Pool { return a.pool }

// Jobs returns the configured JobManager.
func (a *App) Jobs() crawler.JobManager { return a.jobs }

// Ingest returns the configured IngestClient.
func (a *App) Ingest() crawler.IngestClient { return a.ingest }

// NewServer builds the HTTP API on top of the app's services.
func (a *App) NewServer() *api.Server {
	return api.NewServer(api.Deps{
		Loader: a.loader,
		Jobs:   a.reader,
		Pool:   a.pool,
		IDs:    uuid.New(),
	}, api.Config{
		APIKey:         a.cfg.Server.APIKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
		Defaults:       a.cfg.CrawlDefaults(),
	}, a.logger)
}

// Close stops the pool and releases backends in reverse construction order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		timeout := a.cfg.Pool.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = min(timeout, time.Until(deadline))
		}
		if err := a.pool.Shutdown(timeout); err != nil {
			errs = append(errs, fmt.Errorf("shutdown pool: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
