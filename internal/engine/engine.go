// Package engine executes one crawl request at a time: it discovers URLs
// according to the crawl mode, filters them, fetches pages with bounded
// concurrency, delegates content extraction, and assembles documents and
// diagnostics into a single CrawlResult.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webingest/internal/clock/system"
	"github.com/JakeFAU/webingest/internal/crawler"
	"github.com/JakeFAU/webingest/internal/headless/detector"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultProgressInterval = 2 * time.Second
	DefaultMinContentLength = 10
	DefaultMaxErrors        = 50
	DefaultMaxSitemapDepth  = 3
	DefaultRequestTimeout   = 30 * time.Second

	maxSitemapURLs = 50000
)

// ProgressFunc receives best-effort progress snapshots. It is called from the
// crawl loop and must not block.
type ProgressFunc func(crawler.CrawlProgress)

// Config tunes engine behaviour that is not part of a crawl request.
type Config struct {
	ProgressInterval time.Duration
	MinContentLength int
	MaxErrors        int
	MaxSitemapDepth  int
	RequestTimeout   time.Duration
	UserAgent        string
}

func (c Config) withDefaults() Config {
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if c.MinContentLength <= 0 {
		c.MinContentLength = DefaultMinContentLength
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = DefaultMaxErrors
	}
	if c.MaxSitemapDepth <= 0 {
		c.MaxSitemapDepth = DefaultMaxSitemapDepth
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Engine runs crawls. It holds no per-crawl state, so one Engine may serve
// consecutive crawls; a worker never runs two at once.
type Engine struct {
	fetcher  crawler.Fetcher
	renderer crawler.Renderer
	parsers  crawler.ParserRegistry
	cfg      Config
	logger   *zap.Logger
	clock    crawler.Clock
	shells   *detector.Heuristic
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRenderer enables render_javascript support.
func WithRenderer(r crawler.Renderer) Option {
	return func(e *Engine) { e.renderer = r }
}

// WithClock overrides the time source.
func WithClock(c crawler.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New constructs an Engine. Without a renderer, render_javascript requests
// are served by the plain fetcher.
func New(fetcher crawler.Fetcher, parsers crawler.ParserRegistry, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		fetcher: fetcher,
		parsers: parsers,
		cfg:     cfg.withDefaults(),
		logger:  zap.NewNop(),
		clock:   system.New(),
		shells:  detector.NewHeuristic(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes req to completion and returns its terminal result. Page-level
// failures are recorded in the result; Run itself never fails. Cancelling ctx
// stops scheduling new pages and returns what was collected so far.
func (e *Engine) Run(ctx context.Context, req crawler.CrawlRequest, progress ProgressFunc) crawler.CrawlResult {
	start := e.clock.Now()
	logger := e.logger.With(zap.String("job_id", req.JobID), zap.String("url", req.URL))

	if err := req.Validate(); err != nil {
		logger.Warn("rejecting invalid crawl request", zap.Error(err))
		return crawler.FailedResult(req.JobID, err.Error(), e.clock.Now().Sub(start))
	}
	mode, _ := crawler.ParseCrawlMode(string(req.CrawlMode))
	req.CrawlMode = mode

	c, err := newCrawl(e, req, progress, logger, start)
	if err != nil {
		return crawler.FailedResult(req.JobID, err.Error(), e.clock.Now().Sub(start))
	}
	logger.Info("crawl started", zap.String("mode", string(mode)), zap.Int("max_pages", req.MaxPages))

	switch mode {
	case crawler.ModeSitemap:
		c.discoverSitemap(ctx)
	default:
		c.scheduleStart()
	}
	c.drain(ctx)

	result := c.finish()
	logger.Info("crawl finished",
		zap.String("status", string(result.Status)),
		zap.Int("pages_crawled", result.PagesCrawled),
		zap.Int("pages_failed", result.PagesFailed),
		zap.Float64("elapsed_seconds", result.ElapsedSeconds),
	)
	return result
}
