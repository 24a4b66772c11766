// Package loader is the ingestion entry point: it submits a crawl to the
// worker pool, mirrors its progress into the JobManager, and hands the
// resulting documents to the IngestClient in batches.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webingest/internal/crawler"
	"github.com/JakeFAU/webingest/internal/metrics"
	"github.com/JakeFAU/webingest/internal/pool"
)

// Defaults applied by New.
const (
	DefaultBatchSize    = 100
	DefaultCrawlTimeout = 30 * time.Minute
)

// Crawler runs one crawl to completion. *pool.Pool implements it.
type Crawler interface {
	Crawl(
		ctx context.Context,
		req crawler.CrawlRequest,
		onProgress func(crawler.CrawlProgress),
		timeout time.Duration,
	) (crawler.CrawlResult, error)
}

// pendingChecker is implemented by crawlers that can report in-flight jobs.
type pendingChecker interface {
	HasPendingJob(jobID string) bool
}

// Config tunes the loader.
type Config struct {
	BatchSize    int
	CrawlTimeout time.Duration
	// IngestorID is stamped on every request and thus every document.
	IngestorID string
}

// Loader wires a Crawler to a JobManager and an IngestClient.
type Loader struct {
	crawler Crawler
	jobs    crawler.JobManager
	ingest  crawler.IngestClient
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Loader.
func New(c Crawler, jobs crawler.JobManager, ingest crawler.IngestClient, cfg Config, logger *zap.Logger) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.CrawlTimeout <= 0 {
		cfg.CrawlTimeout = DefaultCrawlTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{crawler: c, jobs: jobs, ingest: ingest, cfg: cfg, logger: logger.Named("loader")}
}

type loadOptions struct {
	datasourceID   string
	datasourceName string
}

// LoadOption customizes a single Load call.
type LoadOption func(*loadOptions)

// WithDatasource overrides the datasource derived from the URL.
func WithDatasource(id, name string) LoadOption {
	return func(o *loadOptions) {
		o.datasourceID = id
		o.datasourceName = name
	}
}

// Summary reports what one Load call did.
type Summary struct {
	JobID         string              `json:"job_id"`
	Status        crawler.CrawlStatus `json:"status"`
	JobStatus     crawler.JobStatus   `json:"job_status"`
	PagesCrawled  int                 `json:"pages_crawled"`
	PagesFailed   int                 `json:"pages_failed"`
	Documents     int                 `json:"documents"`
	Ingested      int                 `json:"ingested"`
	FailedBatches int                 `json:"failed_batches"`
}

// Load crawls rawURL under jobID and ingests what it finds. A crawl that
// ends in status failed is recorded on the job and is not an error; errors
// are returned only when the pool or the JobManager could not do its part.
func (l *Loader) Load(
	ctx context.Context,
	rawURL string,
	settings crawler.Settings,
	jobID string,
	opts ...LoadOption,
) (Summary, error) {
	o := loadOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.datasourceID == "" {
		o.datasourceID = crawler.DefaultDatasourceID(rawURL)
	}
	if o.datasourceName == "" {
		o.datasourceName = crawler.DefaultDatasourceName(rawURL)
	}
	req := crawler.CrawlRequest{
		JobID:          jobID,
		URL:            rawURL,
		DatasourceID:   o.datasourceID,
		DatasourceName: o.datasourceName,
		IngestorID:     l.cfg.IngestorID,
		Settings:       settings,
	}
	logger := l.logger.With(zap.String("job_id", jobID), zap.String("url", rawURL), zap.String("datasource_id", o.datasourceID))
	summary := Summary{JobID: jobID}

	// A job id already in flight belongs to another Load; its JobManager
	// record must not be touched.
	if pc, ok := l.crawler.(pendingChecker); ok && pc.HasPendingJob(jobID) {
		logger.Warn("rejecting duplicate submission")
		return summary, fmt.Errorf("crawl job %s: %w", jobID, pool.ErrDuplicateJob)
	}

	if err := l.jobs.UpsertJob(ctx, jobID, crawler.JobStatusInProgress, startMessage(rawURL, settings), nil); err != nil {
		return summary, fmt.Errorf("mark job %s in progress: %w", jobID, err)
	}
	logger.Info("crawl submitted", zap.String("crawl_mode", string(settings.CrawlMode)), zap.Int("max_pages", settings.MaxPages))

	tracker := &progressTracker{jobID: jobID, jobs: l.jobs, logger: logger}
	result, err := l.crawler.Crawl(ctx, req, func(p crawler.CrawlProgress) { tracker.observe(ctx, p) }, l.cfg.CrawlTimeout)
	if errors.Is(err, pool.ErrDuplicateJob) {
		logger.Warn("rejecting duplicate submission", zap.Error(err))
		return summary, fmt.Errorf("crawl job %s: %w", jobID, err)
	}
	if err != nil {
		logger.Error("crawl dispatch failed", zap.Error(err))
		l.note(ctx, jobID, fmt.Sprintf("Crawl failed: %v", err), logger)
		l.mark(ctx, jobID, crawler.JobStatusFailed, fmt.Sprintf("Crawl failed: %v", err), logger)
		summary.Status = crawler.StatusFailed
		summary.JobStatus = crawler.JobStatusFailed
		return summary, fmt.Errorf("crawl job %s: %w", jobID, err)
	}
	tracker.settle(ctx, result.PagesCrawled)

	summary.Status = result.Status
	summary.PagesCrawled = result.PagesCrawled
	summary.PagesFailed = result.PagesFailed
	summary.Documents = len(result.Documents)

	for _, msg := range result.Errors {
		l.note(ctx, jobID, msg, logger)
	}
	if result.Status == crawler.StatusFailed {
		fatal := result.FatalError
		if fatal == "" {
			fatal = "Crawl failed"
		}
		l.note(ctx, jobID, fatal, logger)
		l.mark(ctx, jobID, crawler.JobStatusFailed, fatal, logger)
		summary.JobStatus = crawler.JobStatusFailed
		logger.Warn("crawl failed", zap.String("fatal_error", fatal), zap.Int("errors", len(result.Errors)))
		return summary, nil
	}

	summary.Ingested, summary.FailedBatches = l.ingestAll(ctx, jobID, o.datasourceID, settings.FreshUntil, result.Documents, logger)

	summary.JobStatus = crawler.JobStatusCompleted
	if result.PagesFailed > 0 || summary.FailedBatches > 0 {
		summary.JobStatus = crawler.JobStatusCompletedWithErrors
	}
	msg := fmt.Sprintf("Crawled %d pages, ingested %d documents", result.PagesCrawled, summary.Ingested)
	if result.PagesFailed > 0 {
		msg += fmt.Sprintf(" (%d pages failed)", result.PagesFailed)
	}
	l.mark(ctx, jobID, summary.JobStatus, msg, logger)
	logger.Info("crawl ingested",
		zap.String("status", string(result.Status)),
		zap.Int("pages_crawled", result.PagesCrawled),
		zap.Int("pages_failed", result.PagesFailed),
		zap.Int("ingested", summary.Ingested),
		zap.Float64("elapsed_seconds", result.ElapsedSeconds),
	)
	return summary, nil
}

// ingestAll sends documents in batches. A failed batch is recorded and the
// remaining batches still go out.
func (l *Loader) ingestAll(
	ctx context.Context,
	jobID, datasourceID string,
	freshUntil int64,
	docs []crawler.Document,
	logger *zap.Logger,
) (ingested, failedBatches int) {
	if len(docs) == 0 {
		return 0, 0
	}
	batches := (len(docs) + l.cfg.BatchSize - 1) / l.cfg.BatchSize
	for i := 0; i < batches; i++ {
		start := i * l.cfg.BatchSize
		end := min(start+l.cfg.BatchSize, len(docs))
		batch := make([]crawler.Document, end-start)
		copy(batch, docs[start:end])
		if freshUntil > 0 {
			for j := range batch {
				if batch[j].Metadata.FreshUntil == 0 {
					batch[j].Metadata.FreshUntil = freshUntil
				}
			}
		}
		if err := l.ingest.IngestDocuments(ctx, jobID, datasourceID, batch); err != nil {
			failedBatches++
			metrics.ObserveIngest("error", len(batch))
			logger.Error("ingest batch failed", zap.Int("batch", i+1), zap.Int("batches", batches), zap.Error(err))
			l.note(ctx, jobID, fmt.Sprintf("Failed to ingest batch %d/%d: %v", i+1, batches, err), logger)
			continue
		}
		ingested += len(batch)
		metrics.ObserveIngest("ok", len(batch))
		logger.Debug("ingested batch", zap.Int("batch", i+1), zap.Int("batches", batches), zap.Int("total", ingested))
	}
	return ingested, failedBatches
}

func (l *Loader) note(ctx context.Context, jobID, msg string, logger *zap.Logger) {
	if err := l.jobs.AddErrorMsg(ctx, jobID, msg); err != nil {
		logger.Warn("record job error failed", zap.Error(err))
	}
}

func (l *Loader) mark(ctx context.Context, jobID string, status crawler.JobStatus, msg string, logger *zap.Logger) {
	if err := l.jobs.UpsertJob(ctx, jobID, status, msg, nil); err != nil {
		logger.Error("update job status failed", zap.String("status", string(status)), zap.Error(err))
	}
}

func startMessage(rawURL string, s crawler.Settings) string {
	mode, err := crawler.ParseCrawlMode(string(s.CrawlMode))
	if err != nil {
		mode = s.CrawlMode
	}
	switch mode {
	case crawler.ModeSitemap:
		return fmt.Sprintf("Discovering sitemap for %s", rawURL)
	case crawler.ModeRecursive:
		return fmt.Sprintf("Crawling %s recursively (max %d pages)", rawURL, s.MaxPages)
	default:
		return fmt.Sprintf("Crawling %s", rawURL)
	}
}

// progressTracker turns absolute pages_crawled counts into JobManager deltas.
type progressTracker struct {
	jobID  string
	jobs   crawler.JobManager
	logger *zap.Logger

	mu        sync.Mutex
	last      int
	totalSent bool
}

func (t *progressTracker) observe(ctx context.Context, p crawler.CrawlProgress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.TotalPages != nil && !t.totalSent {
		t.totalSent = true
		if err := t.jobs.UpsertJob(ctx, t.jobID, crawler.JobStatusInProgress, p.Message, p.TotalPages); err != nil {
			t.logger.Warn("record job total failed", zap.Error(err))
		}
	}
	t.advance(ctx, p.PagesCrawled)
}

// settle accounts for progress updates that were dropped in transit.
func (t *progressTracker) settle(ctx context.Context, pagesCrawled int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advance(ctx, pagesCrawled)
}

func (t *progressTracker) advance(ctx context.Context, pagesCrawled int) {
	delta := pagesCrawled - t.last
	if delta <= 0 {
		return
	}
	t.last = pagesCrawled
	if err := t.jobs.IncrementProgress(ctx, t.jobID, delta); err != nil && !errors.Is(err, context.Canceled) {
		t.logger.Warn("record job progress failed", zap.Error(err))
	}
}
