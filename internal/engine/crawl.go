package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/webingest/internal/crawler"
	"github.com/JakeFAU/webingest/internal/metrics"
)

// queued is one scheduled URL.
type queued struct {
	url   string
	depth int
	// origin marks the start URL, whose final location defines the effective
	// domain in single and recursive mode.
	origin bool
}

// fetched is the outcome of fetching one queued URL.
type fetched struct {
	item queued
	page crawler.Page
	err  error
}

// crawl holds the mutable state of one Run. It is only touched by the
// goroutine executing Run; fetch goroutines communicate through channels.
type crawl struct {
	e        *Engine
	req      crawler.CrawlRequest
	progress ProgressFunc
	logger   *zap.Logger
	start    time.Time

	allowed []*regexp.Regexp
	denied  []*regexp.Regexp
	limiter *rate.Limiter

	startDomain     string
	effectiveDomain string

	// seen holds every normalized URL already scheduled or rejected.
	seen map[string]struct{}
	// emitted holds normalized final URLs that produced a document.
	emitted   map[string]struct{}
	scheduled int
	queue     []queued

	documents    []crawler.Document
	pagesCrawled int
	pagesFailed  int
	errors       []string
	counters     crawler.FilterCounters
	totalPages   *int

	// shells counts short pages that looked client-rendered.
	shells int
	// robotsAssumed holds hosts already reported as having no readable
	// robots.txt.
	robotsAssumed map[string]struct{}

	lastProgress time.Time
	interrupted  bool
}

func newCrawl(e *Engine, req crawler.CrawlRequest, progress ProgressFunc, logger *zap.Logger, start time.Time) (*crawl, error) {
	allowed, err := crawler.CompilePatterns(req.AllowedURLPatterns)
	if err != nil {
		return nil, fmt.Errorf("allowed_url_patterns: %w", err)
	}
	denied, err := crawler.CompilePatterns(req.DeniedURLPatterns)
	if err != nil {
		return nil, fmt.Errorf("denied_url_patterns: %w", err)
	}
	var limiter *rate.Limiter
	if req.DownloadDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(req.DownloadDelay), 1)
	}
	if progress == nil {
		progress = func(crawler.CrawlProgress) {}
	}
	domain := crawler.Domain(req.URL)
	return &crawl{
		e:               e,
		req:             req,
		progress:        progress,
		logger:          logger,
		start:           start,
		allowed:         allowed,
		denied:          denied,
		limiter:         limiter,
		startDomain:     domain,
		effectiveDomain: domain,
		seen:            make(map[string]struct{}),
		emitted:         make(map[string]struct{}),
		robotsAssumed:   make(map[string]struct{}),
		lastProgress:    start,
	}, nil
}

// scheduleStart queues the start URL. It bypasses domain and pattern rules
// but still counts against the page budget.
func (c *crawl) scheduleStart() {
	norm, err := crawler.NormalizeURL(c.req.URL)
	if err != nil {
		c.addError(fmt.Sprintf("Invalid start URL %s: %v", c.req.URL, err))
		return
	}
	if _, ok := c.seen[norm]; ok {
		return
	}
	c.seen[norm] = struct{}{}
	c.scheduled++
	c.queue = append(c.queue, queued{url: norm, origin: true})
}

// shouldFollow is the shared filter predicate. Checks run in a fixed order
// so each rejected URL increments at most one counter. Rejected URLs are
// remembered so rediscovering them does not inflate the counters.
func (c *crawl) shouldFollow(raw string) (string, bool) {
	norm, err := crawler.NormalizeURL(raw)
	if err != nil {
		return "", false
	}
	if _, ok := c.seen[norm]; ok {
		return "", false
	}
	c.seen[norm] = struct{}{}

	if c.scheduled >= c.req.MaxPages {
		c.counters.URLsFilteredMaxPages++
		c.logger.Debug("filtered: page budget exhausted", zap.String("candidate", norm))
		return "", false
	}
	if !c.req.FollowExternalLinks && crawler.Domain(norm) != c.effectiveDomain {
		c.counters.URLsFilteredExternal++
		c.logger.Debug("filtered: external domain", zap.String("candidate", norm),
			zap.String("effective_domain", c.effectiveDomain))
		return "", false
	}
	if len(c.allowed) > 0 && !matchesAny(c.allowed, norm) {
		c.counters.URLsFilteredPattern++
		c.logger.Debug("filtered: no allowed pattern matches", zap.String("candidate", norm))
		return "", false
	}
	if matchesAny(c.denied, norm) {
		c.counters.URLsFilteredPattern++
		c.logger.Debug("filtered: denied pattern matches", zap.String("candidate", norm))
		return "", false
	}
	c.scheduled++
	return norm, true
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func (c *crawl) concurrency() int {
	return max(1, c.req.ConcurrentRequests)
}

// drain fetches queued URLs until the queue is empty. Up to concurrency
// fetches run at once; their results are applied here one at a time.
func (c *crawl) drain(ctx context.Context) {
	limit := c.concurrency()
	results := make(chan fetched, limit)
	var g errgroup.Group
	g.SetLimit(limit)

	inFlight := 0
	for {
		for inFlight < limit && len(c.queue) > 0 && ctx.Err() == nil {
			item := c.queue[0]
			c.queue = c.queue[1:]
			inFlight++
			g.Go(func() error {
				page, err := c.fetch(ctx, item.url)
				results <- fetched{item: item, page: page, err: err}
				return nil
			})
		}
		if inFlight == 0 {
			break
		}
		res := <-results
		inFlight--
		c.handle(res)
		c.maybeProgress(false)
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		c.interrupted = true
		c.addError(fmt.Sprintf("Crawl interrupted: %v", ctx.Err()))
	}
}

func (c *crawl) fetch(ctx context.Context, rawURL string) (crawler.Page, error) {
	if c.limiter != nil {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			return crawler.Page{}, fmt.Errorf("download delay wait: %w", err)
		}
		metrics.ObserveRateLimitDelay(crawler.Domain(rawURL), time.Since(waitStart))
	}
	request := crawler.FetchRequest{
		JobID:           c.req.JobID,
		URL:             rawURL,
		UserAgent:       c.userAgent(),
		Timeout:         c.e.cfg.RequestTimeout,
		RespectRobots:   c.req.RespectRobotsTxt,
		WaitForSelector: c.req.WaitForSelector,
	}
	if c.req.RenderJavaScript && c.e.renderer != nil {
		if c.req.PageLoadTimeout > 0 {
			request.Timeout = c.req.PageLoadTimeout
		}
		return c.e.renderer.Render(ctx, request)
	}
	return c.e.fetcher.Fetch(ctx, request)
}

// fetchRaw fetches discovery resources (sitemaps, robots.txt), which are
// never rendered and never subject to robots rules.
func (c *crawl) fetchRaw(ctx context.Context, rawURL string) (crawler.Page, error) {
	return c.e.fetcher.Fetch(ctx, crawler.FetchRequest{
		JobID:     c.req.JobID,
		URL:       rawURL,
		UserAgent: c.userAgent(),
		Timeout:   c.e.cfg.RequestTimeout,
	})
}

func (c *crawl) userAgent() string {
	if c.req.UserAgent != "" {
		return c.req.UserAgent
	}
	return c.e.cfg.UserAgent
}

// handle applies one page outcome to the crawl state.
func (c *crawl) handle(res fetched) {
	url := res.item.url
	if res.err != nil {
		if errors.Is(res.err, crawler.ErrRobotsBlocked) {
			c.counters.URLsFilteredRobots++
			c.logger.Debug("skipped: disallowed by robots.txt", zap.String("page", url))
			metrics.ObservePage(url, "blocked", 0)
			return
		}
		c.pageFailed(url, ClassifyError(url, res.err), res.err)
		return
	}
	page := res.page
	if page.RobotsAssumed {
		c.robotsUnreachable(url)
	}
	if page.StatusCode < 200 || page.StatusCode > 299 {
		c.pageFailed(url, ClassifyStatus(url, page.StatusCode), nil)
		return
	}

	finalURL := url
	if page.FinalURL != "" {
		if norm, err := crawler.NormalizeURL(page.FinalURL); err == nil {
			finalURL = norm
		}
	}
	if res.item.origin {
		if d := crawler.Domain(finalURL); d != "" && d != c.effectiveDomain {
			c.logger.Info("start URL redirected, switching effective domain",
				zap.String("from", c.effectiveDomain), zap.String("to", d))
			c.effectiveDomain = d
		}
	} else if !c.req.FollowExternalLinks && crawler.Domain(finalURL) != c.effectiveDomain {
		c.counters.URLsFilteredExternal++
		c.logger.Debug("skipped: redirected off the effective domain",
			zap.String("page", url), zap.String("final_url", finalURL))
		return
	}
	// The redirect target counts as visited so links to it are not refetched.
	c.seen[finalURL] = struct{}{}

	if c.req.CrawlMode == crawler.ModeRecursive {
		c.enqueueLinks(page, finalURL, res.item.depth)
	}

	if _, dup := c.emitted[finalURL]; dup {
		c.logger.Debug("skipped: duplicate final URL", zap.String("page", url), zap.String("final_url", finalURL))
		return
	}

	parsed, err := c.parse(page)
	if err != nil {
		c.pageFailed(url, fmt.Sprintf("Extraction failed for %s: %v", url, err), err)
		return
	}
	content := strings.TrimSpace(parsed.Content)
	if len(content) < c.e.cfg.MinContentLength {
		if c.e.shells.NeedsRendering(page) {
			c.shells++
		}
		c.logger.Debug("skipped: content below minimum length",
			zap.String("page", finalURL), zap.Int("length", len(content)))
		metrics.ObservePage(finalURL, "skipped", len(page.Body))
		return
	}

	c.emitted[finalURL] = struct{}{}
	c.documents = append(c.documents, c.document(finalURL, content, parsed))
	c.pagesCrawled++
	metrics.ObservePage(finalURL, "crawled", len(page.Body))
	c.logger.Debug("page crawled", zap.String("page", finalURL), zap.Int("content_length", len(content)))
}

func (c *crawl) enqueueLinks(page crawler.Page, finalURL string, depth int) {
	next := depth + 1
	if c.req.MaxDepth > 0 && next > c.req.MaxDepth {
		return
	}
	for _, link := range extractLinks(page, finalURL) {
		if norm, ok := c.shouldFollow(link); ok {
			c.queue = append(c.queue, queued{url: norm, depth: next})
		}
	}
}

// parse runs the parser registry, converting panics into errors.
func (c *crawl) parse(page crawler.Page) (content crawler.ParsedContent, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("parser panic: %v", rec)
		}
	}()
	return c.e.parsers.Parse(page)
}

func (c *crawl) document(finalURL, content string, parsed crawler.ParsedContent) crawler.Document {
	id := crawler.DocumentID(c.req.DatasourceID, finalURL)
	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		title = finalURL
	}
	return crawler.Document{
		ID:          id,
		PageContent: content,
		Metadata: crawler.DocumentMetadata{
			DatasourceID: c.req.DatasourceID,
			DocumentID:   id,
			Title:        title,
			Description:  strings.TrimSpace(parsed.Description),
			DocumentType: crawler.DocumentTypeWebpage,
			IngestedAt:   c.e.clock.Now().Unix(),
			IngestorID:   c.req.IngestorID,
			Metadata: crawler.SourceMetadata{
				Source:    finalURL,
				Language:  parsed.Language,
				Generator: parsed.Generator,
			},
		},
	}
}

func (c *crawl) pageFailed(url, message string, err error) {
	c.pagesFailed++
	c.addError(message)
	metrics.ObservePage(url, "failed", 0)
	c.logger.Warn("page failed", zap.String("page", url), zap.String("reason", message), zap.Error(err))
}

// addError appends to the bounded error list.
// robotsUnreachable records once per host that robots.txt could not be read
// and the host was crawled as if it allowed everything.
func (c *crawl) robotsUnreachable(pageURL string) {
	host := crawler.Domain(pageURL)
	if _, ok := c.robotsAssumed[host]; ok {
		return
	}
	c.robotsAssumed[host] = struct{}{}
	c.logger.Warn("robots.txt unreachable, crawling as allow-all", zap.String("host", host))
	c.addError(fmt.Sprintf("robots.txt unreachable for %s; all paths treated as allowed", host))
}

func (c *crawl) addError(message string) {
	if len(c.errors) < c.e.cfg.MaxErrors {
		c.errors = append(c.errors, message)
	}
}

func (c *crawl) maybeProgress(force bool) {
	now := c.e.clock.Now()
	if !force && now.Sub(c.lastProgress) < c.e.cfg.ProgressInterval {
		return
	}
	c.lastProgress = now
	c.progress(crawler.CrawlProgress{
		JobID:        c.req.JobID,
		PagesCrawled: c.pagesCrawled,
		PagesFailed:  c.pagesFailed,
		CurrentURL:   c.currentURL(),
		Message:      c.progressMessage(),
		TotalPages:   c.totalPages,
		QueueSize:    len(c.queue),
	})
}

func (c *crawl) currentURL() string {
	if n := len(c.documents); n > 0 {
		return c.documents[n-1].Metadata.Metadata.Source
	}
	return c.req.URL
}

func (c *crawl) progressMessage() string {
	switch {
	case c.totalPages != nil:
		return fmt.Sprintf("Crawling %d/%d pages", c.pagesCrawled, *c.totalPages)
	case c.req.CrawlMode == crawler.ModeRecursive:
		return fmt.Sprintf("Crawling... %d pages (%d queued)", c.pagesCrawled, len(c.queue))
	default:
		return fmt.Sprintf("Crawled %d pages", c.pagesCrawled)
	}
}

func (c *crawl) finish() crawler.CrawlResult {
	result := crawler.CrawlResult{
		JobID:           c.req.JobID,
		Status:          crawler.DeriveStatus(c.pagesCrawled, c.pagesFailed),
		PagesCrawled:    c.pagesCrawled,
		PagesFailed:     c.pagesFailed,
		Documents:       c.documents,
		Errors:          c.errors,
		ElapsedSeconds:  c.e.clock.Now().Sub(c.start).Seconds(),
		EffectiveDomain: c.effectiveDomain,
		FilterCounters:  c.counters,
	}
	if result.PagesCrawled == 0 {
		result.FatalError = c.diagnose()
	}
	return result
}
