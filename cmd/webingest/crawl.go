package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/JakeFAU/webingest/internal/app"
	"github.com/JakeFAU/webingest/internal/config"
	"github.com/JakeFAU/webingest/internal/crawler"
	"github.com/JakeFAU/webingest/internal/id/uuid"
	"github.com/JakeFAU/webingest/internal/loader"
)

type crawlFlags struct {
	mode           string
	maxPages       int
	maxDepth       int
	workers        int
	renderJS       bool
	waitFor        string
	pageTimeout    time.Duration
	followExternal bool
	allow          []string
	deny           []string
	delay          time.Duration
	concurrency    int
	noRobots       bool
	userAgent      string
	freshUntil     int64
	jobID          string
	datasourceID   string
	datasourceName string
	ingestDir      string
	timeout        time.Duration
}

func newCrawlCmd(c *cli) *cobra.Command {
	f := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl URL",
		Short: "Crawl one site in-process and ingest its documents.",
		Long: `crawl starts a local worker pool, crawls URL, and writes the documents with
the configured ingest backend (JSONL files under ingest.dir by default).
A JSON summary is printed to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := f.apply(cmd.Flags(), c.cfg.CrawlDefaults())
			if err != nil {
				return err
			}
			cfg := f.configure(cmd.Flags(), c.cfg)
			return c.crawl(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], settings, f)
		},
	}
	f.bind(cmd.Flags())
	return cmd
}

func (f *crawlFlags) bind(fl *pflag.FlagSet) {
	fl.StringVar(&f.mode, "mode", "", "crawl mode: single, sitemap or recursive")
	fl.IntVar(&f.maxPages, "max-pages", 0, "maximum pages to crawl")
	fl.IntVar(&f.maxDepth, "max-depth", 0, "maximum link depth in recursive mode (0 = unlimited)")
	fl.IntVar(&f.workers, "workers", 1, "worker pool size")
	fl.BoolVar(&f.renderJS, "render-js", false, "render pages in headless Chrome")
	fl.StringVar(&f.waitFor, "wait-for", "", "CSS selector to wait for when rendering")
	fl.DurationVar(&f.pageTimeout, "page-timeout", 0, "per-page load timeout")
	fl.BoolVar(&f.followExternal, "follow-external", false, "follow links off the start domain")
	fl.StringSliceVar(&f.allow, "allow", nil, "allowed URL regex (repeatable)")
	fl.StringSliceVar(&f.deny, "deny", nil, "denied URL regex (repeatable)")
	fl.DurationVar(&f.delay, "delay", 0, "delay between requests")
	fl.IntVar(&f.concurrency, "concurrency", 0, "concurrent requests")
	fl.BoolVar(&f.noRobots, "no-robots", false, "ignore robots.txt")
	fl.StringVar(&f.userAgent, "user-agent", "", "user agent override")
	fl.Int64Var(&f.freshUntil, "fresh-until", 0, "epoch seconds stamped as documents' fresh_until")
	fl.StringVar(&f.jobID, "job-id", "", "job id (default: generated UUIDv7)")
	fl.StringVar(&f.datasourceID, "datasource-id", "", "datasource id (default: derived from URL)")
	fl.StringVar(&f.datasourceName, "datasource-name", "", "datasource name (default: URL host)")
	fl.StringVar(&f.ingestDir, "ingest-dir", "", "write JSONL documents under this directory")
	fl.DurationVar(&f.timeout, "timeout", 0, "crawl timeout (default pool.crawl_timeout)")
}

// apply overlays explicitly set flags on the configured defaults.
func (f *crawlFlags) apply(fl *pflag.FlagSet, s crawler.Settings) (crawler.Settings, error) {
	changed := fl.Changed
	if changed("mode") {
		mode, err := crawler.ParseCrawlMode(f.mode)
		if err != nil {
			return s, err
		}
		s.CrawlMode = mode
	}
	if changed("max-pages") {
		s.MaxPages = f.maxPages
	}
	if changed("max-depth") {
		s.MaxDepth = f.maxDepth
	}
	if changed("render-js") {
		s.RenderJavaScript = f.renderJS
	}
	if changed("wait-for") {
		s.WaitForSelector = f.waitFor
	}
	if changed("page-timeout") {
		s.PageLoadTimeout = f.pageTimeout
	}
	if changed("follow-external") {
		s.FollowExternalLinks = f.followExternal
	}
	if changed("allow") {
		s.AllowedURLPatterns = f.allow
	}
	if changed("deny") {
		s.DeniedURLPatterns = f.deny
	}
	if changed("delay") {
		s.DownloadDelay = f.delay
	}
	if changed("concurrency") {
		s.ConcurrentRequests = f.concurrency
	}
	if changed("no-robots") {
		s.RespectRobotsTxt = !f.noRobots
	}
	if changed("user-agent") {
		s.UserAgent = f.userAgent
	}
	if changed("fresh-until") {
		s.FreshUntil = f.freshUntil
	}
	return s, nil
}

// configure sizes a one-shot pool and applies storage overrides.
func (f *crawlFlags) configure(fl *pflag.FlagSet, cfg config.Config) config.Config {
	cfg.Pool.Workers = max(f.workers, 1)
	if f.ingestDir != "" {
		cfg.Ingest.Backend = config.BackendFile
		cfg.Ingest.Dir = f.ingestDir
	}
	if fl.Changed("render-js") && f.renderJS {
		cfg.Headless.Enabled = true
	}
	if f.timeout > 0 {
		cfg.Pool.CrawlTimeout = f.timeout
	}
	return cfg
}

func (c *cli) crawl(
	ctx context.Context,
	out io.Writer,
	cfg config.Config,
	rawURL string,
	settings crawler.Settings,
	f *crawlFlags,
) error {
	jobID := f.jobID
	if jobID == "" {
		var err error
		if jobID, err = uuid.New().NewID(); err != nil {
			return err
		}
	}

	a, err := app.New(ctx, cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Pool.ShutdownTimeout+5*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()
	if err := a.Start(ctx); err != nil {
		return err
	}

	var opts []loader.LoadOption
	if f.datasourceID != "" || f.datasourceName != "" {
		opts = append(opts, loader.WithDatasource(f.datasourceID, f.datasourceName))
	}
	summary, err := a.Loader().Load(ctx, rawURL, settings, jobID, opts...)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if summary.JobStatus == crawler.JobStatusFailed {
		return fmt.Errorf("crawl %s failed", jobID)
	}
	return nil
}
