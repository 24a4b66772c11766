package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webingest/internal/crawler"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 3, cfg.Pool.Workers)
	require.Equal(t, 30*time.Second, cfg.Pool.StartupTimeout)
	require.Equal(t, 60*time.Second, cfg.Pool.AcquireTimeout)
	require.Equal(t, 30*time.Minute, cfg.Pool.CrawlTimeout)
	require.True(t, cfg.Pool.ReclaimTimedOutWorkers)
	require.Equal(t, 2*time.Second, cfg.Crawler.ProgressInterval)
	require.Equal(t, 10, cfg.Crawler.MinContentLength)
	require.Equal(t, 50, cfg.Crawler.MaxErrors)
	require.Equal(t, 100, cfg.Loader.BatchSize)
	require.Equal(t, BackendMemory, cfg.Jobs.Backend)
	require.Equal(t, BackendFile, cfg.Ingest.Backend)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  api_key: secret
logging:
  development: true
  level: debug
pool:
  workers: 6
  crawl_timeout: 5m
  reclaim_timed_out_workers: false
crawler:
  user_agent: test-agent
  progress_interval: 1s
defaults:
  crawl_mode: recursive
  max_pages: 40
  download_delay: 1500ms
  respect_robots_txt: false
jobs:
  backend: postgres
  postgres:
    dsn: postgres://localhost/webingest
ingest:
  backend: gcs
  gcs:
    bucket: docs-bucket
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "secret", cfg.Server.APIKey)
	require.True(t, cfg.Logging.Development)
	require.Equal(t, 6, cfg.Pool.Workers)
	require.Equal(t, 5*time.Minute, cfg.Pool.CrawlTimeout)
	require.False(t, cfg.Pool.ReclaimTimedOutWorkers)
	require.Equal(t, "postgres://localhost/webingest", cfg.Jobs.Postgres.DSN)
	require.Equal(t, "ingest_jobs", cfg.Jobs.Postgres.Table)
	require.Equal(t, "docs-bucket", cfg.Ingest.GCS.Bucket)

	settings := cfg.CrawlDefaults()
	require.Equal(t, crawler.ModeRecursive, settings.CrawlMode)
	require.Equal(t, 40, settings.MaxPages)
	require.Equal(t, 1500*time.Millisecond, settings.DownloadDelay)
	require.False(t, settings.RespectRobotsTxt)
	require.Equal(t, "test-agent", settings.UserAgent)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WEBINGEST_POOL_WORKERS", "9")
	t.Setenv("WEBINGEST_INGEST_BACKEND", "pubsub")
	t.Setenv("WEBINGEST_INGEST_PUBSUB_PROJECT_ID", "proj")
	t.Setenv("WEBINGEST_INGEST_PUBSUB_TOPIC", "documents")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Pool.Workers)
	require.Equal(t, BackendPubSub, cfg.Ingest.Backend)
	require.Equal(t, "documents", cfg.Ingest.PubSub.Topic)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"port":         {func(c *Config) { c.Server.Port = 0 }, "server.port"},
		"level":        {func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		"workers":      {func(c *Config) { c.Pool.Workers = 0 }, "pool.workers"},
		"crawl mode":   {func(c *Config) { c.Defaults.CrawlMode = "deep" }, "defaults.crawl_mode"},
		"max pages":    {func(c *Config) { c.Defaults.MaxPages = 0 }, "defaults.max_pages"},
		"batch size":   {func(c *Config) { c.Loader.BatchSize = 0 }, "loader.batch_size"},
		"headless":     {func(c *Config) { c.Headless.Enabled = true; c.Headless.MaxParallel = 0 }, "headless.max_parallel"},
		"jobs backend": {func(c *Config) { c.Jobs.Backend = "mongo" }, "jobs.backend"},
		"postgres dsn": {func(c *Config) { c.Jobs.Backend = BackendPostgres }, "jobs.postgres.dsn"},
		"redis addr":   {func(c *Config) { c.Jobs.Backend = BackendRedis }, "jobs.redis.addr"},
		"ingest":       {func(c *Config) { c.Ingest.Backend = "s3" }, "ingest.backend"},
		"gcs bucket":   {func(c *Config) { c.Ingest.Backend = BackendGCS }, "ingest.gcs.bucket"},
		"pubsub topic": {func(c *Config) { c.Ingest.Backend = BackendPubSub }, "ingest.pubsub"},
		"file dir":     {func(c *Config) { c.Ingest.Dir = "" }, "ingest.dir"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}

	multi := base
	multi.Pool.Workers = 0
	multi.Loader.BatchSize = 0
	err = multi.Validate()
	require.ErrorContains(t, err, "pool.workers")
	require.ErrorContains(t, err, "loader.batch_size")
}
