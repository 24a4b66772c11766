// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/webingest/internal/crawler"
)

// EnvPrefix is prepended to every environment override, e.g.
// WEBINGEST_POOL_WORKERS=8.
const EnvPrefix = "WEBINGEST"

// Backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendFile     = "file"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
	Loader   LoaderConfig   `mapstructure:"loader"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers                int           `mapstructure:"workers"`
	StartupTimeout         time.Duration `mapstructure:"startup_timeout"`
	AcquireTimeout         time.Duration `mapstructure:"acquire_timeout"`
	CrawlTimeout           time.Duration `mapstructure:"crawl_timeout"`
	ShutdownTimeout        time.Duration `mapstructure:"shutdown_timeout"`
	ResultBuffer           int           `mapstructure:"result_buffer"`
	ProgressBuffer         int           `mapstructure:"progress_buffer"`
	ReclaimTimedOutWorkers bool          `mapstructure:"reclaim_timed_out_workers"`
}

// CrawlerConfig tunes the engine and its fetcher.
type CrawlerConfig struct {
	UserAgent        string        `mapstructure:"user_agent"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	MinContentLength int           `mapstructure:"min_content_length"`
	MaxErrors        int           `mapstructure:"max_errors"`
	MaxBodyBytes     int           `mapstructure:"max_body_bytes"`
	MaxSitemapDepth  int           `mapstructure:"max_sitemap_depth"`
}

// HeadlessConfig configures the chromedp renderer behind render_javascript.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	ExecPath    string        `mapstructure:"exec_path"`
}

// DefaultsConfig fills crawl settings a submission leaves out.
type DefaultsConfig struct {
	CrawlMode           string        `mapstructure:"crawl_mode"`
	MaxDepth            int           `mapstructure:"max_depth"`
	MaxPages            int           `mapstructure:"max_pages"`
	ConcurrentRequests  int           `mapstructure:"concurrent_requests"`
	DownloadDelay       time.Duration `mapstructure:"download_delay"`
	PageLoadTimeout     time.Duration `mapstructure:"page_load_timeout"`
	RespectRobotsTxt    bool          `mapstructure:"respect_robots_txt"`
	FollowExternalLinks bool          `mapstructure:"follow_external_links"`
	RenderJavaScript    bool          `mapstructure:"render_javascript"`
}

// LoaderConfig tunes document batching.
type LoaderConfig struct {
	BatchSize  int    `mapstructure:"batch_size"`
	IngestorID string `mapstructure:"ingestor_id"`
}

// JobsConfig selects the JobManager backend.
type JobsConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig points the postgres JobManager at a database.
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// RedisConfig points the redis JobManager at a server.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// IngestConfig selects the IngestClient backend.
type IngestConfig struct {
	Backend string       `mapstructure:"backend"`
	Dir     string       `mapstructure:"dir"`
	GCS     GCSConfig    `mapstructure:"gcs"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
}

// GCSConfig names the bucket document batches land in.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig names the topic document batches are published to.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig sizes the lifecycle event hub.
type ProgressConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Every key needs a default so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", 30*time.Second)

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("pool.workers", 3)
	v.SetDefault("pool.startup_timeout", 30*time.Second)
	v.SetDefault("pool.acquire_timeout", 60*time.Second)
	v.SetDefault("pool.crawl_timeout", 30*time.Minute)
	v.SetDefault("pool.shutdown_timeout", 10*time.Second)
	v.SetDefault("pool.result_buffer", 1024)
	v.SetDefault("pool.progress_buffer", 64)
	v.SetDefault("pool.reclaim_timed_out_workers", true)

	v.SetDefault("crawler.user_agent", "webingest/1.0 (+https://github.com/JakeFAU/webingest)")
	v.SetDefault("crawler.request_timeout", 30*time.Second)
	v.SetDefault("crawler.progress_interval", 2*time.Second)
	v.SetDefault("crawler.min_content_length", 10)
	v.SetDefault("crawler.max_errors", 50)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.max_sitemap_depth", 3)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout", 45*time.Second)
	v.SetDefault("headless.exec_path", "")

	v.SetDefault("defaults.crawl_mode", string(crawler.ModeSingle))
	v.SetDefault("defaults.max_depth", 3)
	v.SetDefault("defaults.max_pages", 100)
	v.SetDefault("defaults.concurrent_requests", 4)
	v.SetDefault("defaults.download_delay", 250*time.Millisecond)
	v.SetDefault("defaults.page_load_timeout", 30*time.Second)
	v.SetDefault("defaults.respect_robots_txt", true)
	v.SetDefault("defaults.follow_external_links", false)
	v.SetDefault("defaults.render_javascript", false)

	v.SetDefault("loader.batch_size", 100)
	v.SetDefault("loader.ingestor_id", "webingest")

	v.SetDefault("jobs.backend", BackendMemory)
	v.SetDefault("jobs.postgres.dsn", "")
	v.SetDefault("jobs.postgres.table", "ingest_jobs")
	v.SetDefault("jobs.postgres.max_conns", 4)
	v.SetDefault("jobs.postgres.ensure_schema", true)
	v.SetDefault("jobs.redis.addr", "")
	v.SetDefault("jobs.redis.password", "")
	v.SetDefault("jobs.redis.db", 0)
	v.SetDefault("jobs.redis.prefix", "webingest:job:")
	v.SetDefault("jobs.redis.ttl", 7*24*time.Hour)

	v.SetDefault("ingest.backend", BackendFile)
	v.SetDefault("ingest.dir", "data/documents")
	v.SetDefault("ingest.gcs.bucket", "")
	v.SetDefault("ingest.gcs.prefix", "documents")
	v.SetDefault("ingest.pubsub.project_id", "")
	v.SetDefault("ingest.pubsub.topic", "")

	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.flush_interval", 500*time.Millisecond)
}

// Validate enforces required values and reasonable limits. All problems are
// reported together.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be between 1 and 65535")
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	check(c.Pool.Workers > 0, "pool.workers must be > 0")
	check(c.Pool.StartupTimeout > 0, "pool.startup_timeout must be > 0")
	check(c.Pool.AcquireTimeout > 0, "pool.acquire_timeout must be > 0")
	check(c.Pool.CrawlTimeout > 0, "pool.crawl_timeout must be > 0")
	check(c.Pool.ShutdownTimeout >= 0, "pool.shutdown_timeout must be >= 0")

	check(c.Crawler.MaxBodyBytes >= 0, "crawler.max_body_bytes must be >= 0")
	check(!c.Headless.Enabled || c.Headless.MaxParallel > 0,
		"headless.max_parallel must be > 0 when headless is enabled")

	if _, err := crawler.ParseCrawlMode(c.Defaults.CrawlMode); err != nil {
		errs = append(errs, fmt.Errorf("defaults.crawl_mode: %w", err))
	}
	check(c.Defaults.MaxPages >= 1, "defaults.max_pages must be >= 1")
	check(c.Defaults.MaxDepth >= 0, "defaults.max_depth must be >= 0")
	check(c.Defaults.ConcurrentRequests >= 0, "defaults.concurrent_requests must be >= 0")
	check(c.Loader.BatchSize > 0, "loader.batch_size must be > 0")

	switch c.Jobs.Backend {
	case BackendMemory:
	case BackendPostgres:
		check(c.Jobs.Postgres.DSN != "", "jobs.postgres.dsn is required for the postgres backend")
	case BackendRedis:
		check(c.Jobs.Redis.Addr != "", "jobs.redis.addr is required for the redis backend")
	default:
		check(false, "jobs.backend %q must be one of memory, postgres, redis", c.Jobs.Backend)
	}

	switch c.Ingest.Backend {
	case BackendMemory:
	case BackendFile:
		check(c.Ingest.Dir != "", "ingest.dir is required for the file backend")
	case BackendGCS:
		check(c.Ingest.GCS.Bucket != "", "ingest.gcs.bucket is required for the gcs backend")
	case BackendPubSub:
		check(c.Ingest.PubSub.ProjectID != "" && c.Ingest.PubSub.Topic != "",
			"ingest.pubsub.project_id and ingest.pubsub.topic are required for the pubsub backend")
	default:
		check(false, "ingest.backend %q must be one of memory, file, gcs, pubsub", c.Ingest.Backend)
	}

	return errors.Join(errs...)
}

// CrawlDefaults converts the defaults section into crawl settings.
func (c Config) CrawlDefaults() crawler.Settings {
	mode, err := crawler.ParseCrawlMode(c.Defaults.CrawlMode)
	if err != nil {
		mode = crawler.ModeSingle
	}
	return crawler.Settings{
		CrawlMode:           mode,
		MaxDepth:            c.Defaults.MaxDepth,
		MaxPages:            c.Defaults.MaxPages,
		ConcurrentRequests:  c.Defaults.ConcurrentRequests,
		DownloadDelay:       c.Defaults.DownloadDelay,
		PageLoadTimeout:     c.Defaults.PageLoadTimeout,
		RespectRobotsTxt:    c.Defaults.RespectRobotsTxt,
		FollowExternalLinks: c.Defaults.FollowExternalLinks,
		RenderJavaScript:    c.Defaults.RenderJavaScript,
		UserAgent:           c.Crawler.UserAgent,
	}
}
