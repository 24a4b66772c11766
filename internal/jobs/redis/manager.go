// Package redis persists ingestion job state in Redis: one hash per job for
// the scalar fields and one list for its error messages.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/webingest/internal/crawler"
)

const (
	defaultPrefix = "webingest:job:"
	defaultTTL    = 7 * 24 * time.Hour
)

// Config controls key naming and retention.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces job keys (default "webingest:job:").
	Prefix string
	// TTL expires finished and abandoned jobs (default 7 days).
	TTL time.Duration
}

type client interface {
	HSet(ctx context.Context, key string, values ...any) *goredis.IntCmd
	HIncrBy(ctx context.Context, key, field string, incr int64) *goredis.IntCmd
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
	Exists(ctx context.Context, keys ...string) *goredis.IntCmd
	RPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *goredis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd
	Close() error
}

// Manager implements crawler.JobManager and crawler.JobReader on Redis.
type Manager struct {
	client client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// New connects to Redis at cfg.Addr and verifies the connection.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Addr == "" {
		return nil, errors.New("jobs.redis.addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return NewWithClient(rdb, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c client, cfg Config) *Manager {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &Manager{client: c, prefix: cfg.Prefix, ttl: cfg.TTL, now: time.Now}
}

// Close closes the client.
func (m *Manager) Close() error {
	if err := m.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

func (m *Manager) key(jobID string) string       { return m.prefix + jobID }
func (m *Manager) errorsKey(jobID string) string { return m.prefix + jobID + ":errors" }

// UpsertJob writes status and, when set, message and total.
func (m *Manager) UpsertJob(ctx context.Context, jobID string, status crawler.JobStatus, message string, total *int) error {
	fields := []any{"status", string(status), "updated_at", m.now().UTC().Format(time.RFC3339Nano)}
	if message != "" {
		fields = append(fields, "message", message)
	}
	if total != nil {
		fields = append(fields, "total", *total)
	}
	key := m.key(jobID)
	if err := m.client.HSet(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("upsert job %s: %w", jobID, err)
	}
	if err := m.client.Expire(ctx, key, m.ttl).Err(); err != nil {
		return fmt.Errorf("expire job %s: %w", jobID, err)
	}
	return nil
}

// IncrementProgress adds delta to the processed field.
func (m *Manager) IncrementProgress(ctx context.Context, jobID string, delta int) error {
	key := m.key(jobID)
	if err := m.mustExist(ctx, jobID); err != nil {
		return err
	}
	if err := m.client.HIncrBy(ctx, key, "processed", int64(delta)).Err(); err != nil {
		return fmt.Errorf("increment progress for job %s: %w", jobID, err)
	}
	return m.touch(ctx, jobID)
}

// AddErrorMsg appends msg to the job's error list.
func (m *Manager) AddErrorMsg(ctx context.Context, jobID, msg string) error {
	if err := m.mustExist(ctx, jobID); err != nil {
		return err
	}
	key := m.errorsKey(jobID)
	if err := m.client.RPush(ctx, key, msg).Err(); err != nil {
		return fmt.Errorf("add error for job %s: %w", jobID, err)
	}
	if err := m.client.Expire(ctx, key, m.ttl).Err(); err != nil {
		return fmt.Errorf("expire job %s errors: %w", jobID, err)
	}
	return m.touch(ctx, jobID)
}

func (m *Manager) mustExist(ctx context.Context, jobID string) error {
	n, err := m.client.Exists(ctx, m.key(jobID)).Result()
	if err != nil {
		return fmt.Errorf("lookup job %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	return nil
}

func (m *Manager) touch(ctx context.Context, jobID string) error {
	if err := m.client.HSet(ctx, m.key(jobID), "updated_at", m.now().UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("touch job %s: %w", jobID, err)
	}
	return nil
}

// GetJob reads the job hash and its error list.
func (m *Manager) GetJob(ctx context.Context, jobID string) (crawler.JobState, error) {
	fields, err := m.client.HGetAll(ctx, m.key(jobID)).Result()
	if err != nil {
		return crawler.JobState{}, fmt.Errorf("read job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return crawler.JobState{}, fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	errs, err := m.client.LRange(ctx, m.errorsKey(jobID), 0, -1).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return crawler.JobState{}, fmt.Errorf("read job %s errors: %w", jobID, err)
	}
	state := crawler.JobState{
		JobID:   jobID,
		Status:  crawler.JobStatus(fields["status"]),
		Message: fields["message"],
		Errors:  errs,
	}
	if raw, ok := fields["total"]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			state.Total = &n
		}
	}
	if raw, ok := fields["processed"]; ok {
		state.Processed, _ = strconv.Atoi(raw)
	}
	if raw, ok := fields["updated_at"]; ok {
		state.UpdatedAt, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return state, nil
}
