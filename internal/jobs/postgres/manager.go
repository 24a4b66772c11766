// Package postgres persists ingestion job state in Postgres via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webingest/internal/crawler"
)

const defaultTable = "ingest_jobs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Manager implements crawler.JobManager and crawler.JobReader on one table.
type Manager struct {
	pool  dbPool
	table string
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.DSN == "" {
		return nil, errors.New("jobs.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	m, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return m, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool dbPool, table string) (*Manager, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Manager{pool: pool, table: table}, nil
}

// Close releases the pool.
func (m *Manager) Close() {
	if m == nil || m.pool == nil {
		return
	}
	m.pool.Close()
}

// EnsureSchema creates the jobs table when it does not exist.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id     TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	total      INTEGER,
	processed  INTEGER NOT NULL DEFAULT 0,
	errors     TEXT[] NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, m.table)
	if _, err := m.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", m.table, err)
	}
	return nil
}

// UpsertJob inserts or updates the job row. An empty message and a nil total
// leave the stored values untouched.
func (m *Manager) UpsertJob(ctx context.Context, jobID string, status crawler.JobStatus, message string, total *int) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (job_id, status, message, total, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (job_id) DO UPDATE SET
	status = EXCLUDED.status,
	message = COALESCE(NULLIF(EXCLUDED.message, ''), %[1]s.message),
	total = COALESCE(EXCLUDED.total, %[1]s.total),
	updated_at = now()`, m.table)
	if _, err := m.pool.Exec(ctx, query, jobID, string(status), message, nullableInt(total)); err != nil {
		return fmt.Errorf("upsert job %s: %w", jobID, err)
	}
	return nil
}

// IncrementProgress adds delta to processed.
func (m *Manager) IncrementProgress(ctx context.Context, jobID string, delta int) error {
	query := fmt.Sprintf(`UPDATE %s SET processed = processed + $2, updated_at = now() WHERE job_id = $1`, m.table)
	return m.update(ctx, "increment progress", query, jobID, delta)
}

// AddErrorMsg appends msg to the job's error array.
func (m *Manager) AddErrorMsg(ctx context.Context, jobID, msg string) error {
	query := fmt.Sprintf(`UPDATE %s SET errors = array_append(errors, $2), updated_at = now() WHERE job_id = $1`, m.table)
	return m.update(ctx, "add error", query, jobID, msg)
}

func (m *Manager) update(ctx context.Context, op, query, jobID string, arg any) error {
	tag, err := m.pool.Exec(ctx, query, jobID, arg)
	if err != nil {
		return fmt.Errorf("%s for job %s: %w", op, jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w: %s", op, crawler.ErrJobNotFound, jobID)
	}
	return nil
}

// GetJob reads one job row.
func (m *Manager) GetJob(ctx context.Context, jobID string) (crawler.JobState, error) {
	query := fmt.Sprintf(`SELECT status, message, total, processed, errors, updated_at FROM %s WHERE job_id = $1`, m.table)
	var (
		status    string
		state     = crawler.JobState{JobID: jobID}
		updatedAt time.Time
	)
	err := m.pool.QueryRow(ctx, query, jobID).Scan(&status, &state.Message, &state.Total, &state.Processed, &state.Errors, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.JobState{}, fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	if err != nil {
		return crawler.JobState{}, fmt.Errorf("read job %s: %w", jobID, err)
	}
	state.Status = crawler.JobStatus(status)
	state.UpdatedAt = updatedAt.UTC()
	return state, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
