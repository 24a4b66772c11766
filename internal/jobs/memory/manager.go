// Package memory keeps ingestion job state in process memory.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/webingest/internal/clock/system"
	"github.com/JakeFAU/webingest/internal/crawler"
)

// Manager is an in-memory crawler.JobManager and crawler.JobReader.
type Manager struct {
	mu    sync.RWMutex
	jobs  map[string]*crawler.JobState
	clock crawler.Clock
}

// New constructs a Manager. A nil clock uses the system clock.
func New(clock crawler.Clock) *Manager {
	if clock == nil {
		clock = system.New()
	}
	return &Manager{jobs: make(map[string]*crawler.JobState), clock: clock}
}

// UpsertJob creates the job or updates its status. An empty message keeps the
// previous one and a nil total keeps the known total.
func (m *Manager) UpsertJob(_ context.Context, jobID string, status crawler.JobStatus, message string, total *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		job = &crawler.JobState{JobID: jobID}
		m.jobs[jobID] = job
	}
	job.Status = status
	if message != "" {
		job.Message = message
	}
	if total != nil {
		n := *total
		job.Total = &n
	}
	job.UpdatedAt = m.clock.Now()
	return nil
}

// IncrementProgress adds delta to the processed count.
func (m *Manager) IncrementProgress(_ context.Context, jobID string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	job.Processed += delta
	job.UpdatedAt = m.clock.Now()
	return nil
}

// AddErrorMsg appends msg to the job's error list.
func (m *Manager) AddErrorMsg(_ context.Context, jobID, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	job.Errors = append(job.Errors, msg)
	job.UpdatedAt = m.clock.Now()
	return nil
}

// GetJob returns a copy of the job state.
func (m *Manager) GetJob(_ context.Context, jobID string) (crawler.JobState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return crawler.JobState{}, fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	out := *job
	out.Errors = append([]string(nil), job.Errors...)
	if job.Total != nil {
		n := *job.Total
		out.Total = &n
	}
	return out, nil
}
