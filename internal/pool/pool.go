// Package pool runs a fixed set of crawl workers and dispatches one job at a
// time to each of them. Workers talk to the pool only through encoded
// protocol messages: each has a private request queue and all of them share
// one result queue, drained by a single result loop.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webingest/internal/metrics"
	"github.com/JakeFAU/webingest/internal/progress"
	"github.com/JakeFAU/webingest/internal/protocol"
	"github.com/JakeFAU/webingest/internal/queue/memory"
	"github.com/JakeFAU/webingest/internal/worker"
)

// Sentinel errors returned by the pool.
var (
	ErrStartupTimeout     = errors.New("worker pool startup timed out")
	ErrNoWorkersAvailable = errors.New("no workers available")
	ErrNotStarted         = errors.New("worker pool not started")
	ErrPoolClosed         = errors.New("worker pool closed")
	ErrDuplicateJob       = errors.New("job already pending")
	ErrWorkerFailure      = errors.New("worker failure")
)

// Defaults applied by New.
const (
	DefaultWorkers        = 3
	DefaultStartupTimeout = 30 * time.Second
	DefaultAcquireTimeout = 60 * time.Second
	defaultResultBuffer   = 1024
	defaultProgressBuffer = 64
	requestQueueSize      = 4
)

// Config tunes the pool.
type Config struct {
	Workers        int
	StartupTimeout time.Duration
	AcquireTimeout time.Duration
	// ResultBuffer is the capacity of the shared result queue.
	ResultBuffer int
	// ProgressBuffer bounds the per-job progress backlog; overflow is dropped.
	ProgressBuffer int
	// ReclaimTimedOutWorkers returns a quarantined worker to service once its
	// late result arrives. When false a timed-out worker is never reused.
	ReclaimTimedOutWorkers bool
}

// RunnerFactory builds the crawl runner hosted by one worker.
type RunnerFactory func(workerID int) worker.Runner

// Option customizes a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithEmitter publishes job lifecycle events to emitter.
func WithEmitter(emitter progress.Emitter) Option {
	return func(p *Pool) { p.events = emitter }
}

// WorkerState describes where a worker id currently sits.
type WorkerState string

// Worker states.
const (
	WorkerStarting    WorkerState = "starting"
	WorkerIdle        WorkerState = "idle"
	WorkerBusy        WorkerState = "busy"
	WorkerQuarantined WorkerState = "quarantined"
)

type slot struct {
	id         int
	inbox      *memory.Queue[map[string]any]
	runner     worker.Runner
	state      WorkerState
	jobID      string
	generation uint64
	done       chan struct{}
}

// Pool owns the workers, the available-worker pool, and the pending-job table.
type Pool struct {
	cfg     Config
	factory RunnerFactory
	logger  *zap.Logger
	events  progress.Emitter

	results   *memory.Queue[map[string]any]
	available chan int
	ready     chan int
	closing   chan struct{}

	mu      sync.Mutex
	slots   map[int]*slot
	pending map[string]*pendingJob
	started bool
	closed  bool

	// launch starts the goroutine for one worker slot.
	launch       func(*slot)
	workerCtx    context.Context
	workerCancel context.CancelFunc
	loopCancel   context.CancelFunc
	loopDone     chan struct{}
	closeOnce    sync.Once
}

// New constructs an idle Pool. Call Start before Crawl.
func New(cfg Config, factory RunnerFactory, opts ...Option) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = defaultResultBuffer
	}
	if cfg.ProgressBuffer <= 0 {
		cfg.ProgressBuffer = defaultProgressBuffer
	}
	p := &Pool{
		cfg:       cfg,
		factory:   factory,
		logger:    zap.NewNop(),
		available: make(chan int, cfg.Workers),
		ready:     make(chan int, cfg.Workers),
		closing:   make(chan struct{}),
		slots:     make(map[int]*slot, cfg.Workers),
		pending:   make(map[string]*pendingJob),
	}
	p.launch = p.spawn
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("pool")
	return p
}

// Start spawns the workers and blocks until every one of them reports ready.
// Partial startup is torn down and reported as ErrStartupTimeout.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.results = memory.NewQueue[map[string]any](p.cfg.ResultBuffer)
	p.workerCtx, p.workerCancel = context.WithCancel(context.Background())
	loopCtx, loopCancel := context.WithCancel(context.Background())
	p.loopCancel = loopCancel
	p.loopDone = make(chan struct{})
	for id := 1; id <= p.cfg.Workers; id++ {
		p.slots[id] = &slot{
			id:     id,
			inbox:  memory.NewQueue[map[string]any](requestQueueSize),
			runner: p.factory(id),
			state:  WorkerStarting,
		}
	}
	p.started = true
	p.mu.Unlock()

	go p.resultLoop(loopCtx)
	for id := 1; id <= p.cfg.Workers; id++ {
		p.launch(p.slots[id])
	}

	timer := time.NewTimer(p.cfg.StartupTimeout)
	defer timer.Stop()
	for readyCount := 0; readyCount < p.cfg.Workers; {
		select {
		case <-p.ready:
			readyCount++
		case <-timer.C:
			p.abortStart()
			return fmt.Errorf("%w: %d of %d workers ready after %s",
				ErrStartupTimeout, readyCount, p.cfg.Workers, p.cfg.StartupTimeout)
		case <-ctx.Done():
			p.abortStart()
			return fmt.Errorf("start worker pool: %w", ctx.Err())
		}
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.cfg.Workers))
	return nil
}

func (p *Pool) abortStart() {
	p.workerCancel()
	p.stopLoop()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.closing) })
}

// spawn runs one worker goroutine. A worker that dies unexpectedly fails its
// in-flight job and is replaced on the same inbox; the replacement announces
// itself with a fresh WORKER_READY.
func (p *Pool) spawn(s *slot) {
	done := make(chan struct{})
	p.mu.Lock()
	s.done = done
	p.mu.Unlock()

	w := worker.New(s.id, s.runner, s.inbox, p.results, p.logger)
	go func() {
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				p.logger.Error("worker panicked", zap.Int("worker_id", s.id), zap.Any("panic", rec), zap.Stack("stack"))
				p.workerCrashed(s, fmt.Sprintf("worker %d crashed: %v", s.id, rec))
			}
		}()
		if err := w.Run(p.workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("worker stopped", zap.Int("worker_id", s.id), zap.Error(err))
		}
	}()
}

// workerCrashed fails the crashed worker's job and starts a replacement.
func (p *Pool) workerCrashed(s *slot, reason string) {
	p.mu.Lock()
	jobID := s.jobID
	closed := p.closed
	s.state = WorkerStarting
	s.jobID = ""
	p.mu.Unlock()
	if jobID != "" {
		p.results.TryEnqueue(protocol.Encode(protocol.WorkerError{WorkerID: s.id, JobID: jobID, Error: reason}))
	}
	if !closed {
		p.launch(s)
	}
}

var closedChan = func() chan time.Time {
	ch := make(chan time.Time)
	close(ch)
	return ch
}()

// Shutdown stops the result loop, asks every worker to exit, and waits up to
// timeout for them. Workers still running after that are abandoned with their
// context canceled.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.closed {
		p.closed = true
		p.mu.Unlock()
		p.closeOnce.Do(func() { close(p.closing) })
		return nil
	}
	p.closed = true
	slots := make([]*slot, 0, len(p.slots))
	for _, s := range p.slots {
		slots = append(slots, s)
	}
	pending := p.pending
	p.pending = make(map[string]*pendingJob)
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.closing) })

	p.stopLoop()
	for _, job := range pending {
		job.resolve(outcome{err: ErrPoolClosed})
	}

	shutdown := protocol.Encode(protocol.Shutdown{})
	for _, s := range slots {
		if !s.inbox.TryEnqueue(shutdown) {
			p.logger.Warn("worker inbox full, shutdown not queued", zap.Int("worker_id", s.id))
		}
	}

	expired := time.After(timeout)
	var stragglers int
	for _, s := range slots {
		p.mu.Lock()
		done := s.done
		p.mu.Unlock()
		select {
		case <-done:
			continue
		default:
		}
		select {
		case <-done:
		case <-expired:
			stragglers++
			expired = closedChan
		}
	}
	p.workerCancel()
	for _, s := range slots {
		s.inbox.Close()
	}
	p.results.Close()
	p.publishState()
	if stragglers > 0 {
		p.logger.Warn("workers did not stop in time", zap.Int("stragglers", stragglers), zap.Duration("timeout", timeout))
		return fmt.Errorf("shutdown: %d workers still running after %s", stragglers, timeout)
	}
	p.logger.Info("worker pool stopped")
	return nil
}

func (p *Pool) stopLoop() {
	if p.loopCancel == nil {
		return
	}
	p.loopCancel()
	<-p.loopDone
}

// Started reports whether Start completed and Shutdown has not run.
func (p *Pool) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.closed
}

// PendingJobs lists the job ids currently awaiting a result.
func (p *Pool) PendingJobs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	return ids
}

// HasPendingJob reports whether jobID is awaiting a result.
func (p *Pool) HasPendingJob(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[jobID]
	return ok
}

// WorkerStats is a point-in-time view of one worker.
type WorkerStats struct {
	ID    int         `json:"id"`
	State WorkerState `json:"state"`
	JobID string      `json:"job_id,omitempty"`
	// Generation counts jobs dispatched to the worker.
	Generation uint64 `json:"generation"`
}

// Stats summarises the pool.
type Stats struct {
	Workers     []WorkerStats `json:"workers"`
	Available   int           `json:"available"`
	Busy        int           `json:"busy"`
	Quarantined int           `json:"quarantined"`
	Pending     int           `json:"pending"`
}

// Stats returns a snapshot of worker and job state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	st := Stats{Pending: len(p.pending)}
	for id := 1; id <= len(p.slots); id++ {
		s, ok := p.slots[id]
		if !ok {
			continue
		}
		st.Workers = append(st.Workers, WorkerStats{ID: s.id, State: s.state, JobID: s.jobID, Generation: s.generation})
		switch s.state {
		case WorkerIdle:
			st.Available++
		case WorkerBusy:
			st.Busy++
		case WorkerQuarantined:
			st.Quarantined++
		}
	}
	return st
}

func (p *Pool) publishState() {
	p.mu.Lock()
	st := p.statsLocked()
	p.mu.Unlock()
	metrics.SetPoolState(st.Available, st.Quarantined, st.Pending)
}

// releaseLocked marks a worker idle and returns its id to the available pool.
// Callers hold p.mu.
func (p *Pool) releaseLocked(s *slot) {
	if s.state == WorkerIdle {
		return
	}
	s.state = WorkerIdle
	s.jobID = ""
	select {
	case p.available <- s.id:
	default:
		p.logger.Error("available pool full, dropping worker id", zap.Int("worker_id", s.id))
	}
}

func (p *Pool) emit(evt progress.Event) {
	if p.events == nil {
		return
	}
	evt.TS = time.Now()
	p.events.Emit(evt)
}
