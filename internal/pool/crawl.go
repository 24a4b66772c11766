package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webingest/internal/crawler"
	"github.com/JakeFAU/webingest/internal/metrics"
	"github.com/JakeFAU/webingest/internal/progress"
	"github.com/JakeFAU/webingest/internal/protocol"
)

type outcome struct {
	result crawler.CrawlResult
	err    error
}

// pendingJob is one dispatched crawl awaiting its terminal message.
type pendingJob struct {
	jobID      string
	workerID   int
	generation uint64
	started    time.Time

	done         chan outcome
	progress     chan crawler.CrawlProgress
	progressDone chan struct{}
	once         sync.Once
}

// resolve delivers the outcome and closes the progress stream. Only the first
// call has any effect.
func (j *pendingJob) resolve(o outcome) {
	j.once.Do(func() {
		j.done <- o
		if j.progress != nil {
			close(j.progress)
		}
	})
}

func (j *pendingJob) waitProgress() {
	if j.progressDone != nil {
		<-j.progressDone
	}
}

// Crawl runs req on the next available worker and waits for its result.
// onProgress may be nil; it is called from a dedicated goroutine and may miss
// updates when it falls behind. A timeout of zero waits indefinitely.
//
// When the timeout expires Crawl returns a failed result locally and the
// worker stays quarantined until it reports back; it is not handed to another
// job while it may still be running. Cancelling ctx behaves the same way but
// returns the context error.
func (p *Pool) Crawl(
	ctx context.Context,
	req crawler.CrawlRequest,
	onProgress func(crawler.CrawlProgress),
	timeout time.Duration,
) (crawler.CrawlResult, error) {
	if err := p.checkOpen(); err != nil {
		return crawler.CrawlResult{}, err
	}
	if p.HasPendingJob(req.JobID) {
		return crawler.CrawlResult{}, fmt.Errorf("%w: %s", ErrDuplicateJob, req.JobID)
	}

	start := time.Now()
	s, err := p.acquire(ctx)
	if err != nil {
		metrics.ObserveDispatch("no_worker")
		return crawler.CrawlResult{}, err
	}
	job, err := p.register(s, req.JobID, onProgress != nil, start)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	logger := p.logger.With(zap.String("job_id", req.JobID), zap.Int("worker_id", s.id), zap.Uint64("generation", job.generation))
	if job.progress != nil {
		go forwardProgress(job, onProgress, logger)
	}

	if err := s.inbox.Enqueue(ctx, protocol.Encode(protocol.CrawlRequest{Request: req})); err != nil {
		p.mu.Lock()
		delete(p.pending, job.jobID)
		p.releaseLocked(s)
		p.mu.Unlock()
		job.resolve(outcome{err: err})
		job.waitProgress()
		p.publishState()
		metrics.ObserveDispatch("error")
		return crawler.CrawlResult{}, fmt.Errorf("dispatch job %s to worker %d: %w", req.JobID, s.id, err)
	}
	p.publishState()
	logger.Debug("job dispatched")

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case o := <-job.done:
		return p.finish(job, o)
	case <-expired:
		if o, resolved := p.abandon(job, s); resolved {
			return p.finish(job, o)
		}
		logger.Warn("crawl timed out, worker quarantined", zap.Duration("timeout", timeout))
		reason := fmt.Sprintf("Crawl timed out after %s on worker %d", timeout, s.id)
		result := crawler.FailedResult(req.JobID, reason, time.Since(start))
		p.emit(progress.Event{
			JobID: req.JobID, WorkerID: s.id, Stage: progress.StageJobError,
			Status: string(result.Status), Dur: time.Since(start), Note: reason,
		})
		metrics.ObserveDispatch("timeout")
		return result, nil
	case <-ctx.Done():
		if o, resolved := p.abandon(job, s); resolved {
			return p.finish(job, o)
		}
		logger.Warn("crawl abandoned by caller, worker quarantined", zap.Error(ctx.Err()))
		p.emit(progress.Event{
			JobID: req.JobID, WorkerID: s.id, Stage: progress.StageJobError,
			Status: string(crawler.StatusFailed), Dur: time.Since(start), Note: ctx.Err().Error(),
		})
		metrics.ObserveDispatch("canceled")
		return crawler.CrawlResult{}, fmt.Errorf("crawl %s: %w", req.JobID, ctx.Err())
	}
}

func (p *Pool) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return ErrPoolClosed
	case !p.started:
		return ErrNotStarted
	}
	return nil
}

// acquire takes one idle worker off the available pool.
func (p *Pool) acquire(ctx context.Context) (*slot, error) {
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()
	for {
		select {
		case id := <-p.available:
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				return nil, ErrPoolClosed
			}
			s, ok := p.slots[id]
			if !ok || s.state != WorkerIdle {
				p.mu.Unlock()
				continue
			}
			s.state = WorkerBusy
			s.generation++
			p.mu.Unlock()
			return s, nil
		case <-timer.C:
			return nil, fmt.Errorf("%w: waited %s", ErrNoWorkersAvailable, p.cfg.AcquireTimeout)
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire worker: %w", ctx.Err())
		case <-p.closing:
			return nil, ErrPoolClosed
		}
	}
}

// register records the pending job for s, handing s back when jobID is
// already in flight.
func (p *Pool) register(s *slot, jobID string, withProgress bool, start time.Time) (*pendingJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.pending[jobID]; dup {
		p.releaseLocked(s)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, jobID)
	}
	job := &pendingJob{
		jobID:      jobID,
		workerID:   s.id,
		generation: s.generation,
		started:    start,
		done:       make(chan outcome, 1),
	}
	if withProgress {
		job.progress = make(chan crawler.CrawlProgress, p.cfg.ProgressBuffer)
		job.progressDone = make(chan struct{})
	}
	s.jobID = jobID
	p.pending[jobID] = job
	return job, nil
}

// abandon drops a job the caller stopped waiting for and quarantines its
// worker. If the result won the race it is returned with resolved set.
func (p *Pool) abandon(job *pendingJob, s *slot) (outcome, bool) {
	p.mu.Lock()
	if p.pending[job.jobID] != job {
		p.mu.Unlock()
		return <-job.done, true
	}
	delete(p.pending, job.jobID)
	if s.state == WorkerBusy && s.jobID == job.jobID {
		s.state = WorkerQuarantined
	}
	job.resolve(outcome{})
	p.mu.Unlock()
	job.waitProgress()
	p.publishState()
	return outcome{}, false
}

func (p *Pool) finish(job *pendingJob, o outcome) (crawler.CrawlResult, error) {
	job.waitProgress()
	if o.err != nil {
		metrics.ObserveDispatch("error")
		return crawler.CrawlResult{}, o.err
	}
	metrics.ObserveDispatch(string(o.result.Status))
	return o.result, nil
}

// forwardProgress feeds the caller's callback until the job resolves.
// Callback panics are logged and swallowed.
func forwardProgress(job *pendingJob, fn func(crawler.CrawlProgress), logger *zap.Logger) {
	defer close(job.progressDone)
	for update := range job.progress {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Warn("progress callback panicked", zap.Any("panic", rec))
				}
			}()
			fn(update)
		}()
	}
}
