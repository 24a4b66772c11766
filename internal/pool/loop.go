package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webingest/internal/crawler"
	"github.com/JakeFAU/webingest/internal/metrics"
	"github.com/JakeFAU/webingest/internal/progress"
	"github.com/JakeFAU/webingest/internal/protocol"
	"github.com/JakeFAU/webingest/internal/queue/memory"
)

// resultLoop drains the shared result queue for the lifetime of the pool.
// Messages for jobs nobody is waiting on any more are dropped.
func (p *Pool) resultLoop(ctx context.Context) {
	defer close(p.loopDone)
	for {
		raw, err := p.results.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			p.logger.Error("result queue dequeue failed", zap.Error(err))
			continue
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			p.logger.Warn("dropping undecodable worker message", zap.Error(err))
			continue
		}
		p.route(msg)
	}
}

func (p *Pool) route(msg protocol.Message) {
	if ce := p.logger.Check(zap.DebugLevel, "worker message"); ce != nil {
		ce.Write(zap.String("type", string(msg.Type())), zap.String("job_id", protocol.JobID(msg)))
	}
	switch m := msg.(type) {
	case protocol.WorkerReady:
		p.onReady(m.WorkerID)
	case protocol.CrawlStarted:
		p.onStarted(m)
	case protocol.CrawlProgress:
		p.onProgress(m)
		return
	case protocol.CrawlResult:
		p.onResult(m)
	case protocol.WorkerError:
		p.onWorkerError(m)
	default:
		p.logger.Warn("unexpected message on result queue", zap.String("type", string(msg.Type())))
		return
	}
	p.publishState()
}

func (p *Pool) onReady(workerID int) {
	p.mu.Lock()
	s, ok := p.slots[workerID]
	if ok && s.state == WorkerStarting {
		p.releaseLocked(s)
	}
	p.mu.Unlock()
	if !ok {
		p.logger.Warn("ready from unknown worker", zap.Int("worker_id", workerID))
		return
	}
	p.logger.Debug("worker ready", zap.Int("worker_id", workerID))
	select {
	case p.ready <- workerID:
	default:
	}
}

func (p *Pool) lookup(jobID string, workerID int) *pendingJob {
	job, ok := p.pending[jobID]
	if !ok || job.workerID != workerID {
		return nil
	}
	return job
}

func (p *Pool) onStarted(m protocol.CrawlStarted) {
	p.mu.Lock()
	job := p.lookup(m.JobID, m.WorkerID)
	p.mu.Unlock()
	if job == nil {
		return
	}
	p.emit(progress.Event{JobID: m.JobID, WorkerID: m.WorkerID, Stage: progress.StageJobStart})
}

func (p *Pool) onProgress(m protocol.CrawlProgress) {
	p.mu.Lock()
	job := p.lookup(m.Progress.JobID, m.WorkerID)
	if job != nil && job.progress != nil {
		select {
		case job.progress <- m.Progress:
		default:
			metrics.ObserveProgressDropped("pool")
		}
	}
	p.mu.Unlock()
	if job == nil {
		return
	}
	p.emit(progress.Event{
		JobID:        m.Progress.JobID,
		WorkerID:     m.WorkerID,
		Stage:        progress.StageJobHB,
		URL:          m.Progress.CurrentURL,
		PagesCrawled: m.Progress.PagesCrawled,
		PagesFailed:  m.Progress.PagesFailed,
		Note:         m.Progress.Message,
	})
}

func (p *Pool) onResult(m protocol.CrawlResult) {
	res := m.Result
	p.mu.Lock()
	s := p.slots[m.WorkerID]
	if job := p.lookup(res.JobID, m.WorkerID); job != nil {
		delete(p.pending, res.JobID)
		if s != nil {
			p.releaseLocked(s)
		}
		stage := progress.StageJobDone
		if res.Status == crawler.StatusFailed {
			stage = progress.StageJobError
		}
		// Emit before resolving so the event is queued before Crawl returns.
		p.emit(progress.Event{
			JobID:        res.JobID,
			WorkerID:     m.WorkerID,
			Stage:        stage,
			Site:         res.EffectiveDomain,
			PagesCrawled: res.PagesCrawled,
			PagesFailed:  res.PagesFailed,
			Documents:    len(res.Documents),
			Status:       string(res.Status),
			Dur:          time.Since(job.started),
			Note:         res.FatalError,
		})
		job.resolve(outcome{result: res})
		p.mu.Unlock()
		return
	}

	// A late result from a quarantined worker proves it is idle again.
	reclaimed := false
	if s != nil && s.state == WorkerQuarantined && s.jobID == res.JobID && p.cfg.ReclaimTimedOutWorkers {
		p.releaseLocked(s)
		reclaimed = true
	}
	p.mu.Unlock()
	if reclaimed {
		metrics.ObserveReclaim()
		p.logger.Info("reclaimed quarantined worker", zap.Int("worker_id", m.WorkerID), zap.String("job_id", res.JobID))
		return
	}
	p.logger.Debug("dropping result for unknown job", zap.Int("worker_id", m.WorkerID), zap.String("job_id", res.JobID))
}

func (p *Pool) onWorkerError(m protocol.WorkerError) {
	logger := p.logger.With(zap.Int("worker_id", m.WorkerID), zap.String("error", m.Error))
	if m.JobID == "" {
		logger.Error("worker reported error")
		return
	}
	p.mu.Lock()
	job := p.lookup(m.JobID, m.WorkerID)
	if job == nil {
		p.mu.Unlock()
		logger.Debug("dropping worker error for unknown job", zap.String("job_id", m.JobID))
		return
	}
	delete(p.pending, m.JobID)
	// The worker's health is unknown; keep it out of rotation until it
	// reports a result or is replaced.
	if s := p.slots[m.WorkerID]; s != nil && s.state == WorkerBusy && s.jobID == m.JobID {
		s.state = WorkerQuarantined
	}
	p.emit(progress.Event{
		JobID:    m.JobID,
		WorkerID: m.WorkerID,
		Stage:    progress.StageJobError,
		Status:   string(crawler.StatusFailed),
		Dur:      time.Since(job.started),
		Note:     m.Error,
	})
	job.resolve(outcome{err: fmt.Errorf("%w: worker %d: %s", ErrWorkerFailure, m.WorkerID, m.Error)})
	p.mu.Unlock()
	logger.Error("worker failed job", zap.String("job_id", m.JobID))
}
