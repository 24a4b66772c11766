// Package worker hosts one crawl engine behind the message protocol. A worker
// announces itself, then runs crawl requests from its private inbox one at a
// time, streaming progress and a single terminal result to the shared outbox.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webingest/internal/crawler"
	"github.com/JakeFAU/webingest/internal/engine"
	"github.com/JakeFAU/webingest/internal/metrics"
	"github.com/JakeFAU/webingest/internal/protocol"
	"github.com/JakeFAU/webingest/internal/queue/memory"
)

// Runner executes one crawl to completion. *engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, req crawler.CrawlRequest, progress engine.ProgressFunc) crawler.CrawlResult
}

// Inbox delivers encoded messages addressed to this worker.
type Inbox interface {
	Dequeue(ctx context.Context) (map[string]any, error)
}

// Outbox carries encoded messages back to the pool.
type Outbox interface {
	Enqueue(ctx context.Context, item map[string]any) error
	TryEnqueue(item map[string]any) bool
}

// Worker owns one Runner for its whole lifetime.
type Worker struct {
	id     int
	runner Runner
	inbox  Inbox
	outbox Outbox
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, runner Runner, inbox Inbox, outbox Outbox, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		runner: runner,
		inbox:  inbox,
		outbox: outbox,
		logger: logger.With(zap.Int("worker_id", id)),
	}
}

// ID returns the worker id.
func (w *Worker) ID() int { return w.id }

// Run announces readiness and processes messages until SHUTDOWN arrives, the
// inbox closes, or ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.send(ctx, protocol.WorkerReady{WorkerID: w.id}); err != nil {
		return fmt.Errorf("announce worker %d: %w", w.id, err)
	}
	w.logger.Debug("worker ready")

	for {
		raw, err := w.inbox.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrClosed) {
				w.logger.Debug("inbox closed, worker exiting")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("inbox dequeue failed", zap.Error(err))
			continue
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			w.logger.Error("undecodable message", zap.Error(err))
			w.reportError(ctx, "", fmt.Sprintf("decode message: %v", err))
			continue
		}

		switch m := msg.(type) {
		case protocol.CrawlRequest:
			w.handle(ctx, m.Request)
		case protocol.Shutdown:
			w.logger.Debug("shutdown received")
			return nil
		default:
			w.logger.Warn("ignoring unexpected message", zap.String("type", string(msg.Type())))
		}
	}
}

func (w *Worker) handle(ctx context.Context, req crawler.CrawlRequest) {
	logger := w.logger.With(zap.String("job_id", req.JobID))
	if err := w.send(ctx, protocol.CrawlStarted{WorkerID: w.id, JobID: req.JobID}); err != nil {
		logger.Error("failed to report crawl start", zap.Error(err))
		return
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	result := w.runSafely(ctx, req, logger)
	if err := w.send(ctx, protocol.CrawlResult{WorkerID: w.id, Result: result}); err != nil {
		logger.Error("failed to deliver crawl result", zap.Error(err))
	}
}

// runSafely runs the crawl, turning a panic into a failed result so a broken
// crawl never takes the worker down.
func (w *Worker) runSafely(ctx context.Context, req crawler.CrawlRequest, logger *zap.Logger) (result crawler.CrawlResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("crawl panicked", zap.Any("panic", rec), zap.Stack("stack"))
			result = crawler.FailedResult(req.JobID,
				fmt.Sprintf("worker %d crashed while crawling: %v", w.id, rec), time.Since(start))
		}
	}()
	return w.runner.Run(ctx, req, w.progressFunc(logger))
}

// progressFunc forwards progress without ever blocking the crawl.
func (w *Worker) progressFunc(logger *zap.Logger) engine.ProgressFunc {
	return func(p crawler.CrawlProgress) {
		if !w.outbox.TryEnqueue(protocol.Encode(protocol.CrawlProgress{WorkerID: w.id, Progress: p})) {
			metrics.ObserveProgressDropped("worker")
			logger.Debug("progress dropped, result queue full", zap.Int("pages_crawled", p.PagesCrawled))
		}
	}
}

func (w *Worker) reportError(ctx context.Context, jobID, message string) {
	if err := w.send(ctx, protocol.WorkerError{WorkerID: w.id, JobID: jobID, Error: message}); err != nil {
		w.logger.Error("failed to report worker error", zap.Error(err))
	}
}

func (w *Worker) send(ctx context.Context, msg protocol.Message) error {
	if err := w.outbox.Enqueue(ctx, protocol.Encode(msg)); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}
	return nil
}
