package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/webingest/internal/progress"
)

// LogSink writes each lifecycle event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event. Heartbeats go to debug; terminal failures to warn.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.Int("worker_id", evt.WorkerID),
			zap.String("stage", string(evt.Stage)),
			zap.Int("pages_crawled", evt.PagesCrawled),
			zap.Int("pages_failed", evt.PagesFailed),
		}
		if evt.Site != "" {
			fields = append(fields, zap.String("site", evt.Site))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Terminal() {
			fields = append(fields,
				zap.String("status", evt.Status),
				zap.Int("documents", evt.Documents),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageJobHB:
			s.logger.Debug("crawl progress", fields...)
		case progress.StageJobError:
			s.logger.Warn("crawl failed", fields...)
		default:
			s.logger.Info("crawl lifecycle", fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
