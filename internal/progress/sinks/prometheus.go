package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/webingest/internal/progress"
)

// PrometheusSink turns job lifecycle events into crawl job metrics.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	pagesCrawled  prometheus.Counter
	pagesFailed   prometheus.Counter
	documents     prometheus.Counter

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webingest_jobs_started_total",
			Help: "Crawl jobs dispatched to a worker.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webingest_jobs_completed_total",
			Help: "Crawl jobs finished, partitioned by crawl status.",
		}, []string{"status"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webingest_jobs_running",
			Help: "Crawl jobs currently awaiting a result.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webingest_job_runtime_seconds",
			Help:    "Wall time per finished crawl job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),
		pagesCrawled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webingest_job_pages_crawled_total",
			Help: "Pages crawled by finished jobs.",
		}),
		pagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webingest_job_pages_failed_total",
			Help: "Pages that failed in finished jobs.",
		}),
		documents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webingest_job_documents_total",
			Help: "Documents produced by finished jobs.",
		}),
		running: make(map[string]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.pagesCrawled,
		s.pagesFailed,
		s.documents,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobStart:
			s.jobsStarted.Inc()
			if s.track(evt.JobID, true) {
				s.jobsRunning.Inc()
			}
		case progress.StageJobDone, progress.StageJobError:
			s.finish(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event) {
	status := evt.Status
	if status == "" {
		status = "failed"
	}
	s.jobsCompleted.WithLabelValues(status).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(status).Observe(evt.Dur.Seconds())
	}
	s.pagesCrawled.Add(float64(evt.PagesCrawled))
	s.pagesFailed.Add(float64(evt.PagesFailed))
	s.documents.Add(float64(evt.Documents))
	if s.track(evt.JobID, false) {
		s.jobsRunning.Dec()
	}
}

// track records a job starting or finishing and reports whether the running
// set changed.
func (s *PrometheusSink) track(jobID string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[jobID]
	if start {
		if ok {
			return false
		}
		s.running[jobID] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, jobID)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
