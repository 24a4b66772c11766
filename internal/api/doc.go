// Package api serves the Submission API over HTTP. Routes:
//   - POST /v1/ingest starts an asynchronous crawl-and-ingest job.
//   - GET /v1/jobs/{job_id} reports job state when the JobManager can read.
//   - GET /v1/pool reports worker pool state.
//   - GET /healthz, /readyz for liveness and readiness checks and /metrics for Prometheus.
package api
