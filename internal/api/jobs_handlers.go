package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/webingest/internal/crawler"
)

// getJob handles GET /v1/jobs/{job_id}. It returns {"job": {...}}, 404 for an
// unknown job and 501 when the JobManager cannot report state.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusNotImplemented, "job state is not readable with the configured backend")
		return
	}
	jobID := strings.TrimSpace(chi.URLParam(r, "job_id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	job, err := s.deps.Jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	resp := map[string]any{"job": job}
	if s.deps.Pool != nil {
		resp["running"] = s.deps.Pool.HasPendingJob(jobID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) poolStats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Pool == nil {
		writeError(w, http.StatusServiceUnavailable, "worker pool unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"started": s.deps.Pool.Started(),
		"pool":    s.deps.Pool.Stats(),
	})
}
