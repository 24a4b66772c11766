package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webingest/internal/crawler"
	"github.com/JakeFAU/webingest/internal/id/uuid"
	"github.com/JakeFAU/webingest/internal/loader"
)

const maxRequestBody = 1 << 20

type ingestRequest struct {
	URL            string          `json:"url"`
	JobID          string          `json:"job_id"`
	DatasourceID   string          `json:"datasource_id"`
	DatasourceName string          `json:"datasource_name"`
	Settings       settingsRequest `json:"settings"`
}

// settingsRequest mirrors crawler.Settings with optional fields. Durations are
// seconds.
type settingsRequest struct {
	CrawlMode           *string   `json:"crawl_mode"`
	MaxDepth            *int      `json:"max_depth"`
	MaxPages            *int      `json:"max_pages"`
	RenderJavaScript    *bool     `json:"render_javascript"`
	WaitForSelector     *string   `json:"wait_for_selector"`
	PageLoadTimeout     *float64  `json:"page_load_timeout"`
	FollowExternalLinks *bool     `json:"follow_external_links"`
	AllowedURLPatterns  *[]string `json:"allowed_url_patterns"`
	DeniedURLPatterns   *[]string `json:"denied_url_patterns"`
	DownloadDelay       *float64  `json:"download_delay"`
	ConcurrentRequests  *int      `json:"concurrent_requests"`
	RespectRobotsTxt    *bool     `json:"respect_robots_txt"`
	UserAgent           *string   `json:"user_agent"`
	FreshUntil          *int64    `json:"fresh_until"`
}

type ingestResponse struct {
	JobID        string `json:"job_id"`
	DatasourceID string `json:"datasource_id"`
	Status       string `json:"status"`
}

func (s *Server) submitIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}

	settings, err := req.Settings.apply(s.cfg.Defaults)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		if jobID, err = s.deps.IDs.NewID(); err != nil {
			s.logger.Error("generate job id failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to generate job id")
			return
		}
	} else if !uuid.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "job_id must be a UUID")
		return
	}

	candidate := crawler.CrawlRequest{JobID: jobID, URL: req.URL, Settings: settings}
	if err := candidate.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), crawler.ErrInvalidRequest.Error()+": "))
		return
	}
	if s.deps.Pool != nil {
		if !s.deps.Pool.Started() {
			writeError(w, http.StatusServiceUnavailable, "worker pool not started")
			return
		}
		if s.deps.Pool.HasPendingJob(jobID) {
			writeError(w, http.StatusConflict, fmt.Sprintf("job %s is already running", jobID))
			return
		}
	}

	datasourceID := req.DatasourceID
	if datasourceID == "" {
		datasourceID = crawler.DefaultDatasourceID(req.URL)
	}
	opts := []loader.LoadOption{loader.WithDatasource(datasourceID, req.DatasourceName)}
	s.startLoad(req.URL, settings, jobID, opts)

	writeJSON(w, http.StatusAccepted, ingestResponse{
		JobID:        jobID,
		DatasourceID: datasourceID,
		Status:       string(crawler.JobStatusPending),
	})
}

func (s *Server) startLoad(rawURL string, settings crawler.Settings, jobID string, opts []loader.LoadOption) {
	logger := s.logger.With(zap.String("job_id", jobID), zap.String("url", rawURL))
	s.loads.Add(1)
	go func() {
		defer s.loads.Done()
		summary, err := s.deps.Loader.Load(s.loadCtx, rawURL, settings, jobID, opts...)
		if err != nil {
			logger.Error("ingest job failed", zap.Error(err))
			return
		}
		logger.Info("ingest job finished",
			zap.String("job_status", string(summary.JobStatus)),
			zap.Int("pages_crawled", summary.PagesCrawled),
			zap.Int("ingested", summary.Ingested),
		)
	}()
}

// apply overlays the request onto defaults.
func (sr settingsRequest) apply(def crawler.Settings) (crawler.Settings, error) {
	out := def
	if sr.CrawlMode != nil {
		mode, err := crawler.ParseCrawlMode(*sr.CrawlMode)
		if err != nil {
			return out, errors.New("crawl_mode must be one of single, sitemap, recursive")
		}
		out.CrawlMode = mode
	}
	if out.CrawlMode == "" {
		out.CrawlMode = crawler.ModeSingle
	}
	out.MaxDepth = valueOrDefault(sr.MaxDepth, out.MaxDepth)
	out.MaxPages = valueOrDefault(sr.MaxPages, out.MaxPages)
	out.RenderJavaScript = valueOrDefault(sr.RenderJavaScript, out.RenderJavaScript)
	out.WaitForSelector = valueOrDefault(sr.WaitForSelector, out.WaitForSelector)
	out.FollowExternalLinks = valueOrDefault(sr.FollowExternalLinks, out.FollowExternalLinks)
	out.ConcurrentRequests = valueOrDefault(sr.ConcurrentRequests, out.ConcurrentRequests)
	out.RespectRobotsTxt = valueOrDefault(sr.RespectRobotsTxt, out.RespectRobotsTxt)
	out.UserAgent = valueOrDefault(sr.UserAgent, out.UserAgent)
	out.FreshUntil = valueOrDefault(sr.FreshUntil, out.FreshUntil)
	if sr.AllowedURLPatterns != nil {
		out.AllowedURLPatterns = append([]string(nil), (*sr.AllowedURLPatterns)...)
	}
	if sr.DeniedURLPatterns != nil {
		out.DeniedURLPatterns = append([]string(nil), (*sr.DeniedURLPatterns)...)
	}
	if sr.PageLoadTimeout != nil {
		if *sr.PageLoadTimeout < 0 {
			return out, errors.New("page_load_timeout must be >= 0")
		}
		out.PageLoadTimeout = seconds(*sr.PageLoadTimeout)
	}
	if sr.DownloadDelay != nil {
		if *sr.DownloadDelay < 0 {
			return out, errors.New("download_delay must be >= 0")
		}
		out.DownloadDelay = seconds(*sr.DownloadDelay)
	}
	return out, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
