package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/JakeFAU/webingest/internal/crawler"
)

// Envelope keys.
const (
	keyType    = "type"
	keyPayload = "payload"
)

// Encode converts a message into its transport-neutral form: a map holding
// only strings, numbers, booleans, nil, nested maps, and slices.
func Encode(m Message) map[string]any {
	var payload map[string]any
	switch msg := m.(type) {
	case CrawlRequest:
		payload = encodeRequest(msg.Request)
	case Shutdown:
		payload = map[string]any{}
	case CrawlStarted:
		payload = map[string]any{"worker_id": msg.WorkerID, "job_id": msg.JobID}
	case CrawlProgress:
		payload = encodeProgress(msg.Progress)
		payload["worker_id"] = msg.WorkerID
	case CrawlResult:
		payload = encodeResult(msg.Result)
		payload["worker_id"] = msg.WorkerID
	case WorkerReady:
		payload = map[string]any{"worker_id": msg.WorkerID}
	case WorkerError:
		payload = map[string]any{"worker_id": msg.WorkerID, "job_id": nullable(msg.JobID), "error": msg.Error}
	default:
		payload = map[string]any{}
	}
	return map[string]any{keyType: string(m.Type()), keyPayload: payload}
}

// Decode rebuilds a message from its encoded form. Missing or mistyped fields
// decode to their zero values; only an unrecognised type is an error. Empty
// lists decode as nil slices whether the sender held nil or an empty slice;
// both encode identically.
func Decode(v map[string]any) (Message, error) {
	raw, _ := v[keyType].(string)
	p := fields(asMap(v[keyPayload]))
	switch MessageType(raw) {
	case TypeCrawlRequest:
		return CrawlRequest{Request: decodeRequest(p)}, nil
	case TypeShutdown:
		return Shutdown{}, nil
	case TypeCrawlStarted:
		return CrawlStarted{WorkerID: p.getInt("worker_id"), JobID: p.getString("job_id")}, nil
	case TypeCrawlProgress:
		return CrawlProgress{WorkerID: p.getInt("worker_id"), Progress: decodeProgress(p)}, nil
	case TypeCrawlResult:
		return CrawlResult{WorkerID: p.getInt("worker_id"), Result: decodeResult(p)}, nil
	case TypeWorkerReady:
		return WorkerReady{WorkerID: p.getInt("worker_id")}, nil
	case TypeWorkerError:
		return WorkerError{WorkerID: p.getInt("worker_id"), JobID: p.getString("job_id"), Error: p.getString("error")}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, raw)
	}
}

func encodeRequest(r crawler.CrawlRequest) map[string]any {
	return map[string]any{
		"job_id":                r.JobID,
		"url":                   r.URL,
		"datasource_id":         r.DatasourceID,
		"datasource_name":       r.DatasourceName,
		"ingestor_id":           r.IngestorID,
		"crawl_mode":            string(r.CrawlMode),
		"max_depth":             r.MaxDepth,
		"max_pages":             r.MaxPages,
		"render_javascript":     r.RenderJavaScript,
		"wait_for_selector":     r.WaitForSelector,
		"page_load_timeout":     r.PageLoadTimeout.Seconds(),
		"follow_external_links": r.FollowExternalLinks,
		"allowed_url_patterns":  stringsToAny(r.AllowedURLPatterns),
		"denied_url_patterns":   stringsToAny(r.DeniedURLPatterns),
		"download_delay":        r.DownloadDelay.Seconds(),
		"concurrent_requests":   r.ConcurrentRequests,
		"respect_robots_txt":    r.RespectRobotsTxt,
		"user_agent":            r.UserAgent,
		"fresh_until":           r.FreshUntil,
	}
}

func decodeRequest(p fields) crawler.CrawlRequest {
	return crawler.CrawlRequest{
		JobID:          p.getString("job_id"),
		URL:            p.getString("url"),
		DatasourceID:   p.getString("datasource_id"),
		DatasourceName: p.getString("datasource_name"),
		IngestorID:     p.getString("ingestor_id"),
		Settings: crawler.Settings{
			CrawlMode:           crawler.CrawlMode(p.getString("crawl_mode")),
			MaxDepth:            p.getInt("max_depth"),
			MaxPages:            p.getInt("max_pages"),
			RenderJavaScript:    p.getBool("render_javascript"),
			WaitForSelector:     p.getString("wait_for_selector"),
			PageLoadTimeout:     p.getSeconds("page_load_timeout"),
			FollowExternalLinks: p.getBool("follow_external_links"),
			AllowedURLPatterns:  p.getStrings("allowed_url_patterns"),
			DeniedURLPatterns:   p.getStrings("denied_url_patterns"),
			DownloadDelay:       p.getSeconds("download_delay"),
			ConcurrentRequests:  p.getInt("concurrent_requests"),
			RespectRobotsTxt:    p.getBool("respect_robots_txt"),
			UserAgent:           p.getString("user_agent"),
			FreshUntil:          p.getInt64("fresh_until"),
		},
	}
}

func encodeProgress(pr crawler.CrawlProgress) map[string]any {
	var total any
	if pr.TotalPages != nil {
		total = *pr.TotalPages
	}
	return map[string]any{
		"job_id":        pr.JobID,
		"pages_crawled": pr.PagesCrawled,
		"pages_failed":  pr.PagesFailed,
		"current_url":   pr.CurrentURL,
		"message":       pr.Message,
		"total_pages":   total,
		"queue_size":    pr.QueueSize,
	}
}

func decodeProgress(p fields) crawler.CrawlProgress {
	return crawler.CrawlProgress{
		JobID:        p.getString("job_id"),
		PagesCrawled: p.getInt("pages_crawled"),
		PagesFailed:  p.getInt("pages_failed"),
		CurrentURL:   p.getString("current_url"),
		Message:      p.getString("message"),
		TotalPages:   p.getIntPtr("total_pages"),
		QueueSize:    p.getInt("queue_size"),
	}
}

func encodeResult(r crawler.CrawlResult) map[string]any {
	docs := make([]any, 0, len(r.Documents))
	for _, d := range r.Documents {
		docs = append(docs, encodeDocument(d))
	}
	return map[string]any{
		"job_id":                  r.JobID,
		"status":                  string(r.Status),
		"pages_crawled":           r.PagesCrawled,
		"pages_failed":            r.PagesFailed,
		"documents":               docs,
		"fatal_error":             nullable(r.FatalError),
		"errors":                  stringsToAny(r.Errors),
		"elapsed_seconds":         r.ElapsedSeconds,
		"effective_domain":        r.EffectiveDomain,
		"urls_found_in_sitemap":   r.URLsFoundInSitemap,
		"urls_filtered_external":  r.URLsFilteredExternal,
		"urls_filtered_pattern":   r.URLsFilteredPattern,
		"urls_filtered_max_pages": r.URLsFilteredMaxPages,
		"urls_filtered_robots":    r.URLsFilteredRobots,
	}
}

func decodeResult(p fields) crawler.CrawlResult {
	var docs []crawler.Document // nil when empty
	for _, raw := range p.getSlice("documents") {
		docs = append(docs, decodeDocument(fields(asMap(raw))))
	}
	status := crawler.CrawlStatus(p.getString("status"))
	if status == "" {
		status = crawler.StatusFailed
	}
	return crawler.CrawlResult{
		JobID:           p.getString("job_id"),
		Status:          status,
		PagesCrawled:    p.getInt("pages_crawled"),
		PagesFailed:     p.getInt("pages_failed"),
		Documents:       docs,
		FatalError:      p.getString("fatal_error"),
		Errors:          p.getStrings("errors"),
		ElapsedSeconds:  p.getFloat("elapsed_seconds"),
		EffectiveDomain: p.getString("effective_domain"),
		FilterCounters: crawler.FilterCounters{
			URLsFoundInSitemap:   p.getInt("urls_found_in_sitemap"),
			URLsFilteredExternal: p.getInt("urls_filtered_external"),
			URLsFilteredPattern:  p.getInt("urls_filtered_pattern"),
			URLsFilteredMaxPages: p.getInt("urls_filtered_max_pages"),
			URLsFilteredRobots:   p.getInt("urls_filtered_robots"),
		},
	}
}

func encodeDocument(d crawler.Document) map[string]any {
	m := d.Metadata
	return map[string]any{
		"id":           d.ID,
		"page_content": d.PageContent,
		"metadata": map[string]any{
			"datasource_id":   m.DatasourceID,
			"document_id":     m.DocumentID,
			"title":           m.Title,
			"description":     m.Description,
			"document_type":   m.DocumentType,
			"ingested_at":     m.IngestedAt,
			"fresh_until":     m.FreshUntil,
			"ingestor_id":     m.IngestorID,
			"is_graph_entity": m.IsGraphEntity,
			"metadata": map[string]any{
				"source":    m.Metadata.Source,
				"language":  m.Metadata.Language,
				"generator": m.Metadata.Generator,
			},
		},
	}
}

func decodeDocument(p fields) crawler.Document {
	m := fields(asMap(p["metadata"]))
	src := fields(asMap(m["metadata"]))
	docType := m.getString("document_type")
	if docType == "" {
		docType = crawler.DocumentTypeWebpage
	}
	return crawler.Document{
		ID:          p.getString("id"),
		PageContent: p.getString("page_content"),
		Metadata: crawler.DocumentMetadata{
			DatasourceID:  m.getString("datasource_id"),
			DocumentID:    m.getString("document_id"),
			Title:         m.getString("title"),
			Description:   m.getString("description"),
			DocumentType:  docType,
			IngestedAt:    m.getInt64("ingested_at"),
			FreshUntil:    m.getInt64("fresh_until"),
			IngestorID:    m.getString("ingestor_id"),
			IsGraphEntity: m.getBool("is_graph_entity"),
			Metadata: crawler.SourceMetadata{
				Source:    src.getString("source"),
				Language:  src.getString("language"),
				Generator: src.getString("generator"),
			},
		},
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// fields reads payload values tolerantly. Numbers may arrive as any Go numeric
// type or json.Number when the map went through encoding/json.
type fields map[string]any

func (f fields) getString(key string) string {
	s, _ := f[key].(string)
	return s
}

func (f fields) getBool(key string) bool {
	b, _ := f[key].(bool)
	return b
}

func (f fields) getFloat(key string) float64 {
	switch n := f[key].(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		v, _ := n.Float64()
		return v
	default:
		return 0
	}
}

func (f fields) getInt64(key string) int64 {
	switch n := f[key].(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	case json.Number:
		if v, err := n.Int64(); err == nil {
			return v
		}
		v, _ := n.Float64()
		return int64(v)
	default:
		return 0
	}
}

func (f fields) getInt(key string) int {
	return int(f.getInt64(key))
}

func (f fields) getIntPtr(key string) *int {
	if v, ok := f[key]; !ok || v == nil {
		return nil
	}
	n := f.getInt(key)
	return &n
}

func (f fields) getSeconds(key string) time.Duration {
	return time.Duration(math.Round(f.getFloat(key) * float64(time.Second)))
}

func (f fields) getSlice(key string) []any {
	s, _ := f[key].([]any)
	return s
}

func (f fields) getStrings(key string) []string {
	switch s := f[key].(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		if len(s) == 0 {
			return nil
		}
		out := make([]string, 0, len(s))
		for _, v := range s {
			if str, ok := v.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
