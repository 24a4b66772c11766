package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// CrawlMode selects how pages are discovered.
type CrawlMode string

// Supported crawl modes.
const (
	ModeSingle    CrawlMode = "single"
	ModeSitemap   CrawlMode = "sitemap"
	ModeRecursive CrawlMode = "recursive"
)

// ParseCrawlMode maps user input onto a CrawlMode. Empty input selects single.
func ParseCrawlMode(raw string) (CrawlMode, error) {
	switch CrawlMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeSingle:
		return ModeSingle, nil
	case ModeSitemap:
		return ModeSitemap, nil
	case ModeRecursive:
		return ModeRecursive, nil
	default:
		return "", fmt.Errorf("%w: unknown crawl mode %q", ErrInvalidRequest, raw)
	}
}

// CrawlStatus is the terminal outcome of one crawl.
type CrawlStatus string

// Terminal crawl statuses.
const (
	StatusSuccess CrawlStatus = "success"
	StatusPartial CrawlStatus = "partial"
	StatusFailed  CrawlStatus = "failed"
)

// DeriveStatus applies the status invariant: failed when nothing was crawled,
// partial when some pages failed, success otherwise.
func DeriveStatus(pagesCrawled, pagesFailed int) CrawlStatus {
	switch {
	case pagesCrawled == 0:
		return StatusFailed
	case pagesFailed > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}

// JobStatus is the ingestion job state tracked by a JobManager.
type JobStatus string

// Job statuses written by the loader.
const (
	JobStatusPending             JobStatus = "pending"
	JobStatusInProgress          JobStatus = "in_progress"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusFailed              JobStatus = "failed"
)

// Sentinel errors shared across packages.
var (
	ErrInvalidRequest = errors.New("invalid crawl request")
	ErrRobotsBlocked  = errors.New("blocked by robots.txt")
	ErrJobNotFound    = errors.New("job not found")
)

// Settings are the caller-tunable crawl knobs accepted by the Submission API.
type Settings struct {
	CrawlMode           CrawlMode
	MaxDepth            int
	MaxPages            int
	RenderJavaScript    bool
	WaitForSelector     string
	PageLoadTimeout     time.Duration
	FollowExternalLinks bool
	AllowedURLPatterns  []string
	DeniedURLPatterns   []string
	DownloadDelay       time.Duration
	ConcurrentRequests  int
	RespectRobotsTxt    bool
	UserAgent           string
	// FreshUntil is a caller-supplied expiry (epoch seconds) copied onto
	// documents by the loader. The engine ignores it.
	FreshUntil int64
}

// CrawlRequest describes one crawl. JobID is the only correlation key used
// across worker messages.
type CrawlRequest struct {
	JobID          string
	URL            string
	DatasourceID   string
	DatasourceName string
	IngestorID     string
	Settings
}

// Validate rejects requests the engine cannot run.
func (r CrawlRequest) Validate() error {
	if strings.TrimSpace(r.JobID) == "" {
		return fmt.Errorf("%w: job_id is required", ErrInvalidRequest)
	}
	parsed, err := url.Parse(r.URL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("%w: url %q must be an absolute http(s) URL", ErrInvalidRequest, r.URL)
	}
	if r.MaxPages < 1 {
		return fmt.Errorf("%w: max_pages must be >= 1", ErrInvalidRequest)
	}
	if r.MaxDepth < 0 {
		return fmt.Errorf("%w: max_depth must be >= 0", ErrInvalidRequest)
	}
	if r.ConcurrentRequests < 0 {
		return fmt.Errorf("%w: concurrent_requests must be >= 0", ErrInvalidRequest)
	}
	if _, err := ParseCrawlMode(string(r.CrawlMode)); err != nil {
		return err
	}
	if _, err := CompilePatterns(r.AllowedURLPatterns); err != nil {
		return fmt.Errorf("%w: allowed_url_patterns: %v", ErrInvalidRequest, err)
	}
	if _, err := CompilePatterns(r.DeniedURLPatterns); err != nil {
		return fmt.Errorf("%w: denied_url_patterns: %v", ErrInvalidRequest, err)
	}
	return nil
}

// CompilePatterns compiles an ordered list of regular expressions.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// CrawlProgress is a best-effort progress snapshot for one job.
type CrawlProgress struct {
	JobID        string
	PagesCrawled int
	PagesFailed  int
	CurrentURL   string
	Message      string
	// TotalPages is known only once a sitemap has been parsed.
	TotalPages *int
	// QueueSize is meaningful in recursive mode only.
	QueueSize int
}

// FilterCounters explain why discovered URLs were not crawled.
type FilterCounters struct {
	URLsFoundInSitemap   int
	URLsFilteredExternal int
	URLsFilteredPattern  int
	URLsFilteredMaxPages int
	URLsFilteredRobots   int
}

// CrawlResult is the single terminal message of a crawl. A nil Documents or
// Errors slice is the canonical empty value.
type CrawlResult struct {
	JobID          string
	Status         CrawlStatus
	PagesCrawled   int
	PagesFailed    int
	Documents      []Document
	FatalError     string
	Errors         []string
	ElapsedSeconds float64
	// EffectiveDomain is the host same-domain filtering was applied against.
	EffectiveDomain string
	FilterCounters
}

// FailedResult builds a failed result carrying only a fatal error.
func FailedResult(jobID, fatal string, elapsed time.Duration) CrawlResult {
	return CrawlResult{
		JobID:          jobID,
		Status:         StatusFailed,
		FatalError:     fatal,
		ElapsedSeconds: elapsed.Seconds(),
	}
}

// DocumentTypeWebpage is the document_type stamped on crawled pages.
const DocumentTypeWebpage = "webpage"

// Document is one extracted page ready for embedding.
type Document struct {
	ID          string           `json:"id"`
	PageContent string           `json:"page_content"`
	Metadata    DocumentMetadata `json:"metadata"`
}

// DocumentMetadata is attached to every Document.
type DocumentMetadata struct {
	DatasourceID  string         `json:"datasource_id"`
	DocumentID    string         `json:"document_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	DocumentType  string         `json:"document_type"`
	IngestedAt    int64          `json:"ingested_at"`
	FreshUntil    int64          `json:"fresh_until,omitempty"`
	IngestorID    string         `json:"ingestor_id"`
	IsGraphEntity bool           `json:"is_graph_entity"`
	Metadata      SourceMetadata `json:"metadata"`
}

// SourceMetadata records where a document came from.
type SourceMetadata struct {
	Source    string `json:"source"`
	Language  string `json:"language,omitempty"`
	Generator string `json:"generator,omitempty"`
}

// FetchRequest captures everything needed to fetch or render a URL.
type FetchRequest struct {
	JobID           string
	URL             string
	UserAgent       string
	Timeout         time.Duration
	RespectRobots   bool
	WaitForSelector string
	Headers         http.Header
}

// Page is a fetched or rendered response.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	UsedJS     bool

	// RobotsAssumed is set when robots.txt for the page's host could not be
	// read and every path was treated as allowed.
	RobotsAssumed bool
}

// ContentType returns the response media type without parameters.
func (p Page) ContentType() string {
	if p.Headers == nil {
		return ""
	}
	ct := p.Headers.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// ParsedContent is what a ContentParser extracts from a page.
type ParsedContent struct {
	Content     string
	Title       string
	Description string
	Language    string
	Generator   string
}

// JobState is the readable view of a job kept by a JobManager.
type JobState struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message"`
	Total     *int      `json:"total,omitempty"`
	Processed int       `json:"processed"`
	Errors    []string  `json:"errors,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
