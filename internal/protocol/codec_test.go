package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webingest/internal/crawler"
)

func sampleMessages() []Message {
	total := 12
	return []Message{
		CrawlRequest{Request: crawler.CrawlRequest{
			JobID:          "job-1",
			URL:            "https://docs.example.com/",
			DatasourceID:   "src_docs",
			DatasourceName: "docs.example.com",
			IngestorID:     "webloader",
			Settings: crawler.Settings{
				CrawlMode:           crawler.ModeRecursive,
				MaxDepth:            2,
				MaxPages:            40,
				RenderJavaScript:    true,
				WaitForSelector:     "#main",
				PageLoadTimeout:     15 * time.Second,
				FollowExternalLinks: true,
				AllowedURLPatterns:  []string{`/docs/`},
				DeniedURLPatterns:   []string{`\.pdf$`, `/blog/`},
				DownloadDelay:       250 * time.Millisecond,
				ConcurrentRequests:  4,
				RespectRobotsTxt:    true,
				UserAgent:           "webingest/1.0",
				FreshUntil:          1767225600,
			},
		}},
		Shutdown{},
		CrawlStarted{WorkerID: 2, JobID: "job-1"},
		CrawlProgress{WorkerID: 2, Progress: crawler.CrawlProgress{
			JobID: "job-1", PagesCrawled: 3, PagesFailed: 1, CurrentURL: "https://docs.example.com/a",
			Message: "Crawling 3/12 pages", TotalPages: &total, QueueSize: 7,
		}},
		CrawlResult{WorkerID: 2, Result: crawler.CrawlResult{
			JobID: "job-1", Status: crawler.StatusPartial, PagesCrawled: 3, PagesFailed: 1,
			Documents: []crawler.Document{{
				ID:          "abc",
				PageContent: "hello world, this is content",
				Metadata: crawler.DocumentMetadata{
					DatasourceID: "src_docs", DocumentID: "abc", Title: "Intro", Description: "d",
					DocumentType: crawler.DocumentTypeWebpage, IngestedAt: 1700000000, FreshUntil: 1767225600,
					IngestorID: "webloader",
					Metadata: crawler.SourceMetadata{
						Source: "https://docs.example.com/a", Language: "en", Generator: "Docusaurus",
					},
				},
			}},
			Errors:          []string{"HTTP 404: https://docs.example.com/missing"},
			ElapsedSeconds:  1.25,
			EffectiveDomain: "docs.example.com",
			FilterCounters: crawler.FilterCounters{
				URLsFoundInSitemap: 12, URLsFilteredExternal: 1, URLsFilteredPattern: 2,
				URLsFilteredMaxPages: 3, URLsFilteredRobots: 4,
			},
		}},
		CrawlResult{WorkerID: 1, Result: crawler.CrawlResult{
			JobID: "job-2", Status: crawler.StatusFailed, FatalError: "boom",
		}},
		WorkerReady{WorkerID: 3},
		WorkerError{WorkerID: 3, JobID: "job-9", Error: "panic: nil map"},
		WorkerError{WorkerID: 1, Error: "decode failed"},
	}
}

func TestRoundTripAllMessageTypes(t *testing.T) {
	t.Parallel()

	seen := map[MessageType]bool{}
	for _, msg := range sampleMessages() {
		decoded, err := Decode(Encode(msg))
		require.NoError(t, err)
		require.Equal(t, msg, decoded)
		seen[msg.Type()] = true
	}
	require.Len(t, seen, 7)
}

func TestRoundTripThroughJSON(t *testing.T) {
	t.Parallel()

	for _, msg := range sampleMessages() {
		raw, err := json.Marshal(Encode(msg))
		require.NoError(t, err)

		var generic map[string]any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		require.NoError(t, dec.Decode(&generic))

		decoded, err := Decode(generic)
		require.NoError(t, err)
		require.Equal(t, msg, decoded)
	}
}

func TestEmptySlicesDecodeAsNil(t *testing.T) {
	t.Parallel()

	empty := CrawlResult{WorkerID: 1, Result: crawler.CrawlResult{
		JobID: "job-3", Status: crawler.StatusFailed, FatalError: "nothing scraped",
		Documents: []crawler.Document{}, Errors: []string{},
	}}
	absent := CrawlResult{WorkerID: 1, Result: crawler.CrawlResult{
		JobID: "job-3", Status: crawler.StatusFailed, FatalError: "nothing scraped",
	}}
	require.Equal(t, Encode(absent), Encode(empty))

	raw, err := json.Marshal(Encode(empty))
	require.NoError(t, err)
	require.Contains(t, string(raw), `"documents":[]`)
	require.Contains(t, string(raw), `"errors":[]`)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	decoded, err := Decode(generic)
	require.NoError(t, err)
	require.Equal(t, absent, decoded)
	res := decoded.(CrawlResult).Result
	require.Nil(t, res.Documents)
	require.Nil(t, res.Errors)
}

func TestDecodeUnknownType(t *testing.T) {
	t.Parallel()

	_, err := Decode(map[string]any{"type": "CRAWL_EXPLODED"})
	require.ErrorIs(t, err, ErrUnknownMessageType)

	_, err = Decode(map[string]any{})
	require.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestDecodeMissingFieldsUseDefaults(t *testing.T) {
	t.Parallel()

	msg, err := Decode(map[string]any{"type": "CRAWL_RESULT"})
	require.NoError(t, err)
	res := msg.(CrawlResult).Result
	require.Equal(t, crawler.StatusFailed, res.Status)
	require.Empty(t, res.Documents)
	require.Empty(t, res.FatalError)

	msg, err = Decode(map[string]any{
		"type":    "CRAWL_PROGRESS",
		"payload": map[string]any{"job_id": "j", "pages_crawled": "seven", "total_pages": nil},
	})
	require.NoError(t, err)
	progress := msg.(CrawlProgress).Progress
	require.Equal(t, "j", progress.JobID)
	require.Zero(t, progress.PagesCrawled)
	require.Nil(t, progress.TotalPages)
}

func TestJobID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "job-1", JobID(CrawlStarted{JobID: "job-1"}))
	require.Empty(t, JobID(WorkerReady{WorkerID: 1}))
	require.Empty(t, JobID(Shutdown{}))
}
