package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL over plain HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Page, error)
}

// Renderer renders a URL in a headless browser.
type Renderer interface {
	Render(ctx context.Context, request FetchRequest) (Page, error)
	Close()
}

// ContentParser extracts readable content from pages it recognizes.
type ContentParser interface {
	Name() string
	CanParse(page Page) bool
	Extract(page Page) (ParsedContent, error)
}

// ParserRegistry picks a ContentParser for a page and runs it.
type ParserRegistry interface {
	Parse(page Page) (ParsedContent, error)
}

// JobManager persists ingestion job status.
type JobManager interface {
	UpsertJob(ctx context.Context, jobID string, status JobStatus, message string, total *int) error
	IncrementProgress(ctx context.Context, jobID string, delta int) error
	AddErrorMsg(ctx context.Context, jobID string, msg string) error
}

// JobReader is implemented by JobManagers that can report job state.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (JobState, error)
}

// IngestClient hands documents to the downstream embedding pipeline.
type IngestClient interface {
	IngestDocuments(ctx context.Context, jobID, datasourceID string, documents []Document) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
