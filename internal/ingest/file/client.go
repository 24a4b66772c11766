// Package file appends ingested documents to JSONL files, one per job.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/JakeFAU/webingest/internal/crawler"
	"github.com/JakeFAU/webingest/internal/ingest"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Client writes <dir>/<datasource_id>/<job_id>.jsonl.
type Client struct {
	dir string
	mu  sync.Mutex
}

// New creates dir if needed and returns a Client rooted there.
func New(dir string) (*Client, error) {
	if dir == "" {
		return nil, errors.New("ingest.dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ingest dir: %w", err)
	}
	return &Client{dir: dir}, nil
}

// Path returns the file documents for jobID are appended to.
func (c *Client) Path(jobID, datasourceID string) string {
	return filepath.Join(c.dir, sanitize(datasourceID), sanitize(jobID)+".jsonl")
}

// IngestDocuments appends docs to the job's file.
func (c *Client) IngestDocuments(_ context.Context, jobID, datasourceID string, docs []crawler.Document) error {
	payload, err := ingest.EncodeJSONL(docs)
	if err != nil {
		return err
	}
	path := c.Path(jobID, datasourceID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create datasource dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func sanitize(name string) string {
	name = unsafeName.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}
