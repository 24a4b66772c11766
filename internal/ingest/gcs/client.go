// Package gcs uploads document batches to Google Cloud Storage as JSONL
// objects.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/webingest/internal/crawler"
	"github.com/JakeFAU/webingest/internal/ingest"
)

const contentType = "application/x-ndjson"

// Config captures the bucket and an optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Client writes one object per batch:
// <prefix>/<datasource_id>/<job_id>/batch-00001.jsonl.
type Client struct {
	client *storage.Client
	bucket string
	prefix string

	mu  sync.Mutex
	seq map[string]int
}

// New creates a GCS-backed ingest client.
func New(client *storage.Client, cfg Config) (*Client, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	return &Client{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		seq:    make(map[string]int),
	}, nil
}

// IngestDocuments uploads docs as a single JSONL object.
func (c *Client) IngestDocuments(ctx context.Context, jobID, datasourceID string, docs []crawler.Document) error {
	payload, err := ingest.EncodeJSONL(docs)
	if err != nil {
		return err
	}
	name := c.objectName(jobID, datasourceID)

	w := c.client.Bucket(c.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{
		"job_id":         jobID,
		"datasource_id":  datasourceID,
		"document_count": fmt.Sprint(len(docs)),
	}
	if _, err := io.Copy(w, bytes.NewReader(payload)); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return fmt.Errorf("upload %s: %w (close writer: %v)", name, err, closeErr)
		}
		return fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

func (c *Client) objectName(jobID, datasourceID string) string {
	c.mu.Lock()
	c.seq[jobID]++
	n := c.seq[jobID]
	c.mu.Unlock()
	return path.Join(c.prefix, datasourceID, jobID, fmt.Sprintf("batch-%05d.jsonl", n))
}
