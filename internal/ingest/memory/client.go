// Package memory records ingested documents in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/webingest/internal/crawler"
	"github.com/JakeFAU/webingest/internal/ingest"
)

// Client is an in-memory crawler.IngestClient.
type Client struct {
	mu       sync.RWMutex
	batches  []ingest.Batch
	failures map[int]error
}

// New returns an empty Client.
func New() *Client {
	return &Client{failures: make(map[int]error)}
}

// FailBatch makes the n-th call (zero based) return err.
func (c *Client) FailBatch(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[n] = err
}

// IngestDocuments records a copy of docs.
func (c *Client) IngestDocuments(_ context.Context, jobID, datasourceID string, docs []crawler.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := len(c.batches)
	c.batches = append(c.batches, ingest.Batch{
		JobID:        jobID,
		DatasourceID: datasourceID,
		Documents:    append([]crawler.Document(nil), docs...),
	})
	if err, ok := c.failures[call]; ok {
		return err
	}
	return nil
}

// Batches returns every call received, including failed ones.
func (c *Client) Batches() []ingest.Batch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ingest.Batch(nil), c.batches...)
}

// Documents returns the documents of every successful call for jobID.
func (c *Client) Documents(jobID string) []crawler.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []crawler.Document
	for i, b := range c.batches {
		if _, failed := c.failures[i]; failed || b.JobID != jobID {
			continue
		}
		out = append(out, b.Documents...)
	}
	return out
}
