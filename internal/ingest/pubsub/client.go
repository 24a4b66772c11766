// Package pubsub publishes document batches to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/webingest/internal/crawler"
	"github.com/JakeFAU/webingest/internal/ingest"
)

// Message attribute keys.
const (
	AttrJobID         = "job_id"
	AttrDatasourceID  = "datasource_id"
	AttrDocumentCount = "document_count"
)

// Client publishes one message per batch and waits for the server ack.
type Client struct {
	topic *pubsub.Topic
}

// New wraps an existing topic handle.
func New(topic *pubsub.Topic) (*Client, error) {
	if topic == nil {
		return nil, errors.New("pubsub topic is required")
	}
	return &Client{topic: topic}, nil
}

// Dial opens a Pub/Sub client for projectID and verifies the topic exists.
// The returned close func stops the topic and closes the client.
func Dial(ctx context.Context, projectID, topicID string) (*Client, func() error, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil || !ok {
		_ = client.Close()
		if err == nil {
			err = fmt.Errorf("topic %q does not exist", topicID)
		}
		return nil, nil, fmt.Errorf("check pubsub topic: %w", err)
	}
	closeFn := func() error {
		topic.Stop()
		return client.Close()
	}
	return &Client{topic: topic}, closeFn, nil
}

// IngestDocuments publishes docs as a JSON-encoded ingest.Batch.
func (c *Client) IngestDocuments(ctx context.Context, jobID, datasourceID string, docs []crawler.Document) error {
	data, err := json.Marshal(ingest.Batch{JobID: jobID, DatasourceID: datasourceID, Documents: docs})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	res := c.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrJobID:         jobID,
			AttrDatasourceID:  datasourceID,
			AttrDocumentCount: strconv.Itoa(len(docs)),
		},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publish batch for job %s: %w", jobID, err)
	}
	return nil
}
