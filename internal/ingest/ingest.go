// Package ingest holds the IngestClient backends and the payload shapes they
// share. Every backend receives documents in the batches the loader forms.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/webingest/internal/crawler"
)

// Batch is the message body used by backends that ship a batch as one unit.
type Batch struct {
	JobID        string             `json:"job_id"`
	DatasourceID string             `json:"datasource_id"`
	Documents    []crawler.Document `json:"documents"`
}

// EncodeJSONL renders one JSON document per line.
func EncodeJSONL(docs []crawler.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range docs {
		if err := enc.Encode(docs[i]); err != nil {
			return nil, fmt.Errorf("encode document %s: %w", docs[i].ID, err)
		}
	}
	return buf.Bytes(), nil
}
