// Package audit keeps a searchable trail of receipt request attempts.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
)

// AttemptRecord is one receipt request attempt. Subscriber ids are never stored
// in clear, only their fingerprint.
type AttemptRecord struct {
	AttemptID          string    `json:"attemptId"`
	JobKey             int64     `json:"jobKey"`
	ElementInstanceKey int64     `json:"elementInstanceKey"`
	SubscriberRef      string    `json:"subscriberRef"`
	RetriesLeft        int32     `json:"retriesLeft"`
	Disposition        string    `json:"disposition"`
	Step               string    `json:"step"`
	ErrorCode          string    `json:"errorCode,omitempty"`
	Status             int       `json:"status,omitempty"`
	RequestGenerated   bool      `json:"requestGenerated"`
	DurationMs         int64     `json:"durationMs"`
	StartedAt          time.Time `json:"startedAt"`
}

type Recorder interface {
	RecordAttempt(ctx context.Context, rec AttemptRecord) error
}

// Mapping is the index mapping used by EnsureIndex at startup.
const Mapping = `{
  "mappings": {
    "properties": {
      "attemptId":          {"type": "keyword"},
      "jobKey":             {"type": "long"},
      "elementInstanceKey": {"type": "long"},
      "subscriberRef":      {"type": "keyword"},
      "retriesLeft":        {"type": "integer"},
      "disposition":        {"type": "keyword"},
      "step":               {"type": "keyword"},
      "errorCode":          {"type": "keyword"},
      "status":             {"type": "integer"},
      "requestGenerated":   {"type": "boolean"},
      "durationMs":         {"type": "long"},
      "startedAt":          {"type": "date"}
    }
  }
}`

type ElasticsearchRecorder struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchRecorder(client *elasticsearch.Client, index string) *ElasticsearchRecorder {
	return &ElasticsearchRecorder{client: client, index: index}
}

func (r *ElasticsearchRecorder) RecordAttempt(ctx context.Context, rec AttemptRecord) error {
	if rec.AttemptID == "" {
		rec.AttemptID = uuid.NewString()
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      r.index,
		DocumentID: rec.AttemptID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		return fmt.Errorf("index attempt: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("index attempt: %s: %s", res.Status(), string(msg))
	}
	return nil
}

type nopRecorder struct{}

// Nop discards every record.
func Nop() Recorder { return nopRecorder{} }

func (nopRecorder) RecordAttempt(context.Context, AttemptRecord) error { return nil }
