// Package queue provides the Redis Streams job queue used by the ingestion
// and remote-cleanup pipelines. Delivery is at-least-once: consumers read
// through a consumer group, acknowledge after processing, and reclaim
// entries left pending by crashed workers.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies a job handler.
type Type string

const (
	// TypeProcessSource ingests a whole source (single URL or URL list).
	TypeProcessSource Type = "process_source"
	// TypeProcessDocument adds one document to an existing source.
	TypeProcessDocument Type = "process_document"
	// TypeDeleteDocument removes one document's chunks from the remote index.
	TypeDeleteDocument Type = "delete_remote_document"
	// TypeDeleteSource removes a source's chunks from the remote index.
	TypeDeleteSource Type = "delete_remote_source"
	// TypeDeleteBot fans out one delete_remote_source job per source.
	TypeDeleteBot Type = "delete_remote_bot"
)

// IsValid returns true for known job types.
func (t Type) IsValid() bool {
	switch t {
	case TypeProcessSource, TypeProcessDocument, TypeDeleteDocument, TypeDeleteSource, TypeDeleteBot:
		return true
	default:
		return false
	}
}

// Job is the queue envelope. Payloads carry identifiers only so that
// handlers always re-read committed state instead of trusting a snapshot
// serialized at enqueue time.
type Job struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewJob builds a job envelope around the given payload.
func NewJob(t Type, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Job{
		ID:         uuid.New().String(),
		Type:       t,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// DecodePayload unmarshals the payload into v.
func (j Job) DecodePayload(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}

// ProcessSourcePayload triggers a full ingestion run for a source. URL is
// optional; when empty the handler falls back to the source row.
type ProcessSourcePayload struct {
	SourceID string `json:"source_id"`
	URL      string `json:"url,omitempty"`
}

// ProcessDocumentPayload adds one URL to an existing source.
type ProcessDocumentPayload struct {
	SourceID string `json:"source_id"`
	URL      string `json:"url"`
}

// DocumentChunks pairs a document id with its indexed chunk count, matching
// the remote indexer's wire format.
type DocumentChunks struct {
	DocumentID string `json:"documentId"`
	Chunks     int    `json:"chunks"`
}

// SourceDocuments groups a source id with its chunked documents.
type SourceDocuments struct {
	SourceID  string           `json:"sourceId"`
	Documents []DocumentChunks `json:"documents"`
}

// DeleteDocumentPayload removes one document from the remote index.
type DeleteDocumentPayload struct {
	UserID     string `json:"user_id"`
	BotID      string `json:"bot_id"`
	SourceID   string `json:"source_id"`
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

// DeleteSourcePayload removes a whole source from the remote index.
type DeleteSourcePayload struct {
	UserID    string           `json:"user_id"`
	BotID     string           `json:"bot_id"`
	SourceID  string           `json:"source_id"`
	Documents []DocumentChunks `json:"documents"`
}

// DeleteBotPayload removes every chunked source of a bot from the remote
// index, one delete_remote_source job per entry.
type DeleteBotPayload struct {
	UserID  string            `json:"user_id"`
	BotID   string            `json:"bot_id"`
	Sources []SourceDocuments `json:"sources"`
}
