package models

import (
	"encoding/json"
	"time"
)

// OutboxStatus represents the state of a remote-cleanup outbox entry.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusPublishing OutboxStatus = "publishing"
	OutboxStatusPublished  OutboxStatus = "published"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// OutboxEntry records an intent to clean up remote indexed data. It is
// written in the same transaction as the local delete so a crash between
// the delete and the enqueue cannot lose the cleanup obligation. A
// dispatcher drains pending entries into the job queue.
type OutboxEntry struct {
	ID string `json:"id" db:"id"`

	// Kind is the queue job type the entry is dispatched as.
	Kind string `json:"kind" db:"kind"`

	// Payload is the serialized job payload: identifiers and chunk counts
	// only, never live rows.
	Payload json.RawMessage `json:"payload" db:"payload"`

	Status       OutboxStatus `json:"status"        db:"status"`
	RetryCount   int          `json:"retry_count"   db:"retry_count"`
	MaxRetries   int          `json:"max_retries"   db:"max_retries"`
	ErrorMessage *string      `json:"error_message,omitempty" db:"error_message"`

	CreatedAt   time.Time  `json:"created_at"   db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"   db:"updated_at"`
	PublishedAt *time.Time `json:"published_at,omitempty" db:"published_at"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty" db:"next_retry_at"`
}

// IsExhausted returns true if all dispatch retries have been used up.
func (o *OutboxEntry) IsExhausted() bool {
	return o.RetryCount >= o.MaxRetries
}
