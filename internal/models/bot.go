// Package models contains the persisted domain types for bots, sources,
// and documents, plus the source status state machine.
package models

import "time"

// Bot is a named knowledge base owned by a user, backed by zero or more
// sources. The counter fields are derived aggregates maintained by the
// repository layer; ingestion code never writes them directly.
type Bot struct {
	ID          string    `json:"id"          db:"id"`
	UserID      string    `json:"user_id"     db:"user_id"`
	Name        string    `json:"name"        db:"name"`
	Description string    `json:"description" db:"description"`

	// SourcesCount and TotalIndexedChunksCount are recomputed from the
	// sources table inside every transaction that mutates a child row.
	SourcesCount            int `json:"sources_count"              db:"sources_count"`
	TotalIndexedChunksCount int `json:"total_indexed_chunks_count" db:"total_indexed_chunks_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
