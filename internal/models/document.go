package models

import "time"

// Document is one fetched unit of content belonging to a source.
// IndexedChunksCount stays zero until the remote indexer accepts the
// document and reports how many chunks it produced.
type Document struct {
	ID       string `json:"id"        db:"id"`
	SourceID string `json:"source_id" db:"source_id"`
	Title    string `json:"title"     db:"title"`
	Content  string `json:"content"   db:"content"`

	// SourceURL is the origin the content was fetched from.
	SourceURL string `json:"source_url" db:"source_url"`

	IndexedChunksCount int `json:"indexed_chunks_count" db:"indexed_chunks_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
