package models

import "time"

// SourceType identifies how a source's content is declared.
type SourceType string

const (
	// SourceTypeURL is a single page fetched from one URL.
	SourceTypeURL SourceType = "url"
	// SourceTypeURLList is a newline-delimited list of URLs stored as a blob.
	SourceTypeURLList SourceType = "url_list"
	// SourceTypeWordPress is a WordPress XML export. Processing is not
	// implemented yet; ingestion jobs reject it with an error.
	SourceTypeWordPress SourceType = "wordpress"
)

// IsValid returns true if the type is one of the known source types.
func (t SourceType) IsValid() bool {
	switch t {
	case SourceTypeURL, SourceTypeURLList, SourceTypeWordPress:
		return true
	default:
		return false
	}
}

// Data keys written back by the URL-list ingestion job.
const (
	DataKeyFilePath        = "file_path"
	DataKeyTotalURLs       = "total_urls"
	DataKeyValidURLs       = "valid_urls"
	DataKeyInvalidURLs     = "invalid_urls"
	DataKeyInvalidURLsList = "invalid_urls_list"
	DataKeyProcessedURLs   = "processed_urls"
	DataKeyFailedURLs      = "failed_urls"
	DataKeyFailedURLsList  = "failed_urls_list"
)

// Source is a declared content origin plus its ingestion lifecycle state.
type Source struct {
	ID     string     `json:"id"      db:"id"`
	BotID  string     `json:"bot_id"  db:"bot_id"`
	UserID string     `json:"user_id" db:"user_id"`
	Type   SourceType `json:"type"    db:"type"`
	Title  string     `json:"title"   db:"title"`
	Status Status     `json:"status"  db:"status"`

	RefreshSchedule RefreshSchedule `json:"refresh_schedule" db:"refresh_schedule"`

	// IndexedChunksCount is derived from the source's documents and
	// recomputed by the repository after every document mutation.
	IndexedChunksCount int `json:"indexed_chunks_count" db:"indexed_chunks_count"`

	// Data holds the type-specific payload, e.g. the uploaded file path for
	// URL-list sources and the processing summary after a list run.
	Data JSONMap `json:"data,omitempty" db:"data"`

	LastRefreshAt *time.Time `json:"last_refresh_at,omitempty" db:"last_refresh_at"`
	NextRefreshAt *time.Time `json:"next_refresh_at,omitempty" db:"next_refresh_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FilePath returns the blob path for URL-list sources, or "" when absent.
func (s *Source) FilePath() string {
	if s.Data == nil {
		return ""
	}
	path, _ := s.Data[DataKeyFilePath].(string)
	return path
}
