// Package jobs contains the queue job handlers for source ingestion,
// ad-hoc document adds, and remote index cleanup.
package jobs

import (
	"context"
	"time"

	"github.com/jonesrussell/fluentbot/internal/indexer"
	"github.com/jonesrussell/fluentbot/internal/models"
	"github.com/jonesrussell/fluentbot/internal/queue"
	"github.com/jonesrussell/fluentbot/internal/scraper"
)

// SourceStore is the slice of the source repository the handlers need.
type SourceStore interface {
	GetByID(ctx context.Context, id string) (*models.Source, error)
	TransitionStatus(ctx context.Context, id string, to models.Status) error
	MarkIndexed(ctx context.Context, id string, lastRefresh time.Time, nextRefresh *time.Time) error
	UpdateTitle(ctx context.Context, id, title string) error
	MergeData(ctx context.Context, id string, patch map[string]any) error
}

// DocumentStore is the slice of the document repository the handlers need.
type DocumentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	UpdateChunks(ctx context.Context, id string, chunks int) error
	CountPending(ctx context.Context, sourceID string) (int, error)
	CountIndexed(ctx context.Context, sourceID string) (int, error)
}

// Fetcher retrieves a page's content through the scraping service.
type Fetcher interface {
	Scrape(ctx context.Context, pageURL string) (*scraper.Page, error)
}

// Indexer talks to the remote vector-index service.
type Indexer interface {
	Index(ctx context.Context, req indexer.IndexRequest) (*indexer.IndexResult, error)
	DeleteDocument(ctx context.Context, req indexer.DeleteDocumentRequest) error
	DeleteSource(ctx context.Context, req indexer.DeleteSourceRequest) error
}

// BlobReader reads uploaded URL-list files back from the blob store.
type BlobReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// Validator screens URLs before they are scraped.
type Validator interface {
	IsValid(ctx context.Context, rawURL string) bool
}

// Enqueuer puts follow-up jobs on the queue, used by the bot-deletion
// fan-out.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) (string, error)
}

// Limiter paces the per-URL work inside a list run. rate.Limiter satisfies
// this; Wait returns early when the job context is canceled, so a shutdown
// never sits out a full delay.
type Limiter interface {
	Wait(ctx context.Context) error
}

// LimiterFactory builds a fresh Limiter for one list run. Each run gets its
// own bucket, so parallel lists pace themselves independently and the full
// initial bucket lets the first URL go out without a delay.
type LimiterFactory func() Limiter

func nowUTC() time.Time {
	return time.Now().UTC()
}
