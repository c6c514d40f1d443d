package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonesrussell/fluentbot/internal/indexer"
	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/models"
	"github.com/jonesrussell/fluentbot/internal/queue"
)

// ErrUnsupportedSourceType is returned for source types without a handler.
var ErrUnsupportedSourceType = errors.New("unsupported source type")

// ProcessSourceHandler runs a full ingestion pass over one source. The
// source moves queued -> indexing at the start and ends in indexed or
// failed; a re-delivered job finds the source already in indexing and the
// same-state transition keeps it runnable.
type ProcessSourceHandler struct {
	sources   SourceStore
	documents DocumentStore
	fetcher   Fetcher
	indexer   Indexer
	blobs     BlobReader
	validator Validator
	limiters  LimiterFactory
	logger    logger.Logger
}

// NewProcessSourceHandler wires a source ingestion handler.
func NewProcessSourceHandler(
	sources SourceStore,
	documents DocumentStore,
	fetcher Fetcher,
	idx Indexer,
	blobs BlobReader,
	validator Validator,
	limiters LimiterFactory,
	log logger.Logger,
) *ProcessSourceHandler {
	return &ProcessSourceHandler{
		sources:   sources,
		documents: documents,
		fetcher:   fetcher,
		indexer:   idx,
		blobs:     blobs,
		validator: validator,
		limiters:  limiters,
		logger:    log,
	}
}

// Handle processes a process_source job.
func (h *ProcessSourceHandler) Handle(ctx context.Context, job queue.Job) error {
	var payload queue.ProcessSourcePayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}

	source, err := h.sources.GetByID(ctx, payload.SourceID)
	if err != nil {
		return fmt.Errorf("load source %s: %w", payload.SourceID, err)
	}

	if err := h.sources.TransitionStatus(ctx, source.ID, models.StatusIndexing); err != nil {
		return err
	}

	var runErr error
	switch source.Type {
	case models.SourceTypeURL:
		runErr = h.processURL(ctx, source, payload.URL)
	case models.SourceTypeURLList:
		runErr = h.processURLList(ctx, source)
	default:
		runErr = fmt.Errorf("%w: %s", ErrUnsupportedSourceType, source.Type)
	}

	if runErr != nil {
		h.logger.Error("source ingestion failed",
			logger.String("source_id", source.ID),
			logger.String("type", string(source.Type)),
			logger.Error(runErr))
		if transitionErr := h.sources.TransitionStatus(ctx, source.ID, models.StatusFailed); transitionErr != nil {
			h.logger.Error("mark source failed",
				logger.String("source_id", source.ID),
				logger.Error(transitionErr))
		}
		return runErr
	}

	now := time.Now().UTC()
	if err := h.sources.MarkIndexed(ctx, source.ID, now, source.RefreshSchedule.Next(now)); err != nil {
		return fmt.Errorf("mark source %s indexed: %w", source.ID, err)
	}

	h.logger.Info("source ingested",
		logger.String("source_id", source.ID),
		logger.String("type", string(source.Type)))
	return nil
}

// processURL ingests a single-URL source: validate, scrape, store the
// document, index it, record the chunk count.
func (h *ProcessSourceHandler) processURL(ctx context.Context, source *models.Source, jobURL string) error {
	pageURL := strings.TrimSpace(jobURL)
	if pageURL == "" {
		// Older sources created before the url field was required store
		// the URL in the title.
		pageURL = strings.TrimSpace(source.Title)
	}
	if pageURL == "" {
		return fmt.Errorf("source %s has no url", source.ID)
	}

	if !h.validator.IsValid(ctx, pageURL) {
		return fmt.Errorf("url %s failed validation", pageURL)
	}

	_, err := h.ingestURL(ctx, source, pageURL, true)
	return err
}

// processURLList ingests every URL in the source's uploaded list. Single
// URLs failing is expected and tolerated; the run fails only when the list
// yields no valid URL or every valid URL fails.
func (h *ProcessSourceHandler) processURLList(ctx context.Context, source *models.Source) error {
	filePath := source.FilePath()
	if filePath == "" {
		return fmt.Errorf("source %s has no uploaded url list", source.ID)
	}

	blob, err := h.blobs.Read(ctx, filePath)
	if err != nil {
		return fmt.Errorf("read url list for source %s: %w", source.ID, err)
	}

	urls := splitURLList(string(blob))
	if len(urls) == 0 {
		return fmt.Errorf("url list for source %s is empty", source.ID)
	}

	valid := make([]string, 0, len(urls))
	invalid := make([]string, 0)
	for _, u := range urls {
		if h.validator.IsValid(ctx, u) {
			valid = append(valid, u)
		} else {
			invalid = append(invalid, u)
		}
	}

	if len(valid) == 0 {
		h.mergeListSummary(ctx, source.ID, len(urls), valid, invalid, 0, nil)
		return fmt.Errorf("url list for source %s has no valid urls", source.ID)
	}

	// A fresh limiter starts with a full bucket, so the first URL is not
	// delayed and concurrent list runs do not throttle each other.
	limiter := h.limiters()

	processed := 0
	failed := make([]string, 0)
	for _, u := range valid {
		if err := limiter.Wait(ctx); err != nil {
			h.mergeListSummary(ctx, source.ID, len(urls), valid, invalid, processed, failed)
			return fmt.Errorf("throttle wait: %w", err)
		}

		if _, err := h.ingestURL(ctx, source, u, false); err != nil {
			h.logger.Warn("url list entry failed",
				logger.String("source_id", source.ID),
				logger.String("url", u),
				logger.Error(err))
			failed = append(failed, u)
			continue
		}
		processed++
	}

	h.mergeListSummary(ctx, source.ID, len(urls), valid, invalid, processed, failed)

	if processed == 0 {
		return fmt.Errorf("url list for source %s: all %d valid urls failed", source.ID, len(valid))
	}

	h.logger.Info("url list ingested",
		logger.String("source_id", source.ID),
		logger.Int("processed", processed),
		logger.Int("failed", len(failed)),
		logger.Int("invalid", len(invalid)))
	return nil
}

// ingestURL scrapes one URL, stores it as a document, and indexes it. When
// backfillTitle is set and the source has no title, the scraped page title
// is written back to the source.
func (h *ProcessSourceHandler) ingestURL(ctx context.Context, source *models.Source, pageURL string, backfillTitle bool) (*models.Document, error) {
	page, err := h.fetcher.Scrape(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	title := page.Title
	if title == "" {
		title = pageURL
	}

	doc := &models.Document{
		SourceID:  source.ID,
		Title:     title,
		Content:   page.Content,
		SourceURL: page.URL,
	}
	if err := h.documents.Create(ctx, doc); err != nil {
		return nil, err
	}

	if backfillTitle && strings.TrimSpace(source.Title) == "" && page.Title != "" {
		if err := h.sources.UpdateTitle(ctx, source.ID, page.Title); err != nil {
			h.logger.Warn("backfill source title",
				logger.String("source_id", source.ID),
				logger.Error(err))
		}
	}

	result, err := h.indexer.Index(ctx, indexer.IndexRequest{
		UserID:     source.UserID,
		BotID:      source.BotID,
		SourceID:   source.ID,
		DocumentID: doc.ID,
		Title:      doc.Title,
		Content:    doc.Content,
		URL:        doc.SourceURL,
	})
	if err != nil {
		return nil, err
	}

	if err := h.documents.UpdateChunks(ctx, doc.ID, result.Chunks); err != nil {
		return nil, err
	}
	doc.IndexedChunksCount = result.Chunks
	return doc, nil
}

func (h *ProcessSourceHandler) mergeListSummary(
	ctx context.Context, sourceID string, total int, valid, invalid []string, processed int, failed []string,
) {
	patch := map[string]any{
		models.DataKeyTotalURLs:       total,
		models.DataKeyValidURLs:       len(valid),
		models.DataKeyInvalidURLs:     len(invalid),
		models.DataKeyInvalidURLsList: invalid,
		models.DataKeyProcessedURLs:   processed,
		models.DataKeyFailedURLs:      len(failed),
		models.DataKeyFailedURLsList:  failed,
	}
	if err := h.sources.MergeData(ctx, sourceID, patch); err != nil {
		h.logger.Error("write url list summary",
			logger.String("source_id", sourceID),
			logger.Error(err))
	}
}

// splitURLList splits the uploaded file into trimmed, non-empty lines.
func splitURLList(contents string) []string {
	lines := strings.Split(contents, "\n")
	urls := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	return urls
}
