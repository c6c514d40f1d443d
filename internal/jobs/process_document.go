package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonesrussell/fluentbot/internal/indexer"
	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/models"
	"github.com/jonesrussell/fluentbot/internal/queue"
)

// ProcessDocumentHandler adds one URL to an existing source. Unlike a full
// source run, the source's status is shared with sibling document jobs, so
// status flips are sibling-aware: success marks the source indexed only
// when no documents remain pending, and failure marks it failed only when
// nothing has been indexed at all.
type ProcessDocumentHandler struct {
	sources   SourceStore
	documents DocumentStore
	fetcher   Fetcher
	indexer   Indexer
	validator Validator
	logger    logger.Logger
}

// NewProcessDocumentHandler wires a document ingestion handler.
func NewProcessDocumentHandler(
	sources SourceStore,
	documents DocumentStore,
	fetcher Fetcher,
	idx Indexer,
	validator Validator,
	log logger.Logger,
) *ProcessDocumentHandler {
	return &ProcessDocumentHandler{
		sources:   sources,
		documents: documents,
		fetcher:   fetcher,
		indexer:   idx,
		validator: validator,
		logger:    log,
	}
}

// Handle processes a process_document job.
func (h *ProcessDocumentHandler) Handle(ctx context.Context, job queue.Job) error {
	var payload queue.ProcessDocumentPayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}

	source, err := h.sources.GetByID(ctx, payload.SourceID)
	if err != nil {
		return fmt.Errorf("load source %s: %w", payload.SourceID, err)
	}

	if source.Status != models.StatusIndexing {
		if err := h.sources.TransitionStatus(ctx, source.ID, models.StatusIndexing); err != nil {
			return err
		}
	}

	if runErr := h.ingest(ctx, source, payload.URL); runErr != nil {
		h.logger.Error("document ingestion failed",
			logger.String("source_id", source.ID),
			logger.String("url", payload.URL),
			logger.Error(runErr))
		h.settleFailure(ctx, source.ID)
		return runErr
	}

	h.settleSuccess(ctx, source)
	return nil
}

func (h *ProcessDocumentHandler) ingest(ctx context.Context, source *models.Source, pageURL string) error {
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return fmt.Errorf("document job for source %s has no url", source.ID)
	}
	if !h.validator.IsValid(ctx, pageURL) {
		return fmt.Errorf("url %s failed validation", pageURL)
	}

	page, err := h.fetcher.Scrape(ctx, pageURL)
	if err != nil {
		return err
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
		return err
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
		return err
	}

	return h.documents.UpdateChunks(ctx, doc.ID, result.Chunks)
}

// settleSuccess marks the source indexed once the last pending sibling is
// done. While siblings are still in flight the source stays in indexing.
func (h *ProcessDocumentHandler) settleSuccess(ctx context.Context, source *models.Source) {
	pending, err := h.documents.CountPending(ctx, source.ID)
	if err != nil {
		h.logger.Error("count pending documents",
			logger.String("source_id", source.ID),
			logger.Error(err))
		return
	}
	if pending > 0 {
		return
	}
	if err := h.sources.MarkIndexed(ctx, source.ID, nowUTC(), source.RefreshSchedule.Next(nowUTC())); err != nil {
		h.logger.Error("mark source indexed",
			logger.String("source_id", source.ID),
			logger.Error(err))
	}
}

// settleFailure marks the source failed only when it has no indexed
// documents at all. A source with any successfully indexed content stays
// usable even when one add fails.
func (h *ProcessDocumentHandler) settleFailure(ctx context.Context, sourceID string) {
	indexed, err := h.documents.CountIndexed(ctx, sourceID)
	if err != nil {
		h.logger.Error("count indexed documents",
			logger.String("source_id", sourceID),
			logger.Error(err))
		return
	}
	if indexed > 0 {
		return
	}
	if err := h.sources.TransitionStatus(ctx, sourceID, models.StatusFailed); err != nil {
		h.logger.Error("mark source failed",
			logger.String("source_id", sourceID),
			logger.Error(err))
	}
}
