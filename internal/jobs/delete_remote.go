package jobs

import (
	"context"
	"fmt"

	"github.com/jonesrussell/fluentbot/internal/indexer"
	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/queue"
	"github.com/jonesrussell/fluentbot/internal/retry"
)

// DeleteRemoteHandler processes remote index cleanup jobs. The local rows
// are already gone when these run; the payload carries everything the index
// service needs. Calls are retried with backoff because losing a cleanup
// leaves orphaned chunks nobody can delete later.
type DeleteRemoteHandler struct {
	indexer  Indexer
	enqueuer Enqueuer
	retryCfg retry.Config
	logger   logger.Logger
}

// NewDeleteRemoteHandler wires a remote cleanup handler.
func NewDeleteRemoteHandler(idx Indexer, enqueuer Enqueuer, retryCfg retry.Config, log logger.Logger) *DeleteRemoteHandler {
	return &DeleteRemoteHandler{
		indexer:  idx,
		enqueuer: enqueuer,
		retryCfg: retryCfg,
		logger:   log,
	}
}

// HandleDocument processes a delete_remote_document job.
func (h *DeleteRemoteHandler) HandleDocument(ctx context.Context, job queue.Job) error {
	var payload queue.DeleteDocumentPayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}

	err := retry.Do(ctx, h.retryCfg, func(ctx context.Context) error {
		return h.indexer.DeleteDocument(ctx, indexer.DeleteDocumentRequest{
			UserID:     payload.UserID,
			BotID:      payload.BotID,
			SourceID:   payload.SourceID,
			DocumentID: payload.DocumentID,
			Chunks:     payload.Chunks,
		})
	})
	if err != nil {
		return err
	}

	h.logger.Info("remote document deleted",
		logger.String("document_id", payload.DocumentID),
		logger.Int("chunks", payload.Chunks))
	return nil
}

// HandleSource processes a delete_remote_source job.
func (h *DeleteRemoteHandler) HandleSource(ctx context.Context, job queue.Job) error {
	var payload queue.DeleteSourcePayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}

	refs := make([]indexer.DocumentRef, 0, len(payload.Documents))
	for _, doc := range payload.Documents {
		refs = append(refs, indexer.DocumentRef{DocumentID: doc.DocumentID, Chunks: doc.Chunks})
	}

	err := retry.Do(ctx, h.retryCfg, func(ctx context.Context) error {
		return h.indexer.DeleteSource(ctx, indexer.DeleteSourceRequest{
			UserID:    payload.UserID,
			BotID:     payload.BotID,
			SourceID:  payload.SourceID,
			Documents: refs,
		})
	})
	if err != nil {
		return err
	}

	h.logger.Info("remote source deleted",
		logger.String("source_id", payload.SourceID),
		logger.Int("documents", len(refs)))
	return nil
}

// HandleBot processes a delete_remote_bot job by fanning out one
// delete_remote_source job per snapshotted source. Per-source jobs retry
// independently, so one slow source cannot fail the whole bot's cleanup.
func (h *DeleteRemoteHandler) HandleBot(ctx context.Context, job queue.Job) error {
	var payload queue.DeleteBotPayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}

	for _, source := range payload.Sources {
		child, err := queue.NewJob(queue.TypeDeleteSource, queue.DeleteSourcePayload{
			UserID:    payload.UserID,
			BotID:     payload.BotID,
			SourceID:  source.SourceID,
			Documents: source.Documents,
		})
		if err != nil {
			return err
		}
		if _, err := h.enqueuer.Enqueue(ctx, child); err != nil {
			return fmt.Errorf("fan out source %s cleanup: %w", source.SourceID, err)
		}
	}

	h.logger.Info("bot cleanup fanned out",
		logger.String("bot_id", payload.BotID),
		logger.Int("sources", len(payload.Sources)))
	return nil
}
