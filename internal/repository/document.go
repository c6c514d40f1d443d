package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/models"
	"github.com/jonesrussell/fluentbot/internal/queue"
)

const documentColumns = `id, source_id, title, content, source_url, indexed_chunks_count, created_at, updated_at`

// DocumentRepository persists documents. Any write that changes a chunk
// count recomputes the parent source and bot counters in the same
// transaction.
type DocumentRepository struct {
	db     *sql.DB
	logger logger.Logger
}

// NewDocumentRepository creates a document repository.
func NewDocumentRepository(db *sql.DB, log logger.Logger) *DocumentRepository {
	return &DocumentRepository{db: db, logger: log}
}

// Create inserts a document with a zero chunk count. The count stays zero
// until the remote indexer reports back.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	doc.ID = uuid.New().String()
	doc.IndexedChunksCount = 0
	doc.CreatedAt = time.Now().UTC()
	doc.UpdatedAt = doc.CreatedAt

	query := `
		INSERT INTO documents (id, source_id, title, content, source_url, indexed_chunks_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.SourceID, doc.Title, doc.Content, doc.SourceURL, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetByID returns a document by id.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	var doc models.Document
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.SourceID, &doc.Title, &doc.Content, &doc.SourceURL,
		&doc.IndexedChunksCount, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	return &doc, nil
}

// ListBySource returns a source's documents, oldest first.
func (r *DocumentRepository) ListBySource(ctx context.Context, sourceID string) ([]models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE source_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]models.Document, 0)
	for rows.Next() {
		var doc models.Document
		if scanErr := rows.Scan(
			&doc.ID, &doc.SourceID, &doc.Title, &doc.Content, &doc.SourceURL,
			&doc.IndexedChunksCount, &doc.CreatedAt, &doc.UpdatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("scan document: %w", scanErr)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// UpdateChunks records the chunk count the indexer reported and cascades
// the change up through the source and bot counters.
func (r *DocumentRepository) UpdateChunks(ctx context.Context, id string, chunks int) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("rollback chunk update", logger.Error(rbErr))
			}
		}
	}()

	now := time.Now().UTC()

	var sourceID, botID string
	err = tx.QueryRowContext(ctx, `
		UPDATE documents d
		SET indexed_chunks_count = $2, updated_at = $3
		FROM sources s
		WHERE d.id = $1 AND s.id = d.source_id
		RETURNING d.source_id, s.bot_id
	`, id, chunks, now).Scan(&sourceID, &botID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return err
	}
	if err != nil {
		return fmt.Errorf("update document chunks: %w", err)
	}

	if err = recomputeSourceChunksTx(ctx, tx, sourceID, now); err != nil {
		return err
	}
	if err = recomputeBotCountersTx(ctx, tx, botID, now); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk update: %w", err)
	}
	return nil
}

// CountPending returns how many of the source's documents still await an
// indexer response.
func (r *DocumentRepository) CountPending(ctx context.Context, sourceID string) (int, error) {
	return r.countWhere(ctx, sourceID, `indexed_chunks_count = 0`)
}

// CountIndexed returns how many of the source's documents have chunks in
// the remote index.
func (r *DocumentRepository) CountIndexed(ctx context.Context, sourceID string) (int, error) {
	return r.countWhere(ctx, sourceID, `indexed_chunks_count > 0`)
}

func (r *DocumentRepository) countWhere(ctx context.Context, sourceID, cond string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM documents WHERE source_id = $1 AND ` + cond
	if err := r.db.QueryRowContext(ctx, query, sourceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// DeleteWithCleanup removes one document. If the document has indexed
// chunks, a delete_remote_document outbox entry is written in the same
// transaction. Source and bot counters are refreshed before commit.
func (r *DocumentRepository) DeleteWithCleanup(ctx context.Context, outbox *OutboxRepository, id, userID string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("rollback document delete", logger.Error(rbErr))
			}
		}
	}()

	var sourceID, botID string
	var chunks int
	err = tx.QueryRowContext(ctx, `
		SELECT d.source_id, s.bot_id, d.indexed_chunks_count
		FROM documents d
		JOIN sources s ON s.id = d.source_id
		WHERE d.id = $1 AND s.user_id = $2
		FOR UPDATE OF d
	`, id, userID).Scan(&sourceID, &botID, &chunks)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return err
	}
	if err != nil {
		return fmt.Errorf("lock document: %w", err)
	}

	if chunks > 0 {
		payload := queue.DeleteDocumentPayload{
			UserID:     userID,
			BotID:      botID,
			SourceID:   sourceID,
			DocumentID: id,
			Chunks:     chunks,
		}
		if err = outbox.InsertTx(ctx, tx, string(queue.TypeDeleteDocument), payload); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	now := time.Now().UTC()
	if err = recomputeSourceChunksTx(ctx, tx, sourceID, now); err != nil {
		return err
	}
	if err = recomputeBotCountersTx(ctx, tx, botID, now); err != nil {
		return err
	}
	if err = settleSourceStatusTx(ctx, tx, sourceID, now); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit document delete: %w", err)
	}
	return nil
}

// settleSourceStatusTx re-evaluates a source's status from its remaining
// documents after a delete: no documents means queued, pending documents
// mean indexing, otherwise indexed.
func settleSourceStatusTx(ctx context.Context, tx *sql.Tx, sourceID string, now time.Time) error {
	var total, pending int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE indexed_chunks_count = 0)
		FROM documents WHERE source_id = $1
	`, sourceID).Scan(&total, &pending)
	if err != nil {
		return fmt.Errorf("count remaining documents: %w", err)
	}

	status := models.StatusIndexed
	switch {
	case total == 0:
		status = models.StatusQueued
	case pending > 0:
		status = models.StatusIndexing
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sources SET status = $2, updated_at = $3 WHERE id = $1`,
		sourceID, status, now,
	); err != nil {
		return fmt.Errorf("settle source status: %w", err)
	}
	return nil
}
