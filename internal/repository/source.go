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

const sourceColumns = `id, bot_id, user_id, type, title, status, refresh_schedule,
	indexed_chunks_count, data, last_refresh_at, next_refresh_at, created_at, updated_at`

// SourceRepository persists sources and owns their status state machine.
// All status writes go through TransitionStatus or MarkIndexed so that an
// out-of-order job can never push a source into an inconsistent state.
type SourceRepository struct {
	db     *sql.DB
	logger logger.Logger
}

// NewSourceRepository creates a source repository.
func NewSourceRepository(db *sql.DB, log logger.Logger) *SourceRepository {
	return &SourceRepository{db: db, logger: log}
}

// Create inserts a source in queued state and refreshes the bot counters in
// the same transaction.
func (r *SourceRepository) Create(ctx context.Context, source *models.Source) (err error) {
	source.ID = uuid.New().String()
	source.Status = models.StatusQueued
	source.IndexedChunksCount = 0
	source.CreatedAt = time.Now().UTC()
	source.UpdatedAt = source.CreatedAt
	if source.RefreshSchedule == "" {
		source.RefreshSchedule = models.RefreshNever
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("rollback source create", logger.Error(rbErr))
			}
		}
	}()

	query := `
		INSERT INTO sources (
			id, bot_id, user_id, type, title, status, refresh_schedule,
			indexed_chunks_count, data, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10)
	`
	_, err = tx.ExecContext(ctx, query,
		source.ID, source.BotID, source.UserID, source.Type, source.Title,
		source.Status, source.RefreshSchedule, source.Data,
		source.CreatedAt, source.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}

	if err = recomputeBotCountersTx(ctx, tx, source.BotID, source.UpdatedAt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit source create: %w", err)
	}
	return nil
}

// GetByID returns a source by id regardless of owner. Job handlers use this
// because the payload carries only the id of a row that was committed with
// its owner already checked.
func (r *SourceRepository) GetByID(ctx context.Context, id string) (*models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetForUser returns the source if it exists and belongs to the user.
func (r *SourceRepository) GetForUser(ctx context.Context, id, userID string) (*models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1 AND user_id = $2`
	return r.getOne(ctx, query, id, userID)
}

func (r *SourceRepository) getOne(ctx context.Context, query string, args ...any) (*models.Source, error) {
	var source models.Source
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&source.ID, &source.BotID, &source.UserID, &source.Type, &source.Title,
		&source.Status, &source.RefreshSchedule, &source.IndexedChunksCount,
		&source.Data, &source.LastRefreshAt, &source.NextRefreshAt,
		&source.CreatedAt, &source.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query source: %w", err)
	}
	return &source, nil
}

// ListByBot returns a bot's sources, newest first.
func (r *SourceRepository) ListByBot(ctx context.Context, botID string) ([]models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE bot_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, botID)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	sources := make([]models.Source, 0)
	for rows.Next() {
		var source models.Source
		if scanErr := rows.Scan(
			&source.ID, &source.BotID, &source.UserID, &source.Type, &source.Title,
			&source.Status, &source.RefreshSchedule, &source.IndexedChunksCount,
			&source.Data, &source.LastRefreshAt, &source.NextRefreshAt,
			&source.CreatedAt, &source.UpdatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("scan source: %w", scanErr)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return sources, nil
}

// TransitionStatus moves a source to the given status after checking the
// transition table under a row lock. Same-state transitions only touch
// updated_at, which doubles as a liveness signal for the stuck-source sweep.
func (r *SourceRepository) TransitionStatus(ctx context.Context, id string, to models.Status) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("rollback status transition", logger.Error(rbErr))
			}
		}
	}()

	var current models.Status
	err = tx.QueryRowContext(ctx, `SELECT status FROM sources WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return err
	}
	if err != nil {
		return fmt.Errorf("lock source: %w", err)
	}

	if err = current.ValidateTransition(to); err != nil {
		return fmt.Errorf("source %s: %w", id, err)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE sources SET status = $2, updated_at = $3 WHERE id = $1`,
		id, to, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("update source status: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit status transition: %w", err)
	}

	r.logger.Debug("source status transition",
		logger.String("source_id", id),
		logger.String("from", current.String()),
		logger.String("to", to.String()))
	return nil
}

// MarkIndexed completes a successful ingestion run: the source moves to
// indexed and the refresh timestamps advance, atomically.
func (r *SourceRepository) MarkIndexed(ctx context.Context, id string, lastRefresh time.Time, nextRefresh *time.Time) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("rollback mark indexed", logger.Error(rbErr))
			}
		}
	}()

	var current models.Status
	err = tx.QueryRowContext(ctx, `SELECT status FROM sources WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return err
	}
	if err != nil {
		return fmt.Errorf("lock source: %w", err)
	}

	if err = current.ValidateTransition(models.StatusIndexed); err != nil {
		return fmt.Errorf("source %s: %w", id, err)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE sources SET status = $2, last_refresh_at = $3, next_refresh_at = $4, updated_at = $5 WHERE id = $1`,
		id, models.StatusIndexed, lastRefresh, nextRefresh, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("mark source indexed: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit mark indexed: %w", err)
	}
	return nil
}

// UpdateTitle backfills the title, used when a source was created without
// one and the scraped page provides it.
func (r *SourceRepository) UpdateTitle(ctx context.Context, id, title string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sources SET title = $2, updated_at = $3 WHERE id = $1`,
		id, title, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update source title: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MergeData overlays the given keys onto the source's data payload under a
// row lock, preserving keys the patch does not mention.
func (r *SourceRepository) MergeData(ctx context.Context, id string, patch map[string]any) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("rollback data merge", logger.Error(rbErr))
			}
		}
	}()

	var data models.JSONMap
	err = tx.QueryRowContext(ctx, `SELECT data FROM sources WHERE id = $1 FOR UPDATE`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return err
	}
	if err != nil {
		return fmt.Errorf("lock source data: %w", err)
	}

	merged := data.Merge(patch)
	if _, err = tx.ExecContext(ctx,
		`UPDATE sources SET data = $2, updated_at = $3 WHERE id = $1`,
		id, merged, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("update source data: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit data merge: %w", err)
	}
	return nil
}

// ListDueForRefresh returns indexed sources whose next refresh time has
// passed.
func (r *SourceRepository) ListDueForRefresh(ctx context.Context, now time.Time) ([]models.Source, error) {
	query := `SELECT ` + sourceColumns + `
		FROM sources
		WHERE status = $1 AND refresh_schedule <> $2 AND next_refresh_at IS NOT NULL AND next_refresh_at <= $3
		ORDER BY next_refresh_at
	`
	rows, err := r.db.QueryContext(ctx, query, models.StatusIndexed, models.RefreshNever, now)
	if err != nil {
		return nil, fmt.Errorf("query due sources: %w", err)
	}
	defer rows.Close()

	sources := make([]models.Source, 0)
	for rows.Next() {
		var source models.Source
		if scanErr := rows.Scan(
			&source.ID, &source.BotID, &source.UserID, &source.Type, &source.Title,
			&source.Status, &source.RefreshSchedule, &source.IndexedChunksCount,
			&source.Data, &source.LastRefreshAt, &source.NextRefreshAt,
			&source.CreatedAt, &source.UpdatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("scan due source: %w", scanErr)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due sources: %w", err)
	}
	return sources, nil
}

// ResetStuck re-queues sources that have been in indexing with no activity
// since before the cutoff. Their worker is presumed dead; the returned ids
// should be re-enqueued by the caller.
func (r *SourceRepository) ResetStuck(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		UPDATE sources
		SET status = $1, updated_at = $2
		WHERE status = $3 AND updated_at < $4
		RETURNING id
	`
	rows, err := r.db.QueryContext(ctx, query,
		models.StatusQueued, time.Now().UTC(), models.StatusIndexing, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("reset stuck sources: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, fmt.Errorf("scan stuck source id: %w", scanErr)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stuck source ids: %w", err)
	}
	return ids, nil
}

// DeleteWithCleanup removes the source and its documents. When the source
// has indexed chunks, a delete_remote_source outbox entry is written in the
// same transaction. Bot counters are refreshed before commit.
func (r *SourceRepository) DeleteWithCleanup(ctx context.Context, outbox *OutboxRepository, id, userID string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("rollback source delete", logger.Error(rbErr))
			}
		}
	}()

	var botID string
	err = tx.QueryRowContext(ctx,
		`SELECT bot_id FROM sources WHERE id = $1 AND user_id = $2 FOR UPDATE`, id, userID,
	).Scan(&botID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return err
	}
	if err != nil {
		return fmt.Errorf("lock source: %w", err)
	}

	docs, err := snapshotSourceDocumentsTx(ctx, tx, id)
	if err != nil {
		return err
	}

	if len(docs) > 0 {
		payload := queue.DeleteSourcePayload{
			UserID:    userID,
			BotID:     botID,
			SourceID:  id,
			Documents: docs,
		}
		if err = outbox.InsertTx(ctx, tx, string(queue.TypeDeleteSource), payload); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE source_id = $1`, id); err != nil {
		return fmt.Errorf("delete source documents: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM sources WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}

	if err = recomputeBotCountersTx(ctx, tx, botID, time.Now().UTC()); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit source delete: %w", err)
	}
	return nil
}

// snapshotSourceDocumentsTx collects the source's chunked documents for a
// remote cleanup payload.
func snapshotSourceDocumentsTx(ctx context.Context, tx *sql.Tx, sourceID string) ([]queue.DocumentChunks, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, indexed_chunks_count FROM documents WHERE source_id = $1 AND indexed_chunks_count > 0`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot source documents: %w", err)
	}
	defer rows.Close()

	var docs []queue.DocumentChunks
	for rows.Next() {
		var doc queue.DocumentChunks
		if scanErr := rows.Scan(&doc.DocumentID, &doc.Chunks); scanErr != nil {
			return nil, fmt.Errorf("scan document snapshot: %w", scanErr)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document snapshot: %w", err)
	}
	return docs, nil
}
