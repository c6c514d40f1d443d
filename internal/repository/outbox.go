package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/models"
)

const (
	defaultMaxRetries = 5

	outboxColumns = `id, kind, payload, status, retry_count, max_retries, error_message,
	created_at, updated_at, published_at, next_retry_at`
)

// OutboxRepository persists remote-cleanup intents. Entries are written
// inside the deleting transaction and drained by the dispatcher, which
// claims batches with FOR UPDATE SKIP LOCKED so multiple instances never
// publish the same entry twice.
type OutboxRepository struct {
	db     *sql.DB
	logger logger.Logger
}

// NewOutboxRepository creates an outbox repository.
func NewOutboxRepository(db *sql.DB, log logger.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: log}
}

// InsertTx writes a pending entry inside the caller's transaction.
func (r *OutboxRepository) InsertTx(ctx context.Context, tx *sql.Tx, kind string, payload any) error {
	raw, err := rawPayload(payload)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO outbox_entries (id, kind, payload, status, retry_count, max_retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7)
	`
	if _, err := tx.ExecContext(ctx, query,
		uuid.New().String(), kind, []byte(raw), models.OutboxStatusPending, defaultMaxRetries, now, now,
	); err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// FetchPending claims up to limit pending entries, marking them publishing.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]models.OutboxEntry, error) {
	query := `
		UPDATE outbox_entries
		SET status = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM outbox_entries
			WHERE status = $3
			ORDER BY created_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns
	return r.claim(ctx, query,
		models.OutboxStatusPublishing, time.Now().UTC(), models.OutboxStatusPending, limit)
}

// FetchRetryable claims failed entries whose backoff has elapsed and that
// still have retries left.
func (r *OutboxRepository) FetchRetryable(ctx context.Context, limit int, now time.Time) ([]models.OutboxEntry, error) {
	query := `
		UPDATE outbox_entries
		SET status = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM outbox_entries
			WHERE status = $3
			  AND retry_count < max_retries
			  AND (next_retry_at IS NULL OR next_retry_at <= $4)
			ORDER BY created_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns
	return r.claim(ctx, query,
		models.OutboxStatusPublishing, now, models.OutboxStatusFailed, now, limit)
}

func (r *OutboxRepository) claim(ctx context.Context, query string, args ...any) ([]models.OutboxEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claim outbox entries: %w", err)
	}
	defer rows.Close()

	entries := make([]models.OutboxEntry, 0)
	for rows.Next() {
		var entry models.OutboxEntry
		var payload []byte
		if scanErr := rows.Scan(
			&entry.ID, &entry.Kind, &payload, &entry.Status,
			&entry.RetryCount, &entry.MaxRetries, &entry.ErrorMessage,
			&entry.CreatedAt, &entry.UpdatedAt, &entry.PublishedAt, &entry.NextRetryAt,
		); scanErr != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", scanErr)
		}
		entry.Payload = payload
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

// MarkPublished records a successful handoff to the job queue.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE outbox_entries SET status = $2, published_at = $3, updated_at = $3 WHERE id = $1`,
		id, models.OutboxStatusPublished, now,
	)
	if err != nil {
		return fmt.Errorf("mark outbox entry published: %w", err)
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

// MarkFailed records a failed publish attempt. The entry becomes eligible
// again at nextRetry, or terminal once retries are exhausted.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id, errMsg string, nextRetry time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE outbox_entries
		SET status = $2, retry_count = retry_count + 1, error_message = $3, next_retry_at = $4, updated_at = $5
		WHERE id = $1
	`, id, models.OutboxStatusFailed, errMsg, nextRetry, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox entry failed: %w", err)
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

// ResetStale returns entries stuck in publishing since before the cutoff to
// pending. A dispatcher that died mid-publish leaves entries in this state.
func (r *OutboxRepository) ResetStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE outbox_entries SET status = $1, updated_at = $2 WHERE status = $3 AND updated_at < $4`,
		models.OutboxStatusPending, time.Now().UTC(), models.OutboxStatusPublishing, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stale outbox entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return affected, nil
}

// CleanupPublished deletes published entries older than the cutoff.
func (r *OutboxRepository) CleanupPublished(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM outbox_entries WHERE status = $1 AND published_at < $2`,
		models.OutboxStatusPublished, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup published outbox entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return affected, nil
}

// Stats returns entry counts keyed by status.
func (r *OutboxRepository) Stats(ctx context.Context) (map[models.OutboxStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox_entries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query outbox stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[models.OutboxStatus]int64)
	for rows.Next() {
		var status models.OutboxStatus
		var count int64
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, fmt.Errorf("scan outbox stats: %w", scanErr)
		}
		stats[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox stats: %w", err)
	}
	return stats, nil
}
