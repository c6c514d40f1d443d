// Package repository persists bots, sources, documents, and outbox entries
// in PostgreSQL. The bot and source counter columns are derived aggregates:
// every transaction that mutates a child row recomputes the parent counters
// from the children before committing, so readers never observe drift.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist or is not
// visible to the requesting user.
var ErrNotFound = errors.New("not found")

// recomputeSourceChunksTx resets a source's chunk counter to the sum over
// its documents.
func recomputeSourceChunksTx(ctx context.Context, tx *sql.Tx, sourceID string, now time.Time) error {
	query := `
		UPDATE sources
		SET indexed_chunks_count = (
			SELECT COALESCE(SUM(indexed_chunks_count), 0)
			FROM documents
			WHERE source_id = $1
		), updated_at = $2
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query, sourceID, now); err != nil {
		return fmt.Errorf("recompute source chunks: %w", err)
	}
	return nil
}

// recomputeBotCountersTx resets a bot's source count and chunk total to the
// aggregates over its sources.
func recomputeBotCountersTx(ctx context.Context, tx *sql.Tx, botID string, now time.Time) error {
	query := `
		UPDATE bots
		SET sources_count = (
			SELECT COUNT(*) FROM sources WHERE bot_id = $1
		), total_indexed_chunks_count = (
			SELECT COALESCE(SUM(indexed_chunks_count), 0)
			FROM sources
			WHERE bot_id = $1
		), updated_at = $2
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query, botID, now); err != nil {
		return fmt.Errorf("recompute bot counters: %w", err)
	}
	return nil
}
