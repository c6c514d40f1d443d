package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/models"
	"github.com/jonesrussell/fluentbot/internal/queue"
)

const botColumns = `id, user_id, name, description, sources_count, total_indexed_chunks_count, created_at, updated_at`

// BotRepository persists bots. Every method is scoped to the requesting
// user; a bot owned by someone else behaves exactly like a missing bot.
type BotRepository struct {
	db     *sql.DB
	logger logger.Logger
}

// NewBotRepository creates a bot repository.
func NewBotRepository(db *sql.DB, log logger.Logger) *BotRepository {
	return &BotRepository{db: db, logger: log}
}

// Create inserts a new bot with zeroed counters.
func (r *BotRepository) Create(ctx context.Context, bot *models.Bot) error {
	bot.ID = uuid.New().String()
	bot.CreatedAt = time.Now().UTC()
	bot.UpdatedAt = bot.CreatedAt
	bot.SourcesCount = 0
	bot.TotalIndexedChunksCount = 0

	query := `
		INSERT INTO bots (id, user_id, name, description, sources_count, total_indexed_chunks_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		bot.ID, bot.UserID, bot.Name, bot.Description, bot.CreatedAt, bot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bot: %w", err)
	}
	return nil
}

// GetByID returns the bot if it exists and belongs to the user.
func (r *BotRepository) GetByID(ctx context.Context, id, userID string) (*models.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE id = $1 AND user_id = $2`

	var bot models.Bot
	err := r.db.QueryRowContext(ctx, query, id, userID).Scan(
		&bot.ID, &bot.UserID, &bot.Name, &bot.Description,
		&bot.SourcesCount, &bot.TotalIndexedChunksCount,
		&bot.CreatedAt, &bot.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query bot: %w", err)
	}
	return &bot, nil
}

// List returns the user's bots, newest first.
func (r *BotRepository) List(ctx context.Context, userID string) ([]models.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()

	bots := make([]models.Bot, 0)
	for rows.Next() {
		var bot models.Bot
		if scanErr := rows.Scan(
			&bot.ID, &bot.UserID, &bot.Name, &bot.Description,
			&bot.SourcesCount, &bot.TotalIndexedChunksCount,
			&bot.CreatedAt, &bot.UpdatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("scan bot: %w", scanErr)
		}
		bots = append(bots, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bots: %w", err)
	}
	return bots, nil
}

// Update changes the bot's name and description.
func (r *BotRepository) Update(ctx context.Context, bot *models.Bot) error {
	bot.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE bots
		SET name = $3, description = $4, updated_at = $5
		WHERE id = $1 AND user_id = $2
	`
	result, err := r.db.ExecContext(ctx, query,
		bot.ID, bot.UserID, bot.Name, bot.Description, bot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update bot: %w", err)
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

// DeleteWithCleanup removes the bot and everything under it. Before the
// rows go away, the chunked documents of every source are snapshotted into
// a delete_remote_bot outbox entry, committed atomically with the delete,
// so the remote index cleanup survives a crash right after the commit.
func (r *BotRepository) DeleteWithCleanup(ctx context.Context, outbox *OutboxRepository, id, userID string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("rollback bot delete", logger.Error(rbErr))
			}
		}
	}()

	var botID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM bots WHERE id = $1 AND user_id = $2 FOR UPDATE`, id, userID,
	).Scan(&botID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return err
	}
	if err != nil {
		return fmt.Errorf("lock bot: %w", err)
	}

	sources, err := snapshotBotSourcesTx(ctx, tx, id)
	if err != nil {
		return err
	}

	if len(sources) > 0 {
		payload := queue.DeleteBotPayload{
			UserID:  userID,
			BotID:   id,
			Sources: sources,
		}
		if err = outbox.InsertTx(ctx, tx, string(queue.TypeDeleteBot), payload); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM documents WHERE source_id IN (SELECT id FROM sources WHERE bot_id = $1)`, id,
	); err != nil {
		return fmt.Errorf("delete bot documents: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM sources WHERE bot_id = $1`, id); err != nil {
		return fmt.Errorf("delete bot sources: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM bots WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit bot delete: %w", err)
	}
	return nil
}

// snapshotBotSourcesTx collects every source of the bot together with its
// chunked documents. Sources with nothing indexed are skipped; there is
// nothing remote to clean up for them.
func snapshotBotSourcesTx(ctx context.Context, tx *sql.Tx, botID string) ([]queue.SourceDocuments, error) {
	query := `
		SELECT s.id, d.id, d.indexed_chunks_count
		FROM sources s
		JOIN documents d ON d.source_id = s.id
		WHERE s.bot_id = $1 AND d.indexed_chunks_count > 0
		ORDER BY s.id
	`
	rows, err := tx.QueryContext(ctx, query, botID)
	if err != nil {
		return nil, fmt.Errorf("snapshot bot sources: %w", err)
	}
	defer rows.Close()

	var sources []queue.SourceDocuments
	bySource := make(map[string]int)
	for rows.Next() {
		var sourceID string
		var doc queue.DocumentChunks
		if scanErr := rows.Scan(&sourceID, &doc.DocumentID, &doc.Chunks); scanErr != nil {
			return nil, fmt.Errorf("scan bot source snapshot: %w", scanErr)
		}
		idx, ok := bySource[sourceID]
		if !ok {
			idx = len(sources)
			bySource[sourceID] = idx
			sources = append(sources, queue.SourceDocuments{SourceID: sourceID})
		}
		sources[idx].Documents = append(sources[idx].Documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bot source snapshot: %w", err)
	}
	return sources, nil
}

// rawPayload is a helper for marshaling outbox payloads once at insert time.
func rawPayload(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal outbox payload: %w", err)
	}
	return raw, nil
}
