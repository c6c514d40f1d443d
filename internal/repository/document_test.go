package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/fluentbot/internal/models"
	"github.com/jonesrussell/fluentbot/internal/repository"
	"github.com/jonesrussell/fluentbot/internal/testhelpers"
)

func newDocumentRepo(t *testing.T) (*repository.DocumentRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return repository.NewDocumentRepository(db, testhelpers.NewTestLogger()), mock
}

func TestDocumentCreateStartsWithZeroChunks(t *testing.T) {
	repo, mock := newDocumentRepo(t)

	mock.ExpectExec("INSERT INTO documents").
		WithArgs(
			sqlmock.AnyArg(), "src-1", "Title", "body text", "https://example.com/page",
			sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	doc := &models.Document{
		SourceID:           "src-1",
		Title:              "Title",
		Content:            "body text",
		SourceURL:          "https://example.com/page",
		IndexedChunksCount: 99,
	}
	require.NoError(t, repo.Create(context.Background(), doc))

	assert.NotEmpty(t, doc.ID)
	assert.Zero(t, doc.IndexedChunksCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Chunk updates must cascade: document write, then source recompute, then
// bot recompute, all in one transaction.
func TestUpdateChunksRecomputesAncestors(t *testing.T) {
	repo, mock := newDocumentRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE documents d").
		WithArgs("doc-1", 7, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"source_id", "bot_id"}).AddRow("src-1", "bot-1"))
	mock.ExpectExec("UPDATE sources").
		WithArgs("src-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE bots").
		WithArgs("bot-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateChunks(context.Background(), "doc-1", 7))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateChunksNotFound(t *testing.T) {
	repo, mock := newDocumentRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE documents d").
		WithArgs("missing", 7, sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.UpdateChunks(context.Background(), "missing", 7)
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestDeleteWithCleanupWritesOutboxForChunkedDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := testhelpers.NewTestLogger()
	docs := repository.NewDocumentRepository(db, log)
	outbox := repository.NewOutboxRepository(db, log)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT d.source_id, s.bot_id").
		WithArgs("doc-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"source_id", "bot_id", "indexed_chunks_count"}).
			AddRow("src-1", "bot-1", 5))
	mock.ExpectExec("INSERT INTO outbox_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM documents").
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sources").
		WithArgs("src-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE bots").
		WithArgs("bot-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The last document is gone; the source goes back to queued.
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"count", "pending"}).AddRow(0, 0))
	mock.ExpectExec("UPDATE sources SET status").
		WithArgs("src-1", models.StatusQueued, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, docs.DeleteWithCleanup(context.Background(), outbox, "doc-1", "user-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

// A document with no indexed chunks has nothing remote to clean up, so no
// outbox entry is written.
func TestDeleteWithCleanupSkipsOutboxForPendingDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := testhelpers.NewTestLogger()
	docs := repository.NewDocumentRepository(db, log)
	outbox := repository.NewOutboxRepository(db, log)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT d.source_id, s.bot_id").
		WithArgs("doc-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"source_id", "bot_id", "indexed_chunks_count"}).
			AddRow("src-1", "bot-1", 0))
	mock.ExpectExec("DELETE FROM documents").
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sources").
		WithArgs("src-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE bots").
		WithArgs("bot-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// An indexed sibling remains and nothing is pending: the source settles
	// on indexed.
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"count", "pending"}).AddRow(1, 0))
	mock.ExpectExec("UPDATE sources SET status").
		WithArgs("src-1", models.StatusIndexed, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, docs.DeleteWithCleanup(context.Background(), outbox, "doc-1", "user-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountPending(t *testing.T) {
	repo, mock := newDocumentRepo(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountPending(context.Background(), "src-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
