package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/fluentbot/internal/models"
	"github.com/jonesrussell/fluentbot/internal/repository"
	"github.com/jonesrussell/fluentbot/internal/testhelpers"
)

func newSourceRepo(t *testing.T) (*repository.SourceRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return repository.NewSourceRepository(db, testhelpers.NewTestLogger()), mock
}

func TestTransitionStatusAllowed(t *testing.T) {
	repo, mock := newSourceRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM sources").
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("queued"))
	mock.ExpectExec("UPDATE sources SET status").
		WithArgs("src-1", models.StatusIndexing, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.TransitionStatus(context.Background(), "src-1", models.StatusIndexing)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusRejected(t *testing.T) {
	repo, mock := newSourceRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM sources").
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("queued"))
	mock.ExpectRollback()

	err := repo.TransitionStatus(context.Background(), "src-1", models.StatusIndexed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusSameStateTouchesRow(t *testing.T) {
	repo, mock := newSourceRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM sources").
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("indexing"))
	mock.ExpectExec("UPDATE sources SET status").
		WithArgs("src-1", models.StatusIndexing, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.TransitionStatus(context.Background(), "src-1", models.StatusIndexing)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusNotFound(t *testing.T) {
	repo, mock := newSourceRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM sources").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.TransitionStatus(context.Background(), "missing", models.StatusIndexing)
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestMarkIndexedSetsRefreshTimestamps(t *testing.T) {
	repo, mock := newSourceRepo(t)

	last := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	next := last.AddDate(0, 0, 1)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM sources").
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("indexing"))
	mock.ExpectExec("UPDATE sources SET status").
		WithArgs("src-1", models.StatusIndexed, last, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MarkIndexed(context.Background(), "src-1", last, &next)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkIndexedRejectedFromQueued(t *testing.T) {
	repo, mock := newSourceRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM sources").
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("queued"))
	mock.ExpectRollback()

	err := repo.MarkIndexed(context.Background(), "src-1", time.Now(), nil)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}

func TestResetStuckReturnsIDs(t *testing.T) {
	repo, mock := newSourceRepo(t)

	mock.ExpectQuery("UPDATE sources").
		WithArgs(models.StatusQueued, sqlmock.AnyArg(), models.StatusIndexing, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("src-1").AddRow("src-2"))

	ids, err := repo.ResetStuck(context.Background(), time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"src-1", "src-2"}, ids)
}
