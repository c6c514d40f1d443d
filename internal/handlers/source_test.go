package handlers_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/fluentbot/internal/handlers"
	"github.com/jonesrussell/fluentbot/internal/models"
	"github.com/jonesrussell/fluentbot/internal/queue"
	"github.com/jonesrussell/fluentbot/internal/repository"
	"github.com/jonesrussell/fluentbot/internal/testhelpers"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestProducer(t *testing.T) (*queue.Producer, *queue.StreamsClient) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	streams := queue.NewStreamsClientFromRedis(client, "test")
	return queue.NewProducer(streams), streams
}

func sourceRow(status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "bot_id", "user_id", "type", "title", "status", "refresh_schedule",
		"indexed_chunks_count", "data", "last_refresh_at", "next_refresh_at", "created_at", "updated_at",
	}).AddRow("src-1", "bot-1", "user-1", "url", "Docs", status, "never", 0, []byte(`{}`), nil, nil, now, now)
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-User-ID", "user-1")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func newSourceRouter(t *testing.T, db *sql.DB, producer *queue.Producer) *gin.Engine {
	t.Helper()

	log := testhelpers.NewTestLogger()
	h := handlers.NewSourceHandler(
		repository.NewBotRepository(db, log),
		repository.NewSourceRepository(db, log),
		repository.NewDocumentRepository(db, log),
		repository.NewOutboxRepository(db, log),
		producer, nil, log,
	)

	router := gin.New()
	router.Use(handlers.RequireUserID())
	router.POST("/sources/:id/refresh", h.Refresh)
	return router
}

func TestRefreshConflictsWhileIndexing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	producer, streams := newTestProducer(t)

	mock.ExpectQuery("SELECT (.+) FROM sources WHERE id").WithArgs("src-1", "user-1").
		WillReturnRows(sourceRow("indexing"))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM sources").WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("indexing"))
	mock.ExpectRollback()

	w := doRequest(newSourceRouter(t, db, producer), http.MethodPost, "/sources/src-1/refresh", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already being ingested")

	// No second ingestion job may reach the queue while a run is live.
	depth, err := streams.XLen(context.Background(), streams.IngestStream())
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshRequeuesIndexedSource(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	producer, streams := newTestProducer(t)

	mock.ExpectQuery("SELECT (.+) FROM sources WHERE id").WithArgs("src-1", "user-1").
		WillReturnRows(sourceRow("indexed"))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM sources").WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("indexed"))
	mock.ExpectExec("UPDATE sources SET status").
		WithArgs("src-1", models.StatusQueued, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := doRequest(newSourceRouter(t, db, producer), http.MethodPost, "/sources/src-1/refresh", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	depth, err := streams.XLen(context.Background(), streams.IngestStream())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
	assert.NoError(t, mock.ExpectationsWereMet())
}
