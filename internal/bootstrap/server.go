package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonesrussell/fluentbot/internal/api"
	"github.com/jonesrussell/fluentbot/internal/config"
	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/queue"
	"github.com/jonesrussell/fluentbot/internal/repository"
	"github.com/jonesrussell/fluentbot/internal/storage"
)

const shutdownTimeout = 10 * time.Second

type serverDeps struct {
	db        *sql.DB
	streams   *queue.StreamsClient
	producer  *queue.Producer
	bots      *repository.BotRepository
	sources   *repository.SourceRepository
	documents *repository.DocumentRepository
	outbox    *repository.OutboxRepository
	blobs     storage.Store
	registry  *prometheus.Registry
	logger    logger.Logger
}

// runServer serves HTTP until the context is canceled, then shuts down
// gracefully.
func runServer(ctx context.Context, cfg *config.Config, deps serverDeps) error {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewRouter(api.Deps{
		DB:        deps.db,
		Streams:   deps.streams,
		Producer:  deps.producer,
		Bots:      deps.bots,
		Sources:   deps.sources,
		Documents: deps.documents,
		Outbox:    deps.outbox,
		Blobs:     deps.blobs,
		Registry:  deps.registry,
		Logger:    deps.logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		deps.logger.Info("HTTP server listening",
			logger.String("host", cfg.Server.Host),
			logger.Int("port", cfg.Server.Port),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	deps.logger.Info("HTTP server stopped")
	return nil
}
