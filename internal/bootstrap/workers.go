package bootstrap

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jonesrussell/fluentbot/internal/config"
	"github.com/jonesrussell/fluentbot/internal/indexer"
	"github.com/jonesrussell/fluentbot/internal/jobs"
	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/metrics"
	"github.com/jonesrussell/fluentbot/internal/queue"
	"github.com/jonesrussell/fluentbot/internal/repository"
	"github.com/jonesrussell/fluentbot/internal/retry"
	"github.com/jonesrussell/fluentbot/internal/scraper"
	"github.com/jonesrussell/fluentbot/internal/storage"
	"github.com/jonesrussell/fluentbot/internal/urlcheck"
	"github.com/jonesrussell/fluentbot/internal/worker"
)

// buildWorkers wires the job handlers into a runner.
func buildWorkers(
	cfg *config.Config,
	sources *repository.SourceRepository,
	documents *repository.DocumentRepository,
	producer *queue.Producer,
	streams *queue.StreamsClient,
	blobs storage.Store,
	m *metrics.Metrics,
	log logger.Logger,
) (*worker.Runner, error) {
	consumer, err := queue.NewConsumer(streams, queue.ConsumerConfig{
		ConsumerID: fmt.Sprintf("%s-%s", hostname(), uuid.New().String()[:8]),
		// Stale deliveries may be reclaimed only after the longest-running
		// job type could possibly have finished.
		ClaimMinIdle: cfg.Ingest.ListJobTimeout + cfg.Ingest.JobTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	validator := urlcheck.New(cfg.Ingest.ProbeTimeout, cfg.Ingest.UserAgent, log)
	fetcher := scraper.NewClient(cfg.Scraper.BaseURL, cfg.Scraper.Timeout)
	idx := indexer.NewClient(cfg.Indexer.BaseURL, cfg.Indexer.Timeout)
	limiters := func() jobs.Limiter {
		return rate.NewLimiter(rate.Every(cfg.Ingest.URLDelay), 1)
	}

	sourceHandler := jobs.NewProcessSourceHandler(
		sources, documents, fetcher, idx, blobs, validator, limiters, log,
	)
	documentHandler := jobs.NewProcessDocumentHandler(
		sources, documents, fetcher, idx, validator, log,
	)
	deleteHandler := jobs.NewDeleteRemoteHandler(idx, producer, retry.DefaultConfig(), log)

	runner := worker.NewRunner(consumer, producer, worker.Config{
		PoolSize:       cfg.Ingest.PoolSize,
		MaxAttempts:    cfg.Ingest.MaxAttempts,
		ListJobTimeout: cfg.Ingest.ListJobTimeout,
		JobTimeout:     cfg.Ingest.JobTimeout,
	}, m, log)

	runner.Register(queue.TypeProcessSource, sourceHandler.Handle)
	runner.Register(queue.TypeProcessDocument, documentHandler.Handle)
	runner.Register(queue.TypeDeleteDocument, deleteHandler.HandleDocument)
	runner.Register(queue.TypeDeleteSource, deleteHandler.HandleSource)
	runner.Register(queue.TypeDeleteBot, deleteHandler.HandleBot)

	return runner, nil
}
