// Package bootstrap handles application initialization and lifecycle
// management: config, database, queue, workers, scheduler, HTTP server.
package bootstrap

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jonesrussell/fluentbot/internal/config"
	"github.com/jonesrussell/fluentbot/internal/database"
	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/metrics"
	"github.com/jonesrussell/fluentbot/internal/outbox"
	"github.com/jonesrussell/fluentbot/internal/queue"
	"github.com/jonesrussell/fluentbot/internal/repository"
	"github.com/jonesrussell/fluentbot/internal/scheduler"
	"github.com/jonesrussell/fluentbot/internal/storage"
)

const version = "dev"

// Start initializes and runs the service until SIGINT or SIGTERM.
func Start() error {
	configPath := flag.String("config", "config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(logger.String("service", "fluentbot"), logger.String("version", version))

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("Failed to close database", logger.Error(closeErr))
		}
	}()

	streams, err := queue.NewStreamsClient(queue.StreamsConfig{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if closeErr := streams.Close(); closeErr != nil {
			log.Error("Failed to close redis client", logger.Error(closeErr))
		}
	}()

	blobs, err := storage.NewFileStore(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	bots := repository.NewBotRepository(db, log)
	sources := repository.NewSourceRepository(db, log)
	documents := repository.NewDocumentRepository(db, log)
	outboxRepo := repository.NewOutboxRepository(db, log)
	producer := queue.NewProducer(streams)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	runner, err := buildWorkers(cfg, sources, documents, producer, streams, blobs, m, log)
	if err != nil {
		return fmt.Errorf("build workers: %w", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if runErr := runner.Run(ctx); runErr != nil {
			log.Error("Worker error", logger.Error(runErr))
			stop()
		}
	}()

	dispatcher := outbox.NewDispatcher(outboxRepo, producer, outbox.Config{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
	}, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pollMetrics(ctx, producer, outboxRepo, m, log)
	}()

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(sources, producer, scheduler.Config{
			Sweep:            cfg.Scheduler.Sweep,
			StuckIndexingAge: cfg.Scheduler.StuckIndexingAge,
		}, log)
		if startErr := sched.Start(ctx); startErr != nil {
			return fmt.Errorf("start scheduler: %w", startErr)
		}
		defer sched.Stop()
	}

	serverErr := runServer(ctx, cfg, serverDeps{
		db:        db,
		streams:   streams,
		producer:  producer,
		bots:      bots,
		sources:   sources,
		documents: documents,
		outbox:    outboxRepo,
		blobs:     blobs,
		registry:  registry,
		logger:    log,
	})

	stop()
	wg.Wait()

	if serverErr != nil {
		return serverErr
	}
	log.Info("Service exited")
	return nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "worker"
	}
	return name
}
