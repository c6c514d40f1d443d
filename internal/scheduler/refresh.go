// Package scheduler re-queues sources on their refresh schedule and
// recovers sources orphaned in indexing by crashed workers.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/models"
	"github.com/jonesrussell/fluentbot/internal/queue"
)

// SourceSweeper is the repository slice the scheduler needs.
type SourceSweeper interface {
	ListDueForRefresh(ctx context.Context, now time.Time) ([]models.Source, error)
	TransitionStatus(ctx context.Context, id string, to models.Status) error
	ResetStuck(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Enqueuer puts refresh jobs on the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) (string, error)
}

// Config tunes the refresh scheduler.
type Config struct {
	// Sweep is the cron spec for the refresh pass.
	Sweep string
	// StuckIndexingAge is how long a source may sit in indexing without
	// activity before it is re-queued.
	StuckIndexingAge time.Duration
}

// Scheduler runs the periodic refresh sweep.
type Scheduler struct {
	sources  SourceSweeper
	enqueuer Enqueuer
	cfg      Config
	cron     *cron.Cron
	logger   logger.Logger
}

// New creates a refresh scheduler.
func New(sources SourceSweeper, enqueuer Enqueuer, cfg Config, log logger.Logger) *Scheduler {
	if cfg.Sweep == "" {
		cfg.Sweep = "@every 1m"
	}
	if cfg.StuckIndexingAge <= 0 {
		cfg.StuckIndexingAge = 2 * time.Hour
	}
	return &Scheduler{
		sources:  sources,
		enqueuer: enqueuer,
		cfg:      cfg,
		cron:     cron.New(),
		logger:   log,
	}
}

// Start registers the sweep and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.cfg.Sweep, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("register refresh sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("refresh scheduler started", logger.String("sweep", s.cfg.Sweep))
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("refresh scheduler stopped")
}

// Sweep performs one pass: due sources are re-queued for ingestion, and
// sources stuck in indexing past the cutoff are returned to the queue.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.sources.ListDueForRefresh(ctx, now)
	if err != nil {
		s.logger.Error("list due sources", logger.Error(err))
	} else {
		for _, source := range due {
			s.requeue(ctx, source.ID, "refresh")
		}
	}

	stuck, err := s.sources.ResetStuck(ctx, now.Add(-s.cfg.StuckIndexingAge))
	if err != nil {
		s.logger.Error("reset stuck sources", logger.Error(err))
		return
	}
	for _, id := range stuck {
		s.logger.Warn("re-queued stuck source", logger.String("source_id", id))
		s.enqueue(ctx, id)
	}
}

// requeue transitions a due source back to queued and enqueues its job.
// Sources that fail the transition are skipped; a job may already have
// picked them up.
func (s *Scheduler) requeue(ctx context.Context, sourceID, reason string) {
	if err := s.sources.TransitionStatus(ctx, sourceID, models.StatusQueued); err != nil {
		s.logger.Warn("skip refresh for source",
			logger.String("source_id", sourceID),
			logger.Error(err))
		return
	}
	s.logger.Info("source queued for refresh",
		logger.String("source_id", sourceID),
		logger.String("reason", reason))
	s.enqueue(ctx, sourceID)
}

func (s *Scheduler) enqueue(ctx context.Context, sourceID string) {
	job, err := queue.NewJob(queue.TypeProcessSource, queue.ProcessSourcePayload{SourceID: sourceID})
	if err != nil {
		s.logger.Error("build refresh job",
			logger.String("source_id", sourceID),
			logger.Error(err))
		return
	}
	if _, err := s.enqueuer.Enqueue(ctx, job); err != nil {
		s.logger.Error("enqueue refresh job",
			logger.String("source_id", sourceID),
			logger.Error(err))
	}
}
