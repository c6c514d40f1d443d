// Package outbox drains committed remote-cleanup intents into the job
// queue. Together with the repository's transactional insert this forms a
// transactional outbox: the local delete and the cleanup obligation commit
// atomically, and the dispatcher moves obligations onto the queue
// afterwards, retrying with backoff until they stick.
package outbox

import (
	"context"
	"time"

	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/models"
	"github.com/jonesrussell/fluentbot/internal/queue"
	"github.com/jonesrussell/fluentbot/internal/repository"
)

const (
	retryBaseDelay = 30 * time.Second
	retryMaxDelay  = 30 * time.Minute

	// staleAfter is how long an entry may sit in publishing before it is
	// assumed orphaned by a crashed dispatcher and returned to pending.
	staleAfter = 5 * time.Minute

	// publishedRetention is how long published entries are kept for
	// inspection before cleanup deletes them.
	publishedRetention = 24 * time.Hour

	housekeepingEvery = time.Minute
)

// Producer is the queue side the dispatcher publishes to.
type Producer interface {
	Enqueue(ctx context.Context, job queue.Job) (string, error)
}

// Config tunes the dispatcher loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// Dispatcher polls the outbox and publishes claimed entries to the queue.
type Dispatcher struct {
	outbox   *repository.OutboxRepository
	producer Producer
	cfg      Config
	logger   logger.Logger
}

// NewDispatcher creates an outbox dispatcher.
func NewDispatcher(outboxRepo *repository.OutboxRepository, producer Producer, cfg Config, log logger.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Dispatcher{
		outbox:   outboxRepo,
		producer: producer,
		cfg:      cfg,
		logger:   log,
	}
}

// Run polls until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	housekeeping := time.NewTicker(housekeepingEvery)
	defer housekeeping.Stop()

	d.logger.Info("outbox dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
			d.DispatchOnce(ctx)
		case <-housekeeping.C:
			d.housekeep(ctx)
		}
	}
}

// DispatchOnce claims one batch of pending and retryable entries and
// publishes them. Exposed for tests and for a drain-on-shutdown call.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	pending, err := d.outbox.FetchPending(ctx, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("fetch pending outbox entries", logger.Error(err))
		return
	}
	retryable, err := d.outbox.FetchRetryable(ctx, d.cfg.BatchSize, time.Now().UTC())
	if err != nil {
		d.logger.Error("fetch retryable outbox entries", logger.Error(err))
	}

	for _, entry := range append(pending, retryable...) {
		d.publish(ctx, entry)
	}
}

func (d *Dispatcher) publish(ctx context.Context, entry models.OutboxEntry) {
	job, err := queue.NewJob(queue.Type(entry.Kind), nil)
	if err != nil {
		d.fail(ctx, entry, err)
		return
	}
	// The payload was validated when the entry was written; reuse it as-is
	// instead of round-tripping through the payload struct.
	job.Payload = entry.Payload

	if _, err := d.producer.Enqueue(ctx, job); err != nil {
		d.fail(ctx, entry, err)
		return
	}

	if err := d.outbox.MarkPublished(ctx, entry.ID); err != nil {
		d.logger.Error("mark outbox entry published",
			logger.String("entry_id", entry.ID),
			logger.Error(err))
		return
	}

	d.logger.Debug("outbox entry published",
		logger.String("entry_id", entry.ID),
		logger.String("kind", entry.Kind))
}

func (d *Dispatcher) fail(ctx context.Context, entry models.OutboxEntry, cause error) {
	nextRetry := time.Now().UTC().Add(backoff(entry.RetryCount))
	if err := d.outbox.MarkFailed(ctx, entry.ID, cause.Error(), nextRetry); err != nil {
		d.logger.Error("mark outbox entry failed",
			logger.String("entry_id", entry.ID),
			logger.Error(err))
		return
	}
	d.logger.Warn("outbox publish failed",
		logger.String("entry_id", entry.ID),
		logger.String("kind", entry.Kind),
		logger.Int("retry_count", entry.RetryCount+1),
		logger.Error(cause))
}

func (d *Dispatcher) housekeep(ctx context.Context) {
	now := time.Now().UTC()

	if reset, err := d.outbox.ResetStale(ctx, now.Add(-staleAfter)); err != nil {
		d.logger.Error("reset stale outbox entries", logger.Error(err))
	} else if reset > 0 {
		d.logger.Warn("reset stale outbox entries", logger.Int64("count", reset))
	}

	if removed, err := d.outbox.CleanupPublished(ctx, now.Add(-publishedRetention)); err != nil {
		d.logger.Error("cleanup published outbox entries", logger.Error(err))
	} else if removed > 0 {
		d.logger.Debug("cleaned up published outbox entries", logger.Int64("count", removed))
	}
}

// backoff doubles from the base delay per retry, capped at the max.
func backoff(retryCount int) time.Duration {
	delay := retryBaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}
