// Package worker runs the job consumer loop: read deliveries, dispatch to
// handlers under per-type timeouts, acknowledge, requeue, or dead-letter.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/metrics"
	"github.com/jonesrussell/fluentbot/internal/queue"
)

// HandlerFunc processes one job.
type HandlerFunc func(ctx context.Context, job queue.Job) error

// Config tunes the runner.
type Config struct {
	// PoolSize bounds how many jobs run concurrently.
	PoolSize int
	// MaxAttempts is how many deliveries a job gets before dead-lettering.
	MaxAttempts int
	// ListJobTimeout applies to process_source jobs, which may spend most
	// of an hour sleeping between throttled URLs.
	ListJobTimeout time.Duration
	// JobTimeout applies to every other job type.
	JobTimeout time.Duration
}

// Runner consumes deliveries and dispatches them to registered handlers.
type Runner struct {
	consumer *queue.Consumer
	producer *queue.Producer
	handlers map[queue.Type]HandlerFunc
	cfg      Config
	metrics  *metrics.Metrics
	logger   logger.Logger

	wg  sync.WaitGroup
	sem chan struct{}
}

// NewRunner creates a worker runner.
func NewRunner(
	consumer *queue.Consumer,
	producer *queue.Producer,
	cfg Config,
	m *metrics.Metrics,
	log logger.Logger,
) *Runner {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ListJobTimeout <= 0 {
		cfg.ListJobTimeout = time.Hour
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	return &Runner{
		consumer: consumer,
		producer: producer,
		handlers: make(map[queue.Type]HandlerFunc),
		cfg:      cfg,
		metrics:  m,
		logger:   log,
		sem:      make(chan struct{}, cfg.PoolSize),
	}
}

// Register binds a handler to a job type. Must be called before Run.
func (r *Runner) Register(t queue.Type, fn HandlerFunc) {
	r.handlers[t] = fn
}

// Run consumes until the context is canceled, then waits for in-flight
// jobs to finish.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.consumer.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize consumer: %w", err)
	}

	r.logger.Info("worker started", logger.Int("pool_size", r.cfg.PoolSize))

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			r.logger.Info("worker stopped")
			return nil
		default:
		}

		deliveries, err := r.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			r.logger.Error("read deliveries", logger.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, delivery := range deliveries {
			select {
			case r.sem <- struct{}{}:
			case <-ctx.Done():
				// Unprocessed deliveries stay pending and are reclaimed
				// by the next consumer.
				continue
			}

			r.wg.Add(1)
			go func(d queue.Delivery) {
				defer r.wg.Done()
				defer func() { <-r.sem }()
				r.process(ctx, d)
			}(delivery)
		}
	}
}

func (r *Runner) process(ctx context.Context, d queue.Delivery) {
	handler, ok := r.handlers[d.Job.Type]
	if !ok {
		r.logger.Error("no handler for job type",
			logger.String("job_id", d.Job.ID),
			logger.String("type", string(d.Job.Type)))
		if err := r.consumer.DeadLetter(ctx, d, fmt.Errorf("no handler for type %s", d.Job.Type)); err != nil {
			r.logger.Error("dead-letter unhandled job", logger.Error(err))
		}
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.timeoutFor(d.Job.Type))
	defer cancel()

	start := time.Now()
	err := handler(jobCtx, d.Job)
	elapsed := time.Since(start)

	if err == nil {
		r.metrics.ObserveJob(string(d.Job.Type), "success", elapsed.Seconds())
		if ackErr := r.consumer.Ack(ctx, d); ackErr != nil {
			r.logger.Error("ack job",
				logger.String("job_id", d.Job.ID),
				logger.Error(ackErr))
		}
		r.logger.Debug("job done",
			logger.String("job_id", d.Job.ID),
			logger.String("type", string(d.Job.Type)),
			logger.Duration("elapsed", elapsed))
		return
	}

	r.logger.Warn("job failed",
		logger.String("job_id", d.Job.ID),
		logger.String("type", string(d.Job.Type)),
		logger.Int("attempt", d.Job.Attempt),
		logger.Error(err))

	if d.Job.Attempt >= r.cfg.MaxAttempts {
		r.metrics.ObserveJob(string(d.Job.Type), "dead", elapsed.Seconds())
		if dlErr := r.consumer.DeadLetter(ctx, d, err); dlErr != nil {
			r.logger.Error("dead-letter job",
				logger.String("job_id", d.Job.ID),
				logger.Error(dlErr))
		}
		return
	}

	r.metrics.ObserveJob(string(d.Job.Type), "retry", elapsed.Seconds())
	r.requeue(ctx, d)
}

// requeue re-enqueues the job with a bumped attempt and acknowledges the
// original delivery. The ack comes last so a crash in between duplicates
// the job instead of losing it.
func (r *Runner) requeue(ctx context.Context, d queue.Delivery) {
	job := d.Job
	job.Attempt++

	if _, err := r.producer.Enqueue(ctx, job); err != nil {
		r.logger.Error("requeue job",
			logger.String("job_id", job.ID),
			logger.Error(err))
		return
	}
	if err := r.consumer.Ack(ctx, d); err != nil {
		r.logger.Error("ack requeued job",
			logger.String("job_id", job.ID),
			logger.Error(err))
	}
}

func (r *Runner) timeoutFor(t queue.Type) time.Duration {
	if t == queue.TypeProcessSource {
		return r.cfg.ListJobTimeout
	}
	return r.cfg.JobTimeout
}
