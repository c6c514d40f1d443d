package bootstrap

import (
	"context"
	"time"

	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/metrics"
	"github.com/jonesrussell/fluentbot/internal/queue"
	"github.com/jonesrussell/fluentbot/internal/repository"
)

const metricsPollInterval = 15 * time.Second

// pollMetrics keeps the queue-depth and outbox gauges current until the
// context is canceled.
func pollMetrics(
	ctx context.Context,
	producer *queue.Producer,
	outboxRepo *repository.OutboxRepository,
	m *metrics.Metrics,
	log logger.Logger,
) {
	ticker := time.NewTicker(metricsPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		depths, err := producer.QueueDepths(ctx)
		if err != nil {
			log.Warn("Failed to read queue depths", logger.Error(err))
		}
		for stream, depth := range depths {
			m.QueueDepth.WithLabelValues(stream).Set(float64(depth))
		}

		stats, err := outboxRepo.Stats(ctx)
		if err != nil {
			log.Warn("Failed to read outbox stats", logger.Error(err))
			continue
		}
		m.OutboxByState.Reset()
		for status, count := range stats {
			m.OutboxByState.WithLabelValues(string(status)).Set(float64(count))
		}
	}
}
