package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultConsumerGroup = "fluentbot-workers"
	defaultBlockTimeout  = 5 * time.Second
	defaultBatchSize     = 10
	defaultClaimMinIdle  = 10 * time.Minute
	reclaimBatch         = 100
)

// Consumer reads jobs from the work streams through a consumer group.
type Consumer struct {
	client        *StreamsClient
	consumerGroup string
	consumerID    string
	blockTimeout  time.Duration
	batchSize     int64
	claimMinIdle  time.Duration
}

// ConsumerConfig holds consumer settings.
type ConsumerConfig struct {
	ConsumerGroup string
	ConsumerID    string
	BlockTimeout  time.Duration
	BatchSize     int64

	// ClaimMinIdle is how long a pending message must sit unacknowledged
	// before another consumer may claim it. It must exceed the longest job
	// timeout, or a slow URL-list run would be delivered twice.
	ClaimMinIdle time.Duration
}

// Delivery is one job read from a stream, with the bookkeeping needed to
// acknowledge it.
type Delivery struct {
	MessageID string
	Stream    string
	Job       Job
}

// NewConsumer creates a consumer. ConsumerID must be unique per worker
// process.
func NewConsumer(client *StreamsClient, cfg ConsumerConfig) (*Consumer, error) {
	if cfg.ConsumerID == "" {
		return nil, errors.New("consumer ID is required")
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = defaultConsumerGroup
	}
	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = defaultBlockTimeout
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	claimMinIdle := cfg.ClaimMinIdle
	if claimMinIdle <= 0 {
		claimMinIdle = defaultClaimMinIdle
	}

	return &Consumer{
		client:        client,
		consumerGroup: group,
		consumerID:    cfg.ConsumerID,
		blockTimeout:  blockTimeout,
		batchSize:     batchSize,
		claimMinIdle:  claimMinIdle,
	}, nil
}

// Initialize creates the consumer groups for all work streams.
func (c *Consumer) Initialize(ctx context.Context) error {
	for _, stream := range c.client.WorkStreams() {
		if err := c.client.CreateConsumerGroup(ctx, stream, c.consumerGroup); err != nil {
			return fmt.Errorf("consumer group for %s: %w", stream, err)
		}
	}
	return nil
}

// Read returns the next batch of deliveries. Stale pending messages from
// dead consumers are reclaimed first, then new messages are read with the
// cleanup stream taking priority over ingestion.
func (c *Consumer) Read(ctx context.Context) ([]Delivery, error) {
	if reclaimed := c.reclaimStale(ctx); len(reclaimed) > 0 {
		return reclaimed, nil
	}
	return c.readNew(ctx)
}

// Ack acknowledges a processed delivery.
func (c *Consumer) Ack(ctx context.Context, d Delivery) error {
	return c.client.XAck(ctx, d.Stream, c.consumerGroup, d.MessageID)
}

// DeadLetter records a job that exhausted its attempts on the dead stream
// and acknowledges the original message.
func (c *Consumer) DeadLetter(ctx context.Context, d Delivery, jobErr error) error {
	raw, err := json.Marshal(d.Job)
	if err != nil {
		return fmt.Errorf("serialize dead job %s: %w", d.Job.ID, err)
	}

	values := map[string]any{
		jobField:        string(raw),
		enqueuedAtField: time.Now().UTC().Format(time.RFC3339),
	}
	if jobErr != nil {
		values[errorField] = jobErr.Error()
	}

	if _, addErr := c.client.XAdd(ctx, c.client.DeadStream(), values); addErr != nil {
		return fmt.Errorf("dead-letter job %s: %w", d.Job.ID, addErr)
	}

	return c.Ack(ctx, d)
}

func (c *Consumer) readNew(ctx context.Context) ([]Delivery, error) {
	work := c.client.WorkStreams()
	streams := make([]string, 0, len(work)*2)
	streams = append(streams, work...)
	for range work {
		streams = append(streams, ">")
	}

	result, err := c.client.XReadGroup(ctx, c.consumerGroup, c.consumerID, streams, c.batchSize, c.blockTimeout)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read work streams: %w", err)
	}

	var deliveries []Delivery
	for _, stream := range result {
		for _, msg := range stream.Messages {
			d, parseErr := parseDelivery(stream.Stream, msg)
			if parseErr != nil {
				// Malformed messages cannot be retried; drop them so they
				// do not wedge the group.
				_ = c.client.XAck(ctx, stream.Stream, c.consumerGroup, msg.ID)
				continue
			}
			deliveries = append(deliveries, d)
		}
	}
	return deliveries, nil
}

func (c *Consumer) reclaimStale(ctx context.Context) []Delivery {
	var reclaimed []Delivery
	for _, stream := range c.client.WorkStreams() {
		msgs, err := c.client.XAutoClaim(ctx, stream, c.consumerGroup, c.consumerID, c.claimMinIdle, reclaimBatch)
		if err != nil {
			continue
		}
		for _, msg := range msgs {
			d, parseErr := parseDelivery(stream, msg)
			if parseErr != nil {
				_ = c.client.XAck(ctx, stream, c.consumerGroup, msg.ID)
				continue
			}
			reclaimed = append(reclaimed, d)
		}
	}
	return reclaimed
}

func parseDelivery(stream string, msg redis.XMessage) (Delivery, error) {
	raw, ok := msg.Values[jobField].(string)
	if !ok {
		return Delivery{}, errors.New("missing job data")
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Delivery{}, fmt.Errorf("unmarshal job: %w", err)
	}

	return Delivery{
		MessageID: msg.ID,
		Stream:    stream,
		Job:       job,
	}, nil
}

// Group returns the consumer group name.
func (c *Consumer) Group() string {
	return c.consumerGroup
}
