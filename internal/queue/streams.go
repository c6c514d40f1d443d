package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// defaultPrefix namespaces all stream keys.
	defaultPrefix = "fluentbot"

	// connectTimeout bounds the startup ping.
	connectTimeout = 2 * time.Second
)

// StreamsClient wraps a Redis client with the stream operations the queue
// needs. Ingestion and cleanup jobs live on separate streams so slow
// scraping runs cannot starve remote-deletion work.
type StreamsClient struct {
	client *redis.Client
	prefix string
}

// StreamsConfig holds connection settings for the queue.
type StreamsConfig struct {
	Addr     string
	Password string `json:"-"`
	DB       int
	Prefix   string
}

// NewStreamsClient connects to Redis and verifies the connection.
func NewStreamsClient(cfg StreamsConfig) (*StreamsClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewStreamsClientFromRedis(client, cfg.Prefix), nil
}

// NewStreamsClientFromRedis wraps an existing Redis client.
func NewStreamsClientFromRedis(client *redis.Client, prefix string) *StreamsClient {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &StreamsClient{client: client, prefix: prefix}
}

// IngestStream is the stream for process_source / process_document jobs.
func (c *StreamsClient) IngestStream() string {
	return c.prefix + ":jobs:ingest"
}

// CleanupStream is the stream for remote-deletion jobs.
func (c *StreamsClient) CleanupStream() string {
	return c.prefix + ":jobs:cleanup"
}

// DeadStream holds jobs that exhausted their attempts, together with the
// last error. It is the queue's terminal failure store.
func (c *StreamsClient) DeadStream() string {
	return c.prefix + ":jobs:dead"
}

// StreamFor maps a job type to its stream.
func (c *StreamsClient) StreamFor(t Type) string {
	switch t {
	case TypeDeleteDocument, TypeDeleteSource, TypeDeleteBot:
		return c.CleanupStream()
	default:
		return c.IngestStream()
	}
}

// WorkStreams returns the streams consumers read from, in dispatch order.
func (c *StreamsClient) WorkStreams() []string {
	return []string{c.CleanupStream(), c.IngestStream()}
}

// CreateConsumerGroup creates a consumer group if it does not exist yet.
func (c *StreamsClient) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// XAdd appends a message to a stream.
func (c *StreamsClient) XAdd(ctx context.Context, stream string, values map[string]any) (string, error) {
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
}

// XReadGroup reads messages for a consumer group.
func (c *StreamsClient) XReadGroup(
	ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration,
) ([]redis.XStream, error) {
	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  streams,
		Count:    count,
		Block:    block,
	}).Result()
}

// XAck acknowledges processed messages.
func (c *StreamsClient) XAck(ctx context.Context, stream, group string, ids ...string) error {
	return c.client.XAck(ctx, stream, group, ids...).Err()
}

// XAutoClaim transfers pending messages idle for at least minIdle to the
// given consumer, so work from crashed workers is re-delivered.
func (c *StreamsClient) XAutoClaim(
	ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64,
) ([]redis.XMessage, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	return msgs, err
}

// XLen returns the length of a stream.
func (c *StreamsClient) XLen(ctx context.Context, stream string) (int64, error) {
	return c.client.XLen(ctx, stream).Result()
}

// Ping checks the Redis connection.
func (c *StreamsClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (c *StreamsClient) Close() error {
	return c.client.Close()
}
