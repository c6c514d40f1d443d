package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/fluentbot/internal/queue"
)

func setupQueue(t *testing.T) (*queue.StreamsClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return queue.NewStreamsClientFromRedis(client, "test"), mr
}

func TestNewJob(t *testing.T) {
	job, err := queue.NewJob(queue.TypeProcessSource, queue.ProcessSourcePayload{SourceID: "src-1"})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, queue.TypeProcessSource, job.Type)
	assert.Equal(t, 1, job.Attempt)

	var payload queue.ProcessSourcePayload
	require.NoError(t, job.DecodePayload(&payload))
	assert.Equal(t, "src-1", payload.SourceID)
}

func TestStreamForRoutesDeletesToCleanup(t *testing.T) {
	client, _ := setupQueue(t)

	assert.Equal(t, client.IngestStream(), client.StreamFor(queue.TypeProcessSource))
	assert.Equal(t, client.IngestStream(), client.StreamFor(queue.TypeProcessDocument))
	assert.Equal(t, client.CleanupStream(), client.StreamFor(queue.TypeDeleteDocument))
	assert.Equal(t, client.CleanupStream(), client.StreamFor(queue.TypeDeleteSource))
	assert.Equal(t, client.CleanupStream(), client.StreamFor(queue.TypeDeleteBot))
}

func TestProducerRejectsUnknownType(t *testing.T) {
	client, _ := setupQueue(t)
	producer := queue.NewProducer(client)

	job := queue.Job{ID: "x", Type: queue.Type("bogus")}
	_, err := producer.Enqueue(context.Background(), job)
	assert.Error(t, err)
}

func TestEnqueueReadAck(t *testing.T) {
	client, _ := setupQueue(t)
	ctx := context.Background()

	producer := queue.NewProducer(client)
	consumer, err := queue.NewConsumer(client, queue.ConsumerConfig{
		ConsumerID:   "worker-1",
		BlockTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, consumer.Initialize(ctx))

	job, err := queue.NewJob(queue.TypeProcessSource, queue.ProcessSourcePayload{SourceID: "src-1"})
	require.NoError(t, err)

	_, err = producer.Enqueue(ctx, job)
	require.NoError(t, err)

	deliveries, err := consumer.Read(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	got := deliveries[0]
	assert.Equal(t, job.ID, got.Job.ID)
	assert.Equal(t, client.IngestStream(), got.Stream)

	require.NoError(t, consumer.Ack(ctx, got))

	depths, err := producer.QueueDepths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths[client.IngestStream()])
}

func TestCleanupStreamReadFirst(t *testing.T) {
	client, _ := setupQueue(t)
	ctx := context.Background()

	producer := queue.NewProducer(client)
	consumer, err := queue.NewConsumer(client, queue.ConsumerConfig{
		ConsumerID:   "worker-1",
		BlockTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, consumer.Initialize(ctx))

	ingest, err := queue.NewJob(queue.TypeProcessSource, queue.ProcessSourcePayload{SourceID: "src-1"})
	require.NoError(t, err)
	cleanup, err := queue.NewJob(queue.TypeDeleteSource, queue.DeleteSourcePayload{SourceID: "src-2"})
	require.NoError(t, err)

	_, err = producer.Enqueue(ctx, ingest)
	require.NoError(t, err)
	_, err = producer.Enqueue(ctx, cleanup)
	require.NoError(t, err)

	deliveries, err := consumer.Read(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, client.CleanupStream(), deliveries[0].Stream)
}

func TestDeadLetter(t *testing.T) {
	client, _ := setupQueue(t)
	ctx := context.Background()

	producer := queue.NewProducer(client)
	consumer, err := queue.NewConsumer(client, queue.ConsumerConfig{
		ConsumerID:   "worker-1",
		BlockTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, consumer.Initialize(ctx))

	job, err := queue.NewJob(queue.TypeProcessDocument, queue.ProcessDocumentPayload{SourceID: "src-1", URL: "https://example.com"})
	require.NoError(t, err)
	_, err = producer.Enqueue(ctx, job)
	require.NoError(t, err)

	deliveries, err := consumer.Read(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	require.NoError(t, consumer.DeadLetter(ctx, deliveries[0], errors.New("scrape failed")))

	depth, err := client.XLen(ctx, client.DeadStream())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestConsumerRequiresID(t *testing.T) {
	client, _ := setupQueue(t)
	_, err := queue.NewConsumer(client, queue.ConsumerConfig{})
	assert.Error(t, err)
}
