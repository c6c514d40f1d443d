package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Stream message field names.
const (
	jobField        = "job"
	enqueuedAtField = "enqueued_at"
	errorField      = "error"
)

// Producer enqueues jobs onto their streams.
type Producer struct {
	client *StreamsClient
}

// NewProducer creates a job producer.
func NewProducer(client *StreamsClient) *Producer {
	return &Producer{client: client}
}

// Enqueue serializes the job and appends it to the stream for its type.
// Returns the stream message id.
func (p *Producer) Enqueue(ctx context.Context, job Job) (string, error) {
	if !job.Type.IsValid() {
		return "", fmt.Errorf("enqueue: unknown job type %q", job.Type)
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("serialize job %s: %w", job.ID, err)
	}

	stream := p.client.StreamFor(job.Type)
	messageID, addErr := p.client.XAdd(ctx, stream, map[string]any{
		jobField:        string(raw),
		enqueuedAtField: time.Now().UTC().Format(time.RFC3339),
	})
	if addErr != nil {
		return "", fmt.Errorf("enqueue job to %s: %w", stream, addErr)
	}

	return messageID, nil
}

// QueueDepths returns the current length of each work stream keyed by name.
func (p *Producer) QueueDepths(ctx context.Context) (map[string]int64, error) {
	depths := make(map[string]int64)
	for _, stream := range p.client.WorkStreams() {
		depth, err := p.client.XLen(ctx, stream)
		if err != nil {
			return depths, fmt.Errorf("stream length for %s: %w", stream, err)
		}
		depths[stream] = depth
	}
	return depths, nil
}
