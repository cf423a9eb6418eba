package progressbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubBus durably publishes every progress event to a Cloud Pub/Sub
// topic — ordered per comment id via OrderingKey — and also fans it out
// to an embedded MemoryBus for immediate, in-process delivery to the
// handler. Durable delivery means a crashed dispatcher doesn't silently
// drop a comment's tail of progress ticks; the in-memory fan-out keeps
// the single-process deployment path (no Pub/Sub project configured)
// working exactly the same way.
type PubSubBus struct {
	*MemoryBus

	client *pubsub.Client
	topic  *pubsub.Topic
	logger *slog.Logger
}

// NewPubSubBus connects to projectID and publishes to topicID, creating
// the topic if it does not already exist.
func NewPubSubBus(ctx context.Context, projectID, topicID string, handler Handler, logger *slog.Logger) (*PubSubBus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("progressbus: pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("progressbus: topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("progressbus: CreateTopic: %w", err)
		}
	}
	topic.EnableMessageOrdering = true

	return &PubSubBus{
		MemoryBus: NewMemoryBus(handler, logger),
		client:    client,
		topic:     topic,
		logger:    logger,
	}, nil
}

// Publish durably publishes event (ordered by CommentID) and then fans
// it out in-process. Pub/Sub publish failures are logged, never
// returned — a progress-comment failure must not abort the execution.
func (b *PubSubBus) Publish(ctx context.Context, event Event) {
	b.publishDurable(event)
	b.MemoryBus.Publish(ctx, event)
}

func (b *PubSubBus) publishDurable(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("progressbus: marshal event failed", "comment_id", event.CommentID, "error", err)
		return
	}

	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"comment_id":    event.CommentID,
			"discussion_id": event.DiscussionID,
			"final":         fmt.Sprintf("%t", event.Final),
		},
		OrderingKey: event.CommentID,
	}

	result := b.topic.Publish(context.Background(), msg)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := result.Get(ctx); err != nil {
			b.logger.Warn("progressbus: pubsub publish failed", "comment_id", event.CommentID, "error", err)
		}
	}()
}

// Close stops the topic and closes the Pub/Sub client.
func (b *PubSubBus) Close() error {
	b.topic.Stop()
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("progressbus: pubsub client close: %w", err)
	}
	return b.MemoryBus.Close()
}
