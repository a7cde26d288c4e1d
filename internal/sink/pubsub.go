package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/socialminer/crawler/internal/engine"
)

// PubSub publishes items to a Pub/Sub topic for downstream consumers. It
// performs no dedup of its own; wrap it in RedisDedup when exactly-once
// forwarding matters.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSub connects to the topic.
func NewPubSub(ctx context.Context, projectID, topicID string) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return &PubSub{
		client: client,
		topic:  client.Topic(topicID),
	}, nil
}

// Put publishes the item as a JSON message keyed by platform/item.
func (p *PubSub) Put(ctx context.Context, item engine.NormalizedItem) (engine.PutResult, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("marshal item %s/%s: %w", item.Platform, item.Key, err)
	}
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"platform": item.Platform,
			"item_key": item.Key,
			"task_id":  item.TaskID,
		},
	})
	if _, err := res.Get(ctx); err != nil {
		return "", fmt.Errorf("publish item %s/%s: %w", item.Platform, item.Key, err)
	}
	return engine.PutOK, nil
}

// Close stops the topic's publish goroutines and the client.
func (p *PubSub) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
