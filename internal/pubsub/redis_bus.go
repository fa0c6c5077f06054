// Package pubsub fans resolved operations out across server nodes so every
// board room sees the same stream regardless of which node a client landed
// on.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Event is one board-scoped message relayed between nodes. NodeID lets
// subscribers drop their own publications.
type Event struct {
	NodeID  string          `json:"node_id"`
	BoardID string          `json:"board_id"`
	Message json.RawMessage `json:"message"`
}

type Bus interface {
	Publish(ctx context.Context, event *Event) error
	Subscribe(ctx context.Context) (<-chan *Event, error)
}

const channel = "canvas:ops"

type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan *Event, error) {
	sub := b.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan *Event)
	go func() {
		defer close(out)
		defer sub.Close()

		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("dropping malformed bus event: %v", err)
				continue
			}
			select {
			case out <- &event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
