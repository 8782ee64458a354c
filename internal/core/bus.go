package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrBusClosed = errors.New("bus closed")

// Message is one delivery from the topic bus.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription delivers messages matching one pattern until Unsubscribe.
// Messages is closed once the subscription is torn down.
type Subscription interface {
	Pattern() string
	Messages() <-chan Message
	Unsubscribe() error
}

// Bus is a hierarchical publish/subscribe transport. Topics use "/" as level
// separator; patterns accept "+" for one level and a trailing "#" for the rest.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, pattern string) (Subscription, error)
	Close() error
}

// PublishJSON marshals v and publishes it on topic. A nil v publishes an empty object.
func PublishJSON(ctx context.Context, b Bus, topic string, v any) error {
	if v == nil {
		v = struct{}{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}
	if err := b.Publish(ctx, topic, data); err != nil {
		return fmt.Errorf("bus publish %s: %w", topic, err)
	}
	return nil
}
