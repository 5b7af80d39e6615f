package plugin

import (
	"context"
	"time"
)

// Event is a message published on the in-process event bus.
type Event struct {
	Topic     string
	Source    string
	Timestamp time.Time
	Payload   any
}

// EventHandler receives events delivered by an EventBus.
type EventHandler func(ctx context.Context, event Event)

// EventBus is the in-process publish/subscribe contract.
type EventBus interface {
	// Publish delivers the event to all matching handlers before returning.
	Publish(ctx context.Context, event Event) error

	// PublishAsync delivers the event on background goroutines.
	PublishAsync(ctx context.Context, event Event)

	// Subscribe registers a handler for one topic and returns its unsubscribe func.
	Subscribe(topic string, handler EventHandler) func()

	// SubscribeAll registers a handler for every topic.
	SubscribeAll(handler EventHandler) func()
}
