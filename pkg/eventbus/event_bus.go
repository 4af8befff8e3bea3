// Package eventbus carries domain and lifecycle events between marketflow processes.
package eventbus

import (
	"context"

	"github.com/dukex/marketflow/pkg/events"
)

// Event is anything with a registered event type.
type Event interface {
	GetType() events.EventType
}

// EventPublisher is the producer side used by the API and the tracker. The key
// is the shop id for domain events and the workflow id for lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber is the consumer side used by the engine.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event struct. A returned
// error asks for redelivery.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
