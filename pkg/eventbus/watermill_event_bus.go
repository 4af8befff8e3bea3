package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/marketflow/pkg/events"
	"github.com/dukex/marketflow/pkg/metrics"
)

var ErrHandlerRegistered = errors.New("handler already registered")

const (
	outcomeDelivered = "delivered"
	outcomeDropped   = "dropped"
	outcomeRetried   = "retried"
)

// WatermillEventBus routes every event through a single topic and picks the
// handler from the event type metadata.
type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	mu       sync.RWMutex
	handlers map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
		logger:     logger.With("module", "eventbus"),
		handlers:   make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// Publish sends the event on the shared topic. The key becomes the partition
// key, so events of one shop keep their order on Kafka.
func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	if err := eb.publisher.Publish(events.Topic, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", event.GetType(), err)
	}

	return nil
}

// Handle registers the handler for one event type. Each type takes a single
// handler.
func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if _, taken := eb.handlers[eventType]; taken {
		return fmt.Errorf("%w: %s", ErrHandlerRegistered, eventType)
	}

	eb.handlers[eventType] = handler

	return nil
}

// Subscribe starts delivering messages to the registered handlers. Messages
// without a handler and undecodable ones are acked and dropped; handler
// errors nack the message for redelivery.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", events.Topic, err)
	}

	go func() {
		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))
			outcome := eb.deliver(ctx, eventType, msg)
			metrics.BusMessagesTotal.WithLabelValues(string(eventType), outcome).Inc()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) deliver(ctx context.Context, eventType events.EventType, msg *message.Message) string {
	eb.mu.RLock()
	handler, ok := eb.handlers[eventType]
	eb.mu.RUnlock()

	logger := eb.logger.With("event_type", eventType, "message_id", msg.UUID)

	if !ok {
		logger.DebugContext(ctx, "No handler for event type")
		msg.Ack()

		return outcomeDropped
	}

	event, err := events.Decode(eventType, msg.Payload)
	if err != nil {
		// redelivery cannot fix a malformed payload
		logger.ErrorContext(ctx, "Dropping undecodable event", "error", err)
		msg.Ack()

		return outcomeDropped
	}

	if err := handler(ctx, event); err != nil {
		logger.ErrorContext(ctx, "Event handler failed", "error", err)
		msg.Nack()

		return outcomeRetried
	}

	msg.Ack()

	return outcomeDelivered
}

// Close shuts down both sides even when the publisher fails to close.
func (eb *WatermillEventBus) Close() error {
	return errors.Join(eb.publisher.Close(), eb.subscriber.Close())
}
