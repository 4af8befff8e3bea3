// Package inbox consumes domain events pushed onto a Redis list by producers
// that do not talk to the event bus.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/marketflow/pkg/events"
	redis "github.com/redis/go-redis/v9"
)

// DefaultQueue is the list producers LPUSH onto.
const DefaultQueue = "marketflow:events"

const popTimeout = time.Second

// Envelope is the JSON document stored in the list.
type Envelope struct {
	Type    events.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// Sink receives decoded events.
type Sink func(ctx context.Context, event any) error

type Inbox struct {
	client redis.UniversalClient
	queue  string
	sink   Sink
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(client redis.UniversalClient, queue string, logger *slog.Logger) *Inbox {
	if queue == "" {
		queue = DefaultQueue
	}

	return &Inbox{
		client: client,
		queue:  queue,
		stopCh: make(chan struct{}),
		logger: logger.With("module", "inbox", "queue", queue),
	}
}

// Push encodes event into an envelope and appends it to the queue.
func (i *Inbox) Push(ctx context.Context, eventType events.EventType, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}

	raw, err := json.Marshal(Envelope{Type: eventType, Payload: payload})
	if err != nil {
		return err
	}

	return i.client.LPush(ctx, i.queue, raw).Err()
}

// Start pings Redis and launches the consumer.
func (i *Inbox) Start(ctx context.Context, sink Sink) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := i.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	i.sink = sink
	i.logger.InfoContext(ctx, "Starting inbox consumer")

	i.wg.Add(1)

	go i.consume(ctx)

	return nil
}

func (i *Inbox) consume(ctx context.Context) {
	defer i.wg.Done()

	for {
		select {
		case <-i.stopCh:
			i.logger.InfoContext(ctx, "Inbox consumer stopped")

			return
		case <-ctx.Done():
			i.logger.InfoContext(ctx, "Context cancelled, stopping inbox consumer")

			return
		default:
			if err := i.processMessage(ctx); err != nil {
				i.logger.ErrorContext(ctx, "Error processing inbox message", "error", err)

				if errors.Is(err, errTransport) {
					sleep(ctx, i.stopCh, time.Second)
				}
			}
		}
	}
}

var errTransport = errors.New("inbox transport error")

func (i *Inbox) processMessage(ctx context.Context) error {
	result, err := i.client.BRPop(ctx, popTimeout, i.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("%w: failed to pop message: %w", errTransport, err)
	}

	if len(result) < 2 {
		return nil
	}

	event, err := Decode([]byte(result[1]))
	if err != nil {
		return err
	}

	return i.sink(ctx, event)
}

// Decode parses an envelope and its payload into a validated event pointer.
func Decode(raw []byte) (any, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", events.ErrInvalidEventData, err)
	}

	return events.Decode(envelope.Type, envelope.Payload)
}

// Stop ends the consumer and waits for the message in progress.
func (i *Inbox) Stop(ctx context.Context) {
	i.logger.InfoContext(ctx, "Stopping inbox consumer")

	close(i.stopCh)
	i.wg.Wait()
}

func sleep(ctx context.Context, stopCh <-chan struct{}, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-stopCh:
	case <-ctx.Done():
	}
}
