// Package events defines the domain events that trigger workflows and the
// lifecycle events published while executions run.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

type EventType string

// Topic is the bus topic carrying every marketflow event.
const Topic = "marketflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Domain events.
	CustomerVisitEvent        EventType = "customer.visit"
	CustomerRegistrationEvent EventType = "customer.registration"
	PaymentCompletedEvent     EventType = "payment.completed"

	// Workflow execution lifecycle events.
	WorkflowExecutionStartedEvent   EventType = "workflow.execution.started"
	WorkflowExecutionCompletedEvent EventType = "workflow.execution.completed"
	WorkflowExecutionFailedEvent    EventType = "workflow.execution.failed"
)

// ErrInvalidEventData is returned when event data cannot be parsed or is invalid.
var ErrInvalidEventData = errors.New("invalid event data")

// ErrUnknownEventType is returned when decoding an event type this package does not define.
var ErrUnknownEventType = errors.New("unknown event type")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of any event in this package.
func Validate(event any) error {
	if err := validate.Struct(event); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEventData, err)
	}

	return nil
}

// New returns an empty pointer to the struct registered for eventType.
func New(eventType EventType) (any, error) {
	switch eventType {
	case CustomerVisitEvent:
		return &CustomerVisit{}, nil
	case CustomerRegistrationEvent:
		return &CustomerRegistration{}, nil
	case PaymentCompletedEvent:
		return &PaymentCompleted{}, nil
	case WorkflowExecutionStartedEvent:
		return &WorkflowExecutionStarted{}, nil
	case WorkflowExecutionCompletedEvent:
		return &WorkflowExecutionCompleted{}, nil
	case WorkflowExecutionFailedEvent:
		return &WorkflowExecutionFailed{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
}

// Decode unmarshals payload into the struct registered for eventType and validates it.
func Decode(eventType EventType, payload []byte) (any, error) {
	event, err := New(eventType)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEventData, err)
	}

	if err := Validate(event); err != nil {
		return nil, err
	}

	return event, nil
}

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}
