// Package tracking persists the lifecycle of workflow executions and announces
// each transition on the event bus.
package tracking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/marketflow/pkg/eventbus"
	"github.com/dukex/marketflow/pkg/events"
	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Tracker owns WorkflowExecution records from SCHEDULED to a terminal state.
type Tracker struct {
	executions persistence.ExecutionRepository
	publisher  eventbus.EventPublisher
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewTracker returns a tracker. publisher may be nil, in which case no
// lifecycle events are emitted.
func NewTracker(executions persistence.ExecutionRepository, publisher eventbus.EventPublisher, clock clockwork.Clock, logger *slog.Logger) *Tracker {
	return &Tracker{
		executions: executions,
		publisher:  publisher,
		clock:      clock,
		logger:     logger.With("module", "tracking"),
	}
}

// Start records a new execution and moves it to RUNNING. customerID is empty
// for batch runs.
func (t *Tracker) Start(ctx context.Context, workflow *models.Workflow, source models.ExecutionSource, customerID string) (*models.WorkflowExecution, error) {
	execution := models.NewWorkflowExecution(newExecutionID(), workflow, source, t.clock.Now())
	execution.CustomerID = customerID

	if err := t.executions.Save(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to record scheduled execution: %w", err)
	}

	if err := t.commit(ctx, execution, func(next *models.WorkflowExecution) error {
		return next.Transition(models.ExecutionStatusRunning)
	}); err != nil {
		return nil, fmt.Errorf("failed to mark execution %s running: %w", execution.ID, err)
	}

	t.publish(ctx, execution, &events.WorkflowExecutionStarted{
		ExecutionEvent: t.executionEvent(execution, events.WorkflowExecutionStartedEvent),
	})

	return execution, nil
}

// Complete moves a RUNNING execution to COMPLETED with its target counts.
func (t *Tracker) Complete(ctx context.Context, execution *models.WorkflowExecution, targetCount, success, failure int) error {
	now := t.clock.Now()

	if err := t.commit(ctx, execution, func(next *models.WorkflowExecution) error {
		return next.Complete(targetCount, success, failure, now)
	}); err != nil {
		return fmt.Errorf("failed to record completed execution %s: %w", execution.ID, err)
	}

	t.publish(ctx, execution, &events.WorkflowExecutionCompleted{
		ExecutionEvent: t.executionEvent(execution, events.WorkflowExecutionCompletedEvent),
		TargetCount:    targetCount,
		SuccessCount:   success,
		FailureCount:   failure,
		Duration:       now.Sub(execution.StartedAt),
	})

	return nil
}

// Fail moves the execution to FAILED keeping reason.
func (t *Tracker) Fail(ctx context.Context, execution *models.WorkflowExecution, reason string) error {
	now := t.clock.Now()

	if err := t.commit(ctx, execution, func(next *models.WorkflowExecution) error {
		return next.Fail(reason, now)
	}); err != nil {
		return fmt.Errorf("failed to record failed execution %s: %w", execution.ID, err)
	}

	t.publish(ctx, execution, &events.WorkflowExecutionFailed{
		ExecutionEvent: t.executionEvent(execution, events.WorkflowExecutionFailedEvent),
		Error:          reason,
		Duration:       now.Sub(execution.StartedAt),
	})

	return nil
}

// commit applies transition to a copy and adopts it only once the copy is
// stored, so a failed save leaves execution in its last persisted state.
func (t *Tracker) commit(ctx context.Context, execution *models.WorkflowExecution, transition func(*models.WorkflowExecution) error) error {
	next := *execution

	if err := transition(&next); err != nil {
		return err
	}

	if err := t.executions.Save(ctx, &next); err != nil {
		return err
	}

	*execution = next

	return nil
}

func (t *Tracker) executionEvent(execution *models.WorkflowExecution, eventType events.EventType) events.ExecutionEvent {
	return events.ExecutionEvent{
		BaseEvent: events.BaseEvent{
			ID:        uuid.NewString(),
			Type:      eventType,
			Timestamp: t.clock.Now(),
		},
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		ShopID:      execution.ShopID,
		Source:      string(execution.Source),
		CustomerID:  execution.CustomerID,
	}
}

// publish is best effort; the stored record is the source of truth.
func (t *Tracker) publish(ctx context.Context, execution *models.WorkflowExecution, event eventbus.Event) {
	if t.publisher == nil {
		return
	}

	if err := t.publisher.Publish(ctx, execution.WorkflowID, event); err != nil {
		t.logger.WarnContext(ctx, "Failed to publish execution event",
			"execution_id", execution.ID,
			"workflow_id", execution.WorkflowID,
			"event_type", event.GetType(),
			"error", err,
		)
	}
}

func newExecutionID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}

	return uuid.NewString()
}
