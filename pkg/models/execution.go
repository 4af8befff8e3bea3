package models

import (
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle state of a WorkflowExecution.
type ExecutionStatus string

const (
	ExecutionStatusScheduled ExecutionStatus = "SCHEDULED"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// ExecutionSource records what started a run.
type ExecutionSource string

const (
	SourceSchedule ExecutionSource = "schedule"
	SourceSweep    ExecutionSource = "sweep"
	SourceEvent    ExecutionSource = "event"
	SourceManual   ExecutionSource = "manual"
)

// WorkflowExecution is one timestamped attempt to run a workflow.
type WorkflowExecution struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	ShopID       string          `json:"shop_id"`
	Status       ExecutionStatus `json:"status"`
	Source       ExecutionSource `json:"source"`
	TriggerType  TriggerType     `json:"trigger_type"`
	ActionType   ActionType      `json:"action_type"`
	CustomerID   string          `json:"customer_id,omitempty"`
	TargetCount  int             `json:"target_count"`
	SuccessCount int             `json:"success_count"`
	FailureCount int             `json:"failure_count"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

// NewWorkflowExecution snapshots the workflow into a SCHEDULED execution record.
func NewWorkflowExecution(id string, workflow *Workflow, source ExecutionSource, startedAt time.Time) *WorkflowExecution {
	return &WorkflowExecution{
		ID:          id,
		WorkflowID:  workflow.ID,
		ShopID:      workflow.ShopID,
		Status:      ExecutionStatusScheduled,
		Source:      source,
		TriggerType: workflow.TriggerType,
		ActionType:  workflow.ActionType,
		StartedAt:   startedAt,
	}
}

var allowedTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusScheduled: {ExecutionStatusRunning, ExecutionStatusFailed},
	ExecutionStatusRunning:   {ExecutionStatusCompleted, ExecutionStatusFailed},
}

// Transition moves the execution to the next state, rejecting anything that
// would reopen or skip a state.
func (e *WorkflowExecution) Transition(to ExecutionStatus) error {
	for _, allowed := range allowedTransitions[e.Status] {
		if allowed == to {
			e.Status = to

			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
}

// Complete records target-level outcome and moves to COMPLETED.
func (e *WorkflowExecution) Complete(targetCount, success, failure int, at time.Time) error {
	if err := e.Transition(ExecutionStatusCompleted); err != nil {
		return err
	}

	e.TargetCount = targetCount
	e.SuccessCount = success
	e.FailureCount = failure
	e.CompletedAt = &at

	return nil
}

// Fail moves to FAILED keeping the reason.
func (e *WorkflowExecution) Fail(reason string, at time.Time) error {
	if err := e.Transition(ExecutionStatusFailed); err != nil {
		return err
	}

	e.ErrorMessage = &reason
	e.CompletedAt = &at

	return nil
}
