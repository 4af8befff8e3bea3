package events

import "time"

type ExecutionEvent struct {
	BaseEvent

	ExecutionID string `json:"execution_id" validate:"required"`
	WorkflowID  string `json:"workflow_id"  validate:"required"`
	ShopID      string `json:"shop_id"`
	Source      string `json:"source,omitempty"`
	CustomerID  string `json:"customer_id,omitempty"`
}

type WorkflowExecutionStarted struct {
	ExecutionEvent
}

func (WorkflowExecutionStarted) GetType() EventType { return WorkflowExecutionStartedEvent }

type WorkflowExecutionCompleted struct {
	ExecutionEvent

	TargetCount  int           `json:"target_count"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	Duration     time.Duration `json:"duration"`
}

func (WorkflowExecutionCompleted) GetType() EventType { return WorkflowExecutionCompletedEvent }

type WorkflowExecutionFailed struct {
	ExecutionEvent

	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (WorkflowExecutionFailed) GetType() EventType { return WorkflowExecutionFailedEvent }
