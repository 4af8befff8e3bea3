// Package web exposes the marketflow operations API: health, execution history,
// manual runs and domain event ingestion.
package web

import "github.com/dukex/marketflow/pkg/models"

// RunWorkflowRequest is the optional body of POST /workflows/:id/run. With a
// customer id the run skips targeting and acts on that customer only.
type RunWorkflowRequest struct {
	CustomerID string `json:"customer_id" validate:"omitempty,min=1,max=128"`
}

type ExecutionsResponse struct {
	WorkflowID string                      `json:"workflow_id"`
	Executions []*models.WorkflowExecution `json:"executions"`
	TotalCount int                         `json:"total_count"`
}

type EventAcceptedResponse struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}
