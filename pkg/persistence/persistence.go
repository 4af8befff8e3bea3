// Package persistence provides the storage abstraction for workflows and their executions.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/marketflow/pkg/models"
)

// Persistence groups the repositories the engine reads and writes.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	DeliveryRepository() DeliveryRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflows. Save is a compare-and-swap on
// Workflow.Version: it fails with ErrVersionConflict when the stored version
// differs from the one the caller loaded, and bumps Version on success.
type WorkflowRepository interface {
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error

	// FindScheduled returns executable workflows whose NextScheduledAt is at or before now.
	FindScheduled(ctx context.Context, now time.Time) ([]*models.Workflow, error)

	// FindByTriggerTypeAndShop returns executable workflows of one trigger type in one shop.
	FindByTriggerTypeAndShop(ctx context.Context, triggerType models.TriggerType, shopID string) ([]*models.Workflow, error)

	// FindByTriggerType returns executable workflows of one trigger type across shops.
	FindByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error)
}

// ExecutionRepository stores execution records. Records are never deleted.
type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	GetByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)
}

// DeliveryRepository remembers which customers a workflow reached on each
// local calendar day (formatted as time.DateOnly).
type DeliveryRepository interface {
	// Claim records customerIDs for the workflow and day and returns, in input
	// order, the ones that had not been claimed for that day yet.
	Claim(ctx context.Context, workflowID, day string, customerIDs []string) ([]string, error)
}
