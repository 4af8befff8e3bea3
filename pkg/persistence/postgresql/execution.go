package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/persistence"
)

const executionColumns = `
			id
		  , workflow_id
		  , shop_id
		  , status
		  , source
		  , trigger_type
		  , action_type
		  , customer_id
		  , target_count
		  , success_count
		  , failure_count
		  , started_at
		  , completed_at
		  , error_message`

// ExecutionRepository handles workflow execution database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Save upserts an execution record.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , target_count = EXCLUDED.target_count
		  , success_count = EXCLUDED.success_count
		  , failure_count = EXCLUDED.failure_count
		  , completed_at = EXCLUDED.completed_at
		  , error_message = EXCLUDED.error_message`,
		execution.ID, execution.WorkflowID, execution.ShopID, execution.Status, execution.Source,
		execution.TriggerType, execution.ActionType, execution.CustomerID,
		execution.TargetCount, execution.SuccessCount, execution.FailureCount,
		execution.StartedAt, execution.CompletedAt, execution.ErrorMessage,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// GetByWorkflow returns a workflow's executions, most recent first.
func (r *ExecutionRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowExecution, error) {
	var execution models.WorkflowExecution

	err := scanner.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.ShopID,
		&execution.Status,
		&execution.Source,
		&execution.TriggerType,
		&execution.ActionType,
		&execution.CustomerID,
		&execution.TargetCount,
		&execution.SuccessCount,
		&execution.FailureCount,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	return &execution, nil
}
