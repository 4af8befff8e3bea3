package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/google/uuid"
)

const workflowColumns = `
			id
		  , shop_id
		  , staff_id
		  , title
		  , trigger_type
		  , trigger_config
		  , action_type
		  , action_config
		  , filters
		  , is_active
		  , execution_count
		  , success_count
		  , failure_count
		  , last_executed_at
		  , next_scheduled_at
		  , version
		  , created_at
		  , updated_at
		  , deleted_at`

// executableClause matches models.Workflow.CanExecute.
const executableClause = `is_active AND deleted_at IS NULL`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// GetAll returns all workflows, soft deleted ones included.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	return r.query(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY created_at`)
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)

	workflow, err := r.scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// Save inserts a new workflow (Version 0) or updates an existing one only when
// the stored version still equals workflow.Version.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	createdAt := workflow.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	filtersJSON, err := json.Marshal(workflow.Filters)
	if err != nil {
		return fmt.Errorf("failed to marshal filters: %w", err)
	}

	var result sql.Result

	if workflow.Version == 0 {
		result, err = r.db.ExecContext(ctx, `
			INSERT INTO workflows (`+workflowColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16, $17, $18)
			ON CONFLICT (id) DO NOTHING`,
			workflow.ID, workflow.ShopID, workflow.StaffID, workflow.Title,
			workflow.TriggerType, nullableJSON(workflow.TriggerConfig),
			workflow.ActionType, nullableJSON(workflow.ActionConfig), filtersJSON,
			workflow.IsActive, workflow.ExecutionCount, workflow.SuccessCount, workflow.FailureCount,
			workflow.LastExecutedAt, workflow.NextScheduledAt,
			createdAt, now, workflow.DeletedAt,
		)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE workflows SET
				shop_id = $2
			  , staff_id = $3
			  , title = $4
			  , trigger_type = $5
			  , trigger_config = $6
			  , action_type = $7
			  , action_config = $8
			  , filters = $9
			  , is_active = $10
			  , execution_count = $11
			  , success_count = $12
			  , failure_count = $13
			  , last_executed_at = $14
			  , next_scheduled_at = $15
			  , updated_at = $16
			  , deleted_at = $17
			  , version = version + 1
			WHERE id = $1 AND version = $18`,
			workflow.ID, workflow.ShopID, workflow.StaffID, workflow.Title,
			workflow.TriggerType, nullableJSON(workflow.TriggerConfig),
			workflow.ActionType, nullableJSON(workflow.ActionConfig), filtersJSON,
			workflow.IsActive, workflow.ExecutionCount, workflow.SuccessCount, workflow.FailureCount,
			workflow.LastExecutedAt, workflow.NextScheduledAt,
			now, workflow.DeletedAt, workflow.Version,
		)
	}

	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check saved workflow %s: %w", workflow.ID, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Save", workflow.ID, persistence.ErrVersionConflict)
	}

	workflow.CreatedAt = createdAt
	workflow.UpdatedAt = now
	workflow.Version++

	return nil
}

func (r *WorkflowRepository) FindScheduled(ctx context.Context, now time.Time) ([]*models.Workflow, error) {
	return r.query(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE `+executableClause+` AND next_scheduled_at <= $1
		ORDER BY next_scheduled_at`, now)
}

func (r *WorkflowRepository) FindByTriggerTypeAndShop(ctx context.Context, triggerType models.TriggerType, shopID string) ([]*models.Workflow, error) {
	return r.query(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE `+executableClause+` AND trigger_type = $1 AND shop_id = $2
		ORDER BY created_at`, triggerType, shopID)
}

func (r *WorkflowRepository) FindByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	return r.query(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE `+executableClause+` AND trigger_type = $1
		ORDER BY shop_id, created_at`, triggerType)
}

func (r *WorkflowRepository) query(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) scanWorkflow(scanner interface {
	Scan(dest ...any) error
}) (*models.Workflow, error) {
	var (
		workflow                                 models.Workflow
		triggerConfig, actionConfig, filtersJSON []byte
	)

	err := scanner.Scan(
		&workflow.ID,
		&workflow.ShopID,
		&workflow.StaffID,
		&workflow.Title,
		&workflow.TriggerType,
		&triggerConfig,
		&workflow.ActionType,
		&actionConfig,
		&filtersJSON,
		&workflow.IsActive,
		&workflow.ExecutionCount,
		&workflow.SuccessCount,
		&workflow.FailureCount,
		&workflow.LastExecutedAt,
		&workflow.NextScheduledAt,
		&workflow.Version,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&workflow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.TriggerConfig = triggerConfig
	workflow.ActionConfig = actionConfig

	if filtersJSON != nil {
		err := json.Unmarshal(filtersJSON, &workflow.Filters)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal filters: %w", err)
		}
	}

	return &workflow, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}

	return []byte(raw)
}
