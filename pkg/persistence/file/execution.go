package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/persistence"
)

// ExecutionRepository handles execution record file operations.
type ExecutionRepository struct {
	dir string
	mu  sync.RWMutex
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{dir: filepath.Join(root, "executions")}
}

// Save creates or overwrites an execution record.
func (er *ExecutionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	if err := writeJSON(er.dir, execution.ID, execution); err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}

	return nil
}

// GetByID retrieves an execution record by its ID.
func (er *ExecutionRepository) GetByID(_ context.Context, executionID string) (*models.WorkflowExecution, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	return er.load(executionID)
}

func (er *ExecutionRepository) load(executionID string) (*models.WorkflowExecution, error) {
	if err := validateID(executionID); err != nil {
		return nil, persistence.NewExecutionError("GetByID", executionID, err)
	}

	var execution models.WorkflowExecution

	err := readJSON(er.dir, executionID, &execution)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewExecutionError("GetByID", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", executionID, err)
	}

	return &execution, nil
}

// GetByWorkflow returns a workflow's executions, most recent first.
func (er *ExecutionRepository) GetByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	ids, err := listIDs(er.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.WorkflowExecution, 0)

	for _, id := range ids {
		execution, err := er.load(id)
		if err != nil {
			return nil, err
		}

		if execution.WorkflowID == workflowID {
			executions = append(executions, execution)
		}
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	return executions, nil
}
