package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	dir string
	mu  sync.RWMutex
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{dir: filepath.Join(root, "workflows")}
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	return wr.load(workflowID)
}

func (wr *WorkflowRepository) load(workflowID string) (*models.Workflow, error) {
	if err := validateID(workflowID); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", workflowID, err)
	}

	var workflow models.Workflow

	err := readJSON(wr.dir, workflowID, &workflow)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewWorkflowError("GetByID", workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	return &workflow, nil
}

// GetAll returns every stored workflow, soft deleted ones included, oldest first.
func (wr *WorkflowRepository) GetAll(_ context.Context) ([]*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	return wr.loadAll()
}

func (wr *WorkflowRepository) loadAll() ([]*models.Workflow, error) {
	ids, err := listIDs(wr.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := wr.load(id)
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// Save writes the workflow if its Version matches the stored one.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	if err := validateID(workflow.ID); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	var storedVersion int64

	stored, err := wr.load(workflow.ID)

	switch {
	case err == nil:
		storedVersion = stored.Version
	case !persistence.IsWorkflowNotFound(err):
		return err
	}

	if storedVersion != workflow.Version {
		return persistence.NewWorkflowError("Save", workflow.ID, persistence.ErrVersionConflict)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now
	workflow.Version++

	if err := writeJSON(wr.dir, workflow.ID, workflow); err != nil {
		workflow.Version--

		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	return nil
}

func (wr *WorkflowRepository) FindScheduled(_ context.Context, now time.Time) ([]*models.Workflow, error) {
	return wr.filter(func(w *models.Workflow) bool {
		return w.IsDue(now)
	})
}

func (wr *WorkflowRepository) FindByTriggerTypeAndShop(_ context.Context, triggerType models.TriggerType, shopID string) ([]*models.Workflow, error) {
	return wr.filter(func(w *models.Workflow) bool {
		return w.TriggerType == triggerType && w.ShopID == shopID
	})
}

func (wr *WorkflowRepository) FindByTriggerType(_ context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	return wr.filter(func(w *models.Workflow) bool {
		return w.TriggerType == triggerType
	})
}

// filter returns executable workflows matching keep.
func (wr *WorkflowRepository) filter(keep func(*models.Workflow) bool) ([]*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	all, err := wr.loadAll()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Workflow, 0)

	for _, workflow := range all {
		if workflow.CanExecute() && keep(workflow) {
			matched = append(matched, workflow)
		}
	}

	return matched, nil
}
