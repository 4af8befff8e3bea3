package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dukex/marketflow/pkg/persistence"
)

// DeliveryRepository keeps one JSON list of customer ids per workflow and day.
type DeliveryRepository struct {
	dir string
	mu  sync.Mutex
}

func NewDeliveryRepository(root string) *DeliveryRepository {
	return &DeliveryRepository{dir: filepath.Join(root, "deliveries")}
}

func (dr *DeliveryRepository) Claim(_ context.Context, workflowID, day string, customerIDs []string) ([]string, error) {
	if err := validateID(workflowID); err != nil {
		return nil, persistence.NewWorkflowError("Claim", workflowID, err)
	}

	if _, err := time.Parse(time.DateOnly, day); err != nil {
		return nil, persistence.NewWorkflowError("Claim", workflowID, fmt.Errorf("%w: day %q", persistence.ErrInvalidID, day))
	}

	dr.mu.Lock()
	defer dr.mu.Unlock()

	dir := filepath.Join(dr.dir, workflowID)

	var reached []string
	if err := readJSON(dir, day, &reached); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read deliveries of workflow %s: %w", workflowID, err)
	}

	claimed := make([]string, 0, len(customerIDs))

	for _, id := range customerIDs {
		if slices.Contains(reached, id) {
			continue
		}

		reached = append(reached, id)
		claimed = append(claimed, id)
	}

	if len(claimed) == 0 {
		return claimed, nil
	}

	if err := writeJSON(dir, day, reached); err != nil {
		return nil, fmt.Errorf("failed to save deliveries of workflow %s: %w", workflowID, err)
	}

	return claimed, nil
}
