package dispatch

import (
	"context"

	"github.com/dukex/marketflow/pkg/models"
)

func (d *Dispatcher) targetFailureLogger(ctx context.Context, workflow *models.Workflow) func(string, error) {
	return func(customerID string, err error) {
		d.logger.WarnContext(ctx, "Target send failed",
			"workflow_id", workflow.ID,
			"shop_id", workflow.ShopID,
			"customer_id", customerID,
			"error", err,
		)
	}
}
