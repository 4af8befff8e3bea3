package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/lib/pq"
)

// DeliveryRepository claims (workflow, day, customer) rows; the primary key
// makes a second claim for the same day a no-op.
type DeliveryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewDeliveryRepository(db *sql.DB, logger *slog.Logger) *DeliveryRepository {
	return &DeliveryRepository{db: db, logger: logger}
}

func (r *DeliveryRepository) Claim(ctx context.Context, workflowID, day string, customerIDs []string) ([]string, error) {
	if len(customerIDs) == 0 {
		return []string{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		INSERT INTO workflow_deliveries (workflow_id, delivery_day, customer_id)
		SELECT $1, $2::date, customer_id
		  FROM unnest($3::text[]) AS customer_id
		ON CONFLICT DO NOTHING
		RETURNING customer_id`,
		workflowID, day, pq.Array(customerIDs),
	)
	if err != nil {
		return nil, persistence.NewWorkflowError("Claim", workflowID, err)
	}
	defer closeRows(ctx, r.logger, rows)

	fresh := make(map[string]struct{}, len(customerIDs))

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan claimed customer: %w", err)
		}

		fresh[id] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claimed customers: %w", err)
	}

	claimed := make([]string, 0, len(fresh))

	for _, id := range customerIDs {
		if _, ok := fresh[id]; ok {
			claimed = append(claimed, id)
			delete(fresh, id)
		}
	}

	return claimed, nil
}
