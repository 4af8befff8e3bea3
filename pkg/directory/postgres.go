// Package directory answers customer and coupon questions from the CRM's
// PostgreSQL tables. It only reads.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// HighChurnRisk is the churn_risk value the CRM's scoring job writes for at-risk customers.
const HighChurnRisk = "HIGH"

// Postgres implements protocol.CustomerDirectory and protocol.CouponRegistry.
//
// Expected tables:
//
//	customers(id, shop_id, grade_id, birthday, first_visit_at, last_activity_at, churn_risk, deleted_at)
//	customer_tags(customer_id, tag_id)
//	visits(shop_id, customer_id, visited_at)
//	payments(shop_id, customer_id, amount)
//	message_logs(shop_id, customer_id, sent_at)
//	coupons(shop_id, code, is_active, expires_at)
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgres(db *sql.DB, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, logger: logger.With("module", "directory")}
}

const liveCustomer = "c.shop_id = $1 AND c.deleted_at IS NULL"

func (p *Postgres) ListCustomerIDs(ctx context.Context, shopID string) ([]string, error) {
	return p.ids(ctx, "ListCustomerIDs",
		`SELECT c.id FROM customers c WHERE `+liveCustomer+` ORDER BY c.id`, shopID)
}

func (p *Postgres) FilterByGrades(ctx context.Context, shopID string, ids, gradeIDs []string) ([]string, error) {
	return p.ids(ctx, "FilterByGrades",
		`SELECT c.id FROM customers c
		 WHERE `+liveCustomer+` AND c.id = ANY($2) AND c.grade_id = ANY($3)`,
		shopID, pq.Array(ids), pq.Array(gradeIDs))
}

func (p *Postgres) FilterByTags(ctx context.Context, shopID string, ids, tagIDs []string) ([]string, error) {
	return p.ids(ctx, "FilterByTags",
		`SELECT c.id FROM customers c
		 WHERE `+liveCustomer+` AND c.id = ANY($2)
		   AND EXISTS (SELECT 1 FROM customer_tags t WHERE t.customer_id = c.id AND t.tag_id = ANY($3))`,
		shopID, pq.Array(ids), pq.Array(tagIDs))
}

func (p *Postgres) ExcludeDormant(ctx context.Context, shopID string, ids []string, cutoff time.Time) ([]string, error) {
	return p.ids(ctx, "ExcludeDormant",
		`SELECT c.id FROM customers c
		 WHERE `+liveCustomer+` AND c.id = ANY($2) AND c.last_activity_at >= $3`,
		shopID, pq.Array(ids), cutoff)
}

func (p *Postgres) ExcludeRecentMessageReceivers(ctx context.Context, shopID string, ids []string, cutoff time.Time) ([]string, error) {
	return p.ids(ctx, "ExcludeRecentMessageReceivers",
		`SELECT c.id FROM customers c
		 WHERE `+liveCustomer+` AND c.id = ANY($2)
		   AND NOT EXISTS (
		     SELECT 1 FROM message_logs m
		     WHERE m.shop_id = c.shop_id AND m.customer_id = c.id AND m.sent_at >= $3)`,
		shopID, pq.Array(ids), cutoff)
}

func (p *Postgres) IsBirthdayToday(ctx context.Context, shopID string, ids []string, day time.Time) ([]string, error) {
	return p.ids(ctx, "IsBirthdayToday",
		`SELECT c.id FROM customers c
		 WHERE `+liveCustomer+` AND c.id = ANY($2)
		   AND EXTRACT(MONTH FROM c.birthday) = $3 AND EXTRACT(DAY FROM c.birthday) = $4`,
		shopID, pq.Array(ids), int(day.Month()), day.Day())
}

func (p *Postgres) MatchesVisitCycle(ctx context.Context, shopID string, ids []string, cycleDays int, day time.Time) ([]string, error) {
	due := day.AddDate(0, 0, -cycleDays).Format(time.DateOnly)

	return p.ids(ctx, "MatchesVisitCycle",
		`SELECT c.id FROM customers c
		 WHERE `+liveCustomer+` AND c.id = ANY($2)
		   AND (SELECT (MAX(v.visited_at) AT TIME ZONE $4::text)::date FROM visits v
		        WHERE v.shop_id = c.shop_id AND v.customer_id = c.id) = $3::date`,
		shopID, pq.Array(ids), due, zoneName(day.Location()))
}

func (p *Postgres) IsAnniversary(ctx context.Context, shopID string, ids []string, day time.Time) ([]string, error) {
	return p.ids(ctx, "IsAnniversary",
		`SELECT c.id FROM customers c
		 WHERE `+liveCustomer+` AND c.id = ANY($2)
		   AND EXTRACT(MONTH FROM c.first_visit_at AT TIME ZONE $6::text) = $3
		   AND EXTRACT(DAY FROM c.first_visit_at AT TIME ZONE $6::text) = $4
		   AND EXTRACT(YEAR FROM c.first_visit_at AT TIME ZONE $6::text) < $5`,
		shopID, pq.Array(ids), int(day.Month()), day.Day(), day.Year(), zoneName(day.Location()))
}

func (p *Postgres) IsHighChurnRisk(ctx context.Context, shopID string, ids []string) ([]string, error) {
	return p.ids(ctx, "IsHighChurnRisk",
		`SELECT c.id FROM customers c
		 WHERE `+liveCustomer+` AND c.id = ANY($2) AND c.churn_risk = $3`,
		shopID, pq.Array(ids), HighChurnRisk)
}

func (p *Postgres) TotalVisits(ctx context.Context, shopID, customerID string) (int, error) {
	var total int

	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM visits WHERE shop_id = $1 AND customer_id = $2`,
		shopID, customerID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count visits: %w", err)
	}

	return total, nil
}

func (p *Postgres) TotalPaymentAmount(ctx context.Context, shopID, customerID string) (int64, error) {
	var total int64

	err := p.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE shop_id = $1 AND customer_id = $2`,
		shopID, customerID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum payments: %w", err)
	}

	return total, nil
}

func (p *Postgres) LastVisitWithinCycle(ctx context.Context, shopID, customerID string, cycleDays int) (bool, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT visited_at FROM visits
		 WHERE shop_id = $1 AND customer_id = $2
		 ORDER BY visited_at DESC LIMIT 2`,
		shopID, customerID)
	if err != nil {
		return false, fmt.Errorf("failed to query visits: %w", err)
	}
	defer p.closeRows(rows)

	visits := make([]time.Time, 0, 2)

	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return false, fmt.Errorf("failed to scan visit: %w", err)
		}

		visits = append(visits, at)
	}

	if err := rows.Err(); err != nil {
		return false, err
	}

	if len(visits) < 2 {
		return false, nil
	}

	return !visits[1].After(visits[0].AddDate(0, 0, -cycleDays)), nil
}

// IsValid implements protocol.CouponRegistry.
func (p *Postgres) IsValid(ctx context.Context, shopID, couponCode string) (bool, error) {
	var valid bool

	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM coupons
		   WHERE shop_id = $1 AND code = $2 AND is_active
		     AND (expires_at IS NULL OR expires_at > NOW()))`,
		shopID, couponCode).Scan(&valid)
	if err != nil {
		return false, fmt.Errorf("failed to check coupon %s: %w", couponCode, err)
	}

	return valid, nil
}

func (p *Postgres) ids(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer p.closeRows(rows)

	ids := make([]string, 0)

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: failed to scan customer id: %w", op, err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return ids, nil
}

func (p *Postgres) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		p.logger.Error("Failed to close rows", "error", err)
	}
}

func zoneName(location *time.Location) string {
	if location == nil || location == time.Local {
		return "UTC"
	}

	return location.String()
}
