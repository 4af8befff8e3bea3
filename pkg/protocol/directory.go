// Package protocol defines the capability interfaces the engine consumes from
// the rest of the CRM: customer directory, coupon registry and message transport.
package protocol

import (
	"context"
	"time"
)

// CustomerDirectory answers targeting and trigger questions about a shop's customers.
//
// Batch methods take a candidate id slice and return the subset that satisfies
// the condition; they never return ids outside the input. All methods are
// scoped to shopID.
type CustomerDirectory interface {
	// ListCustomerIDs returns every non-deleted customer of the shop.
	ListCustomerIDs(ctx context.Context, shopID string) ([]string, error)

	FilterByGrades(ctx context.Context, shopID string, ids, gradeIDs []string) ([]string, error)
	FilterByTags(ctx context.Context, shopID string, ids, tagIDs []string) ([]string, error)

	// ExcludeDormant drops customers whose last activity is older than cutoff.
	ExcludeDormant(ctx context.Context, shopID string, ids []string, cutoff time.Time) ([]string, error)

	// ExcludeRecentMessageReceivers drops customers messaged at or after cutoff.
	ExcludeRecentMessageReceivers(ctx context.Context, shopID string, ids []string, cutoff time.Time) ([]string, error)

	// IsBirthdayToday keeps customers whose birthday (month and day) falls on day.
	IsBirthdayToday(ctx context.Context, shopID string, ids []string, day time.Time) ([]string, error)

	// MatchesVisitCycle keeps customers whose last visit was exactly cycleDays before day.
	MatchesVisitCycle(ctx context.Context, shopID string, ids []string, cycleDays int, day time.Time) ([]string, error)

	// IsAnniversary keeps customers whose first visit was on this month and day in an earlier year.
	IsAnniversary(ctx context.Context, shopID string, ids []string, day time.Time) ([]string, error)

	IsHighChurnRisk(ctx context.Context, shopID string, ids []string) ([]string, error)

	TotalVisits(ctx context.Context, shopID, customerID string) (int, error)
	TotalPaymentAmount(ctx context.Context, shopID, customerID string) (int64, error)

	// LastVisitWithinCycle reports whether the visit before the most recent one
	// happened at least cycleDays ago, meaning the customer came back on cycle.
	LastVisitWithinCycle(ctx context.Context, shopID, customerID string, cycleDays int) (bool, error)
}

// CouponRegistry is a read-only view of coupon validity.
type CouponRegistry interface {
	// IsValid reports whether the coupon exists for the shop, is active and not expired.
	IsValid(ctx context.Context, shopID, couponCode string) (bool, error)
}
