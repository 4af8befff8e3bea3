// Package models defines the core domain models for shop marketing workflows.
package models

import (
	"encoding/json"
	"slices"
	"time"
)

// TriggerType identifies the business condition that makes a workflow eligible to run.
type TriggerType string

const (
	TriggerNewCustomerFollowup   TriggerType = "new-customer-followup"
	TriggerVisitCycle            TriggerType = "visit-cycle"
	TriggerSpecificTreatment     TriggerType = "specific-treatment"
	TriggerVisitMilestone        TriggerType = "visit-milestone"
	TriggerAmountMilestone       TriggerType = "amount-milestone"
	TriggerBirthday              TriggerType = "birthday"
	TriggerFirstVisitAnniversary TriggerType = "first-visit-anniversary"
	TriggerChurnRiskHigh         TriggerType = "churn-risk-high"
)

var triggerTypes = []TriggerType{
	TriggerNewCustomerFollowup,
	TriggerVisitCycle,
	TriggerSpecificTreatment,
	TriggerVisitMilestone,
	TriggerAmountMilestone,
	TriggerBirthday,
	TriggerFirstVisitAnniversary,
	TriggerChurnRiskHigh,
}

func (t TriggerType) Valid() bool {
	return slices.Contains(triggerTypes, t)
}

// TimeDriven reports whether the trigger has a condition the scheduler can
// evaluate over the whole customer base. The other types only fire from a
// domain event for the customer that caused it.
func (t TriggerType) TimeDriven() bool {
	switch t {
	case TriggerVisitCycle, TriggerBirthday, TriggerFirstVisitAnniversary, TriggerChurnRiskHigh:
		return true
	default:
		return false
	}
}

// ActionType identifies what a workflow does for its targets.
type ActionType string

const (
	ActionMessageOnly        ActionType = "MESSAGE_ONLY"
	ActionCouponMessage      ActionType = "COUPON_MESSAGE"
	ActionSystemNotification ActionType = "SYSTEM_NOTIFICATION"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionMessageOnly, ActionCouponMessage, ActionSystemNotification:
		return true
	default:
		return false
	}
}

// TargetFilters narrows the customers a scheduled workflow acts on.
type TargetFilters struct {
	GradeIDs                      []string `json:"grade_ids,omitempty"`
	TagIDs                        []string `json:"tag_ids,omitempty"`
	ExcludeDormantCustomers       bool     `json:"exclude_dormant_customers"`
	DormantPeriodMonths           int      `json:"dormant_period_months"`
	ExcludeRecentMessageReceivers bool     `json:"exclude_recent_message_receivers"`
	RecentMessagePeriodDays       int      `json:"recent_message_period_days"`
}

// Workflow is a persisted automation rule owned by a shop.
type Workflow struct {
	ID            string          `json:"id"`
	ShopID        string          `json:"shop_id"        validate:"required"`
	StaffID       string          `json:"staff_id"`
	Title         string          `json:"title"          validate:"required,min=1"`
	TriggerType   TriggerType     `json:"trigger_type"   validate:"required"`
	TriggerConfig json.RawMessage `json:"trigger_config,omitempty"`
	ActionType    ActionType      `json:"action_type"    validate:"required"`
	ActionConfig  json.RawMessage `json:"action_config,omitempty"`
	Filters       TargetFilters   `json:"filters"`
	IsActive      bool            `json:"is_active"`

	ExecutionCount  int64      `json:"execution_count"`
	SuccessCount    int64      `json:"success_count"`
	FailureCount    int64      `json:"failure_count"`
	LastExecutedAt  *time.Time `json:"last_executed_at,omitempty"`
	NextScheduledAt *time.Time `json:"next_scheduled_at,omitempty"`

	// Version is bumped on every save and guards concurrent writers.
	Version int64 `json:"version"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// CanExecute reports whether the workflow is active and not soft deleted.
func (w *Workflow) CanExecute() bool {
	return w.IsActive && w.DeletedAt == nil
}

// RecordExecution counts one execution attempt. Target-level counts live on the
// WorkflowExecution record, never here.
func (w *Workflow) RecordExecution(success bool, at time.Time) {
	w.ExecutionCount++

	if success {
		w.SuccessCount++
	} else {
		w.FailureCount++
	}

	executedAt := at
	w.LastExecutedAt = &executedAt
}

// ScheduleNext sets NextScheduledAt from the trigger-type cadence policy.
// Event-driven workflows are never due on the time path, so their
// NextScheduledAt is cleared and the zero time returned.
func (w *Workflow) ScheduleNext(from time.Time) time.Time {
	if !w.TriggerType.TimeDriven() {
		w.NextScheduledAt = nil

		return time.Time{}
	}

	next := from.Add(RescheduleInterval(w.TriggerType))
	w.NextScheduledAt = &next

	return next
}

// RescheduleInterval is the coarse re-evaluation cadence per trigger type.
func RescheduleInterval(triggerType TriggerType) time.Duration {
	switch triggerType {
	case TriggerVisitCycle, TriggerBirthday:
		return 24 * time.Hour
	case TriggerChurnRiskHigh:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// IsDue reports whether the workflow's NextScheduledAt has elapsed at now.
func (w *Workflow) IsDue(now time.Time) bool {
	return w.NextScheduledAt != nil && !w.NextScheduledAt.After(now)
}

// Clone returns a deep copy suitable for re-applying a run's changes after a
// concurrent write was detected.
func (w *Workflow) Clone() *Workflow {
	clone := *w
	clone.TriggerConfig = slices.Clone(w.TriggerConfig)
	clone.ActionConfig = slices.Clone(w.ActionConfig)
	clone.Filters.GradeIDs = slices.Clone(w.Filters.GradeIDs)
	clone.Filters.TagIDs = slices.Clone(w.Filters.TagIDs)
	clone.LastExecutedAt = cloneTime(w.LastExecutedAt)
	clone.NextScheduledAt = cloneTime(w.NextScheduledAt)
	clone.DeletedAt = cloneTime(w.DeletedAt)

	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}
