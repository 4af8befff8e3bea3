// Package testutil provides test data builders and in-memory collaborators for testing.
package testutil

import (
	"encoding/json"

	"github.com/dukex/marketflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestWorkflow creates an active MESSAGE_ONLY workflow with default values that can be overridden.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	workflow := &models.Workflow{
		ID:           uuid.New().String(),
		ShopID:       "shop-1",
		StaffID:      "staff-1",
		Title:        "Test Workflow",
		TriggerType:  models.TriggerBirthday,
		ActionType:   models.ActionMessageOnly,
		ActionConfig: json.RawMessage(`{"templateId":"tpl-1","sendTime":"IMMEDIATE"}`),
		IsActive:     true,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithShop sets the owning shop.
func WithShop(shopID string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.ShopID = shopID
	}
}

// WithTrigger sets the trigger type and its raw configuration.
func WithTrigger(triggerType models.TriggerType, config string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.TriggerType = triggerType
		w.TriggerConfig = rawOrNil(config)
	}
}

// WithAction sets the action type and its raw configuration.
func WithAction(actionType models.ActionType, config string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.ActionType = actionType
		w.ActionConfig = rawOrNil(config)
	}
}

// WithFilters sets the targeting filters.
func WithFilters(filters models.TargetFilters) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Filters = filters
	}
}

// Inactive marks the workflow as not active.
func Inactive() func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.IsActive = false
	}
}

func rawOrNil(config string) json.RawMessage {
	if config == "" {
		return nil
	}

	return json.RawMessage(config)
}
