package dispatch

import (
	"context"
	"fmt"

	"github.com/dukex/marketflow/pkg/metrics"
	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/protocol"
	"github.com/dukex/marketflow/pkg/template"
)

type notificationHandler struct {
	dispatcher *Dispatcher
	transport  protocol.MessageTransport
}

// Handle creates one staff notification for the whole batch, so the result is
// always {1,0} or {0,1} whatever the target count.
func (h *notificationHandler) Handle(ctx context.Context, workflow *models.Workflow, spec models.ActionSpec, targets []string) (Result, error) {
	action, ok := spec.(models.NotificationAction)
	if !ok {
		return Result{}, ErrInvalidActionConfig
	}

	data := template.NotificationData{
		WorkflowID:    workflow.ID,
		WorkflowTitle: workflow.Title,
		ShopID:        workflow.ShopID,
		TriggerType:   string(workflow.TriggerType),
		TargetCount:   len(targets),
		Now:           h.dispatcher.now(),
	}

	title := h.render(ctx, workflow, action.Title, data)
	if title == "" {
		title = workflow.Title
	}

	content := h.render(ctx, workflow, action.Content, data)
	if content == "" {
		content = fmt.Sprintf("%d customers matched workflow %q", len(targets), workflow.Title)
	}

	notification := protocol.StaffNotification{
		ShopID:      workflow.ShopID,
		StaffID:     workflow.StaffID,
		Title:       title,
		Content:     content,
		Level:       string(action.Level),
		TargetCount: len(targets),
	}

	ok, err := h.dispatcher.sender.sendOne(ctx, workflow.StaffID, func(ctx context.Context, _ string) (bool, error) {
		return h.transport.CreateStaffNotification(ctx, notification)
	})
	if !ok {
		metrics.DispatchTargetsTotal.WithLabelValues(string(workflow.ActionType), "failure").Inc()
		h.dispatcher.logger.WarnContext(ctx, "Staff notification failed",
			"workflow_id", workflow.ID,
			"staff_id", workflow.StaffID,
			"error", err,
		)

		return Result{Success: 0, Failure: 1}, nil
	}

	metrics.DispatchTargetsTotal.WithLabelValues(string(workflow.ActionType), "success").Inc()

	return Result{Success: 1, Failure: 0}, nil
}

// render falls back to the raw text when the staff-written template is broken.
func (h *notificationHandler) render(ctx context.Context, workflow *models.Workflow, text string, data template.NotificationData) string {
	rendered, err := template.Render(text, data)
	if err != nil {
		h.dispatcher.logger.WarnContext(ctx, "Invalid notification template",
			"workflow_id", workflow.ID,
			"error", err,
		)

		return text
	}

	return rendered
}
