package dispatch

import (
	"context"

	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/protocol"
)

type messageHandler struct {
	dispatcher *Dispatcher
	transport  protocol.MessageTransport
}

func (h *messageHandler) Handle(ctx context.Context, workflow *models.Workflow, spec models.ActionSpec, targets []string) (Result, error) {
	action, ok := spec.(models.MessageAction)
	if !ok {
		return Result{}, ErrInvalidActionConfig
	}

	sendAt := models.ResolveSendTime(action.SendTime, h.dispatcher.now())

	return h.dispatcher.sender.each(ctx, workflow.ActionType, targets,
		func(ctx context.Context, customerID string) (bool, error) {
			return h.transport.SendTemplate(ctx, workflow.ShopID, customerID, action.TemplateID, sendAt)
		},
		h.dispatcher.targetFailureLogger(ctx, workflow),
	), nil
}
