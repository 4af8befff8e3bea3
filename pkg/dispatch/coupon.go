package dispatch

import (
	"context"
	"fmt"

	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/protocol"
)

type couponHandler struct {
	dispatcher *Dispatcher
	transport  protocol.MessageTransport
	coupons    protocol.CouponRegistry
}

// Handle checks the coupon once for the batch; an unusable coupon fails every
// target without contacting the transport.
func (h *couponHandler) Handle(ctx context.Context, workflow *models.Workflow, spec models.ActionSpec, targets []string) (Result, error) {
	action, ok := spec.(models.CouponMessageAction)
	if !ok {
		return Result{}, ErrInvalidActionConfig
	}

	valid, err := h.coupons.IsValid(ctx, workflow.ShopID, action.CouponCode)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: lookup failed: %w", ErrCouponInvalid, action.CouponCode, err)
	}

	if !valid {
		return Result{}, fmt.Errorf("%w: %s", ErrCouponInvalid, action.CouponCode)
	}

	sendAt := models.ResolveSendTime(action.SendTime, h.dispatcher.now())

	return h.dispatcher.sender.each(ctx, workflow.ActionType, targets,
		func(ctx context.Context, customerID string) (bool, error) {
			return h.transport.SendTemplateWithCoupon(ctx, workflow.ShopID, customerID, action.TemplateID, action.CouponCode, sendAt)
		},
		h.dispatcher.targetFailureLogger(ctx, workflow),
	), nil
}
