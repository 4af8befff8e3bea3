package protocol

import (
	"context"
	"time"
)

// StaffNotification is a single staff-facing notice produced by a workflow run.
type StaffNotification struct {
	ShopID      string `json:"shop_id"`
	StaffID     string `json:"staff_id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Level       string `json:"level"`
	TargetCount int    `json:"target_count"`
}

// MessageTransport delivers customer messages and staff notifications.
// A false result with a nil error means the gateway refused the message.
type MessageTransport interface {
	SendTemplate(ctx context.Context, shopID, customerID, templateID string, sendAt time.Time) (bool, error)
	SendTemplateWithCoupon(ctx context.Context, shopID, customerID, templateID, couponCode string, sendAt time.Time) (bool, error)
	CreateStaffNotification(ctx context.Context, notification StaffNotification) (bool, error)
}
