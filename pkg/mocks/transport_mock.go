package mocks

import (
	"context"
	"time"

	"github.com/dukex/marketflow/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockMessageTransport is a mock implementation of protocol.MessageTransport interface.
type MockMessageTransport struct {
	mock.Mock
}

func (m *MockMessageTransport) SendTemplate(ctx context.Context, shopID, customerID, templateID string, sendAt time.Time) (bool, error) {
	args := m.Called(ctx, shopID, customerID, templateID, sendAt)

	return args.Bool(0), args.Error(1)
}

func (m *MockMessageTransport) SendTemplateWithCoupon(ctx context.Context, shopID, customerID, templateID, couponCode string, sendAt time.Time) (bool, error) {
	args := m.Called(ctx, shopID, customerID, templateID, couponCode, sendAt)

	return args.Bool(0), args.Error(1)
}

func (m *MockMessageTransport) CreateStaffNotification(ctx context.Context, notification protocol.StaffNotification) (bool, error) {
	args := m.Called(ctx, notification)

	return args.Bool(0), args.Error(1)
}

// MockCouponRegistry is a mock implementation of protocol.CouponRegistry interface.
type MockCouponRegistry struct {
	mock.Mock
}

func (m *MockCouponRegistry) IsValid(ctx context.Context, shopID, couponCode string) (bool, error) {
	args := m.Called(ctx, shopID, couponCode)

	return args.Bool(0), args.Error(1)
}
