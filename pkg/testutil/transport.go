package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dukex/marketflow/pkg/protocol"
)

// ErrSendRefused is returned by Transport for customers listed in Fail.
var ErrSendRefused = errors.New("send refused")

// Send is one call recorded by Transport.
type Send struct {
	ShopID     string
	CustomerID string
	TemplateID string
	CouponCode string
	SendAt     time.Time
}

// Transport is a recording protocol.MessageTransport. Customers in Fail are refused.
type Transport struct {
	mu            sync.Mutex
	Fail          map[string]bool
	Sends         []Send
	Notifications []protocol.StaffNotification
	NotifyResult  bool
}

func NewTransport(failing ...string) *Transport {
	fail := make(map[string]bool, len(failing))
	for _, id := range failing {
		fail[id] = true
	}

	return &Transport{Fail: fail, NotifyResult: true}
}

func (t *Transport) SendTemplate(_ context.Context, shopID, customerID, templateID string, sendAt time.Time) (bool, error) {
	return t.record(Send{ShopID: shopID, CustomerID: customerID, TemplateID: templateID, SendAt: sendAt})
}

func (t *Transport) SendTemplateWithCoupon(_ context.Context, shopID, customerID, templateID, couponCode string, sendAt time.Time) (bool, error) {
	return t.record(Send{ShopID: shopID, CustomerID: customerID, TemplateID: templateID, CouponCode: couponCode, SendAt: sendAt})
}

func (t *Transport) CreateStaffNotification(_ context.Context, notification protocol.StaffNotification) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Notifications = append(t.Notifications, notification)

	return t.NotifyResult, nil
}

// SendCount is the number of customer sends attempted.
func (t *Transport) SendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.Sends)
}

func (t *Transport) record(send Send) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Sends = append(t.Sends, send)

	if t.Fail[send.CustomerID] {
		return false, ErrSendRefused
	}

	return true, nil
}

// Coupons is an in-memory protocol.CouponRegistry keyed by shop and code.
type Coupons struct {
	mu    sync.Mutex
	valid map[string]bool
	calls int
}

func NewCoupons() *Coupons {
	return &Coupons{valid: make(map[string]bool)}
}

// Set marks a coupon valid or not for a shop.
func (c *Coupons) Set(shopID, code string, valid bool) *Coupons {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid[shopID+"/"+code] = valid

	return c
}

func (c *Coupons) IsValid(_ context.Context, shopID, code string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++

	return c.valid[shopID+"/"+code], nil
}

// Calls reports how many lookups were made.
func (c *Coupons) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls
}
