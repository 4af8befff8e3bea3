package dispatch_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/marketflow/pkg/dispatch"
	"github.com/dukex/marketflow/pkg/mocks"
	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/protocol"
	"github.com/dukex/marketflow/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newDispatcher(transport protocol.MessageTransport, coupons protocol.CouponRegistry, config dispatch.Config) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(transport, coupons, clockwork.NewFakeClockAt(fixedNow), testutil.Logger(), config)
}

func TestDispatcher_MessageOnly_CountsPerTarget(t *testing.T) {
	transport := testutil.NewTransport("c3")
	d := newDispatcher(transport, testutil.NewCoupons(), dispatch.Config{MaxConcurrency: 4})

	workflow := testutil.CreateTestWorkflow()

	result, err := d.Execute(context.Background(), workflow, []string{"c1", "c2", "c3"})
	require.NoError(t, err)

	assert.Equal(t, dispatch.Result{Success: 2, Failure: 1}, result)
	assert.Equal(t, 3, transport.SendCount())

	for _, send := range transport.Sends {
		assert.Equal(t, "shop-1", send.ShopID)
		assert.Equal(t, "tpl-1", send.TemplateID)
		assert.True(t, fixedNow.Equal(send.SendAt))
	}
}

func TestDispatcher_MessageOnly_FalseWithoutErrorIsFailure(t *testing.T) {
	transport := &mocks.MockMessageTransport{}
	transport.On("SendTemplate", mock.Anything, "shop-1", "c1", "tpl-1", mock.Anything).Return(true, nil)
	transport.On("SendTemplate", mock.Anything, "shop-1", "c2", "tpl-1", mock.Anything).Return(false, nil)

	d := newDispatcher(transport, &mocks.MockCouponRegistry{}, dispatch.Config{})

	result, err := d.Execute(context.Background(), testutil.CreateTestWorkflow(), []string{"c1", "c2"})
	require.NoError(t, err)

	assert.Equal(t, dispatch.Result{Success: 1, Failure: 1}, result)
	transport.AssertExpectations(t)
}

func TestDispatcher_ScheduledSendTime(t *testing.T) {
	tests := []struct {
		name     string
		sendTime string
		expected time.Time
	}{
		{"immediate", "IMMEDIATE", fixedNow},
		{"later today", "18:00", time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)},
		{"already passed", "08:00", fixedNow},
		{"unparseable", "noon", fixedNow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := testutil.NewTransport()
			d := newDispatcher(transport, testutil.NewCoupons(), dispatch.Config{})

			workflow := testutil.CreateTestWorkflow(
				testutil.WithAction(models.ActionMessageOnly, `{"templateId":"tpl-1","sendTime":"`+tt.sendTime+`"}`),
			)

			_, err := d.Execute(context.Background(), workflow, []string{"c1"})
			require.NoError(t, err)
			require.Len(t, transport.Sends, 1)
			assert.True(t, tt.expected.Equal(transport.Sends[0].SendAt), "got %s", transport.Sends[0].SendAt)
		})
	}
}

func TestDispatcher_CouponMessage(t *testing.T) {
	t.Run("valid coupon sends with code", func(t *testing.T) {
		transport := testutil.NewTransport()
		coupons := testutil.NewCoupons().Set("shop-1", "SPRING20", true)
		d := newDispatcher(transport, coupons, dispatch.Config{MaxConcurrency: 2})

		workflow := testutil.CreateTestWorkflow(
			testutil.WithAction(models.ActionCouponMessage, `{"templateId":"tpl-2","couponCode":"SPRING20"}`),
		)

		result, err := d.Execute(context.Background(), workflow, []string{"c1", "c2"})
		require.NoError(t, err)

		assert.Equal(t, dispatch.Result{Success: 2}, result)
		assert.Equal(t, 1, coupons.Calls())

		for _, send := range transport.Sends {
			assert.Equal(t, "SPRING20", send.CouponCode)
			assert.Equal(t, "tpl-2", send.TemplateID)
		}
	})

	t.Run("invalid coupon fails every target without sending", func(t *testing.T) {
		transport := &mocks.MockMessageTransport{}
		coupons := &mocks.MockCouponRegistry{}
		coupons.On("IsValid", mock.Anything, "shop-1", "EXPIRED10").Return(false, nil).Once()

		d := newDispatcher(transport, coupons, dispatch.Config{})

		workflow := testutil.CreateTestWorkflow(
			testutil.WithAction(models.ActionCouponMessage, `{"templateId":"tpl-2","couponCode":"EXPIRED10"}`),
		)

		result, err := d.Execute(context.Background(), workflow, []string{"c1", "c2", "c3", "c4", "c5"})
		require.ErrorIs(t, err, dispatch.ErrCouponInvalid)

		assert.Equal(t, dispatch.Result{Success: 0, Failure: 5}, result)
		coupons.AssertExpectations(t)
		transport.AssertNotCalled(t, "SendTemplateWithCoupon", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("registry error is treated as invalid", func(t *testing.T) {
		transport := testutil.NewTransport()
		coupons := &mocks.MockCouponRegistry{}
		coupons.On("IsValid", mock.Anything, "shop-1", "SPRING20").Return(false, errors.New("registry down"))

		d := newDispatcher(transport, coupons, dispatch.Config{})

		workflow := testutil.CreateTestWorkflow(
			testutil.WithAction(models.ActionCouponMessage, `{"templateId":"tpl-2","couponCode":"SPRING20"}`),
		)

		result, err := d.Execute(context.Background(), workflow, []string{"c1", "c2"})
		require.ErrorIs(t, err, dispatch.ErrCouponInvalid)

		assert.Equal(t, dispatch.Result{Failure: 2}, result)
		assert.Zero(t, transport.SendCount())
	})
}

func TestDispatcher_SystemNotification(t *testing.T) {
	t.Run("one notification for the batch", func(t *testing.T) {
		transport := testutil.NewTransport()
		d := newDispatcher(transport, testutil.NewCoupons(), dispatch.Config{})

		workflow := testutil.CreateTestWorkflow(
			testutil.WithAction(models.ActionSystemNotification, `{"level":"URGENT"}`),
		)

		result, err := d.Execute(context.Background(), workflow, []string{"c1", "c2", "c3"})
		require.NoError(t, err)

		assert.Equal(t, dispatch.Result{Success: 1}, result)
		require.Len(t, transport.Notifications, 1)
		assert.Zero(t, transport.SendCount())

		notification := transport.Notifications[0]
		assert.Equal(t, "staff-1", notification.StaffID)
		assert.Equal(t, "Test Workflow", notification.Title)
		assert.Equal(t, "URGENT", notification.Level)
		assert.Equal(t, 3, notification.TargetCount)
		assert.Contains(t, notification.Content, "3 customers")
	})

	t.Run("rejected notification counts one failure", func(t *testing.T) {
		transport := testutil.NewTransport()
		transport.NotifyResult = false
		d := newDispatcher(transport, testutil.NewCoupons(), dispatch.Config{})

		workflow := testutil.CreateTestWorkflow(
			testutil.WithAction(models.ActionSystemNotification, `{"title":"Churn alert","content":"check these"}`),
		)

		result, err := d.Execute(context.Background(), workflow, []string{"c1", "c2"})
		require.NoError(t, err)

		assert.Equal(t, dispatch.Result{Failure: 1}, result)
		assert.Equal(t, "Churn alert", transport.Notifications[0].Title)
		assert.Equal(t, "INFO", transport.Notifications[0].Level)
	})

	t.Run("templated title and content", func(t *testing.T) {
		transport := testutil.NewTransport()
		d := newDispatcher(transport, testutil.NewCoupons(), dispatch.Config{})

		workflow := testutil.CreateTestWorkflow(
			testutil.WithAction(models.ActionSystemNotification,
				`{"title":"{{ .WorkflowTitle }} {{ date \"01/02\" .Now }}","content":"{{ .TargetCount }} {{ plural .TargetCount \"customer\" \"customers\" }} to call"}`),
		)

		_, err := d.Execute(context.Background(), workflow, []string{"c1"})
		require.NoError(t, err)

		require.Len(t, transport.Notifications, 1)
		assert.Equal(t, "Test Workflow 03/14", transport.Notifications[0].Title)
		assert.Equal(t, "1 customer to call", transport.Notifications[0].Content)
	})

	t.Run("broken template is sent as written", func(t *testing.T) {
		transport := testutil.NewTransport()
		d := newDispatcher(transport, testutil.NewCoupons(), dispatch.Config{})

		workflow := testutil.CreateTestWorkflow(
			testutil.WithAction(models.ActionSystemNotification, `{"content":"{{ .Nope }}"}`),
		)

		result, err := d.Execute(context.Background(), workflow, []string{"c1"})
		require.NoError(t, err)

		assert.Equal(t, dispatch.Result{Success: 1}, result)
		assert.Equal(t, "{{ .Nope }}", transport.Notifications[0].Content)
	})
}

func TestDispatcher_BatchErrors(t *testing.T) {
	targets := []string{"c1", "c2", "c3"}

	tests := []struct {
		name     string
		workflow *models.Workflow
		expected error
	}{
		{
			name:     "unsupported action type",
			workflow: testutil.CreateTestWorkflow(testutil.WithAction("CARRIER_PIGEON", `{}`)),
			expected: dispatch.ErrUnsupportedAction,
		},
		{
			name:     "message without template",
			workflow: testutil.CreateTestWorkflow(testutil.WithAction(models.ActionMessageOnly, `{"sendTime":"IMMEDIATE"}`)),
			expected: dispatch.ErrInvalidActionConfig,
		},
		{
			name:     "malformed json",
			workflow: testutil.CreateTestWorkflow(testutil.WithAction(models.ActionMessageOnly, `{"templateId":`)),
			expected: dispatch.ErrInvalidActionConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := testutil.NewTransport()
			d := newDispatcher(transport, testutil.NewCoupons(), dispatch.Config{})

			result, err := d.Execute(context.Background(), tt.workflow, targets)
			require.ErrorIs(t, err, tt.expected)

			assert.Equal(t, dispatch.Result{Failure: len(targets)}, result)
			assert.Zero(t, transport.SendCount())
		})
	}
}

func TestDispatcher_SlowAndPanickingTransport(t *testing.T) {
	transport := &mocks.MockMessageTransport{}
	transport.On("SendTemplate", mock.Anything, "shop-1", "slow", "tpl-1", mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(false, context.DeadlineExceeded)
	transport.On("SendTemplate", mock.Anything, "shop-1", "boom", "tpl-1", mock.Anything).
		Panic("gateway exploded")
	transport.On("SendTemplate", mock.Anything, "shop-1", "ok", "tpl-1", mock.Anything).Return(true, nil)

	d := newDispatcher(transport, testutil.NewCoupons(), dispatch.Config{
		MaxConcurrency: 3,
		SendTimeout:    20 * time.Millisecond,
	})

	result, err := d.Execute(context.Background(), testutil.CreateTestWorkflow(), []string{"slow", "boom", "ok"})
	require.NoError(t, err)

	assert.Equal(t, dispatch.Result{Success: 1, Failure: 2}, result)
}

type gaugeTransport struct {
	testutil.Transport
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (g *gaugeTransport) SendTemplate(ctx context.Context, shopID, customerID, templateID string, sendAt time.Time) (bool, error) {
	current := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)

	for {
		peak := g.peak.Load()
		if current <= peak || g.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	time.Sleep(5 * time.Millisecond)

	return true, nil
}

func TestDispatcher_MaxConcurrency(t *testing.T) {
	transport := &gaugeTransport{}
	d := newDispatcher(transport, testutil.NewCoupons(), dispatch.Config{MaxConcurrency: 2})

	targets := make([]string, 10)
	for i := range targets {
		targets[i] = string(rune('a' + i))
	}

	result, err := d.Execute(context.Background(), testutil.CreateTestWorkflow(), targets)
	require.NoError(t, err)

	assert.Equal(t, dispatch.Result{Success: 10}, result)
	assert.LessOrEqual(t, transport.peak.Load(), int32(2))
}

func TestDispatcher_Register(t *testing.T) {
	d := newDispatcher(testutil.NewTransport(), testutil.NewCoupons(), dispatch.Config{})

	var received []string

	d.Register(models.ActionMessageOnly, dispatch.HandlerFunc(
		func(_ context.Context, _ *models.Workflow, spec models.ActionSpec, targets []string) (dispatch.Result, error) {
			received = targets
			assert.Equal(t, "tpl-1", spec.(models.MessageAction).TemplateID)

			return dispatch.Result{Success: len(targets)}, nil
		}))

	result, err := d.Execute(context.Background(), testutil.CreateTestWorkflow(), []string{"c1"})
	require.NoError(t, err)

	assert.Equal(t, dispatch.Result{Success: 1}, result)
	assert.Equal(t, []string{"c1"}, received)
}
