// Package dispatch executes a workflow's configured action against its targets.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrUnsupportedAction means no handler is registered for the action type.
	ErrUnsupportedAction = errors.New("unsupported action type")

	// ErrInvalidActionConfig means the action configuration cannot be used.
	ErrInvalidActionConfig = errors.New("invalid action configuration")

	// ErrCouponInvalid means a coupon action referenced an unusable coupon.
	ErrCouponInvalid = errors.New("coupon is not valid for shop")
)

// DefaultSendTimeout bounds a single transport call.
const DefaultSendTimeout = 10 * time.Second

// Result aggregates per-target outcomes of one dispatch.
type Result struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Handler performs one action type. It receives the already parsed action spec.
type Handler interface {
	Handle(ctx context.Context, workflow *models.Workflow, spec models.ActionSpec, targets []string) (Result, error)
}

type HandlerFunc func(ctx context.Context, workflow *models.Workflow, spec models.ActionSpec, targets []string) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, workflow *models.Workflow, spec models.ActionSpec, targets []string) (Result, error) {
	return f(ctx, workflow, spec, targets)
}

type Config struct {
	// MaxConcurrency is the number of targets sent in parallel; values below 2 send sequentially.
	MaxConcurrency int
	// SendTimeout bounds each transport call; zero uses DefaultSendTimeout.
	SendTimeout time.Duration
	// Location is used to resolve "HH:MM" send times.
	Location *time.Location
}

// Dispatcher routes a workflow to the handler registered for its action type.
type Dispatcher struct {
	logger   *slog.Logger
	handlers map[models.ActionType]Handler
	clock    clockwork.Clock
	sender   *sender
	location *time.Location
}

// NewDispatcher returns a dispatcher with the three built-in action handlers registered.
func NewDispatcher(
	transport protocol.MessageTransport,
	coupons protocol.CouponRegistry,
	clock clockwork.Clock,
	logger *slog.Logger,
	config Config,
) *Dispatcher {
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultSendTimeout
	}

	if config.Location == nil {
		config.Location = time.UTC
	}

	d := &Dispatcher{
		logger:   logger.With("module", "dispatch"),
		handlers: make(map[models.ActionType]Handler),
		clock:    clock,
		location: config.Location,
		sender: &sender{
			concurrency: max(config.MaxConcurrency, 1),
			timeout:     config.SendTimeout,
		},
	}

	d.Register(models.ActionMessageOnly, &messageHandler{dispatcher: d, transport: transport})
	d.Register(models.ActionCouponMessage, &couponHandler{dispatcher: d, transport: transport, coupons: coupons})
	d.Register(models.ActionSystemNotification, &notificationHandler{dispatcher: d, transport: transport})

	return d
}

// Register installs or replaces the handler for actionType.
func (d *Dispatcher) Register(actionType models.ActionType, handler Handler) {
	d.handlers[actionType] = handler
}

// Execute runs workflow's action for targets. Per-target failures are counted,
// never returned. An error means the whole batch could not be attempted; the
// returned Result then already counts every target as failed.
func (d *Dispatcher) Execute(ctx context.Context, workflow *models.Workflow, targets []string) (Result, error) {
	batchFailure := Result{Success: 0, Failure: len(targets)}

	handler, ok := d.handlers[workflow.ActionType]
	if !ok {
		return batchFailure, fmt.Errorf("%w: %q", ErrUnsupportedAction, workflow.ActionType)
	}

	spec, err := models.ParseActionConfig(workflow.ActionType, workflow.ActionConfig)
	if err != nil {
		if errors.Is(err, models.ErrUnknownActionType) {
			return batchFailure, fmt.Errorf("%w: %w", ErrUnsupportedAction, err)
		}

		return batchFailure, fmt.Errorf("%w: %w", ErrInvalidActionConfig, err)
	}

	result, err := handler.Handle(ctx, workflow, spec, targets)
	if err != nil {
		return batchFailure, err
	}

	d.logger.DebugContext(ctx, "Dispatched action",
		"workflow_id", workflow.ID,
		"action_type", workflow.ActionType,
		"targets", len(targets),
		"success", result.Success,
		"failure", result.Failure,
	)

	return result, nil
}

func (d *Dispatcher) now() time.Time {
	return d.clock.Now().In(d.location)
}
