// Package trigger evaluates domain events against event-driven workflows and
// runs every workflow whose condition the event satisfies.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/marketflow/pkg/events"
	"github.com/dukex/marketflow/pkg/metrics"
	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/dukex/marketflow/pkg/protocol"
	"github.com/dukex/marketflow/pkg/workflow"
)

// DefaultBufferSize is the capacity of each per-event-type channel.
const DefaultBufferSize = 256

// ErrStopped is returned by Submit once the evaluator has stopped.
var ErrStopped = errors.New("trigger evaluator stopped")

// Runner runs a workflow for one customer.
type Runner interface {
	RunForTarget(ctx context.Context, workflow *models.Workflow, customerID string) (*models.WorkflowExecution, error)
}

type condition func(ctx context.Context, spec models.TriggerSpec) (bool, error)

type Evaluator struct {
	workflows persistence.WorkflowRepository
	directory protocol.CustomerDirectory
	runner    Runner
	logger    *slog.Logger

	visits        chan *events.CustomerVisit
	registrations chan *events.CustomerRegistration
	payments      chan *events.PaymentCompleted

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewEvaluator(
	workflows persistence.WorkflowRepository,
	directory protocol.CustomerDirectory,
	runner Runner,
	logger *slog.Logger,
	bufferSize int,
) *Evaluator {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	return &Evaluator{
		workflows:     workflows,
		directory:     directory,
		runner:        runner,
		logger:        logger.With("module", "trigger_evaluator"),
		visits:        make(chan *events.CustomerVisit, bufferSize),
		registrations: make(chan *events.CustomerRegistration, bufferSize),
		payments:      make(chan *events.PaymentCompleted, bufferSize),
		stopCh:        make(chan struct{}),
	}
}

// OnCustomerVisit fires visit-cycle, specific-treatment and visit-milestone
// workflows of the visited shop. It returns the number of workflows fired.
func (e *Evaluator) OnCustomerVisit(ctx context.Context, event *events.CustomerVisit) int {
	metrics.TriggerEventsTotal.WithLabelValues(string(event.GetType())).Inc()

	fired := 0

	fired += e.evaluate(ctx, models.TriggerVisitCycle, event.ShopID, event.CustomerID,
		func(ctx context.Context, spec models.TriggerSpec) (bool, error) {
			cycle, _ := spec.(models.VisitCycleTrigger)

			return e.directory.LastVisitWithinCycle(ctx, event.ShopID, event.CustomerID, cycle.VisitCycleDays)
		})

	fired += e.evaluate(ctx, models.TriggerSpecificTreatment, event.ShopID, event.CustomerID,
		func(_ context.Context, spec models.TriggerSpec) (bool, error) {
			treatment, _ := spec.(models.SpecificTreatmentTrigger)

			return treatment.Matches(event.TreatmentID), nil
		})

	fired += e.evaluate(ctx, models.TriggerVisitMilestone, event.ShopID, event.CustomerID,
		func(ctx context.Context, spec models.TriggerSpec) (bool, error) {
			milestone, _ := spec.(models.VisitMilestoneTrigger)
			if milestone.VisitMilestone <= 0 {
				return false, nil
			}

			total, err := e.directory.TotalVisits(ctx, event.ShopID, event.CustomerID)
			if err != nil {
				return false, err
			}

			return milestone.Reached(total), nil
		})

	return fired
}

// OnCustomerRegistration fires every new-customer-followup workflow of the shop.
func (e *Evaluator) OnCustomerRegistration(ctx context.Context, event *events.CustomerRegistration) int {
	metrics.TriggerEventsTotal.WithLabelValues(string(event.GetType())).Inc()

	return e.evaluate(ctx, models.TriggerNewCustomerFollowup, event.ShopID, event.CustomerID,
		func(context.Context, models.TriggerSpec) (bool, error) {
			return true, nil
		})
}

// OnPaymentCompleted fires amount-milestone workflows whose milestone this
// payment crossed.
func (e *Evaluator) OnPaymentCompleted(ctx context.Context, event *events.PaymentCompleted) int {
	metrics.TriggerEventsTotal.WithLabelValues(string(event.GetType())).Inc()

	return e.evaluate(ctx, models.TriggerAmountMilestone, event.ShopID, event.CustomerID,
		func(ctx context.Context, spec models.TriggerSpec) (bool, error) {
			milestone, _ := spec.(models.AmountMilestoneTrigger)
			if milestone.AmountMilestone <= 0 {
				return false, nil
			}

			total, err := e.directory.TotalPaymentAmount(ctx, event.ShopID, event.CustomerID)
			if err != nil {
				return false, err
			}

			return milestone.Crossed(total, event.Amount), nil
		})
}

func (e *Evaluator) evaluate(ctx context.Context, triggerType models.TriggerType, shopID, customerID string, check condition) int {
	logger := e.logger.With("trigger_type", triggerType, "shop_id", shopID, "customer_id", customerID)

	candidates, err := e.workflows.FindByTriggerTypeAndShop(ctx, triggerType, shopID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load workflows for trigger", "error", err)

		return 0
	}

	fired := 0

	for _, wf := range candidates {
		if e.fire(ctx, logger.With("workflow_id", wf.ID), wf, customerID, check) {
			fired++
		}
	}

	return fired
}

// fire checks one workflow and runs it on a match. Errors and panics stay
// inside this workflow.
func (e *Evaluator) fire(ctx context.Context, logger *slog.Logger, wf *models.Workflow, customerID string, check condition) (fired bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Trigger evaluation panicked", "panic", fmt.Sprint(r))
		}
	}()

	spec, err := models.ParseTriggerConfig(wf.TriggerType, wf.TriggerConfig)
	if err != nil {
		logger.WarnContext(ctx, "Using default trigger configuration", "error", err)
	}

	matched, err := check(ctx, spec)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to evaluate trigger condition", "error", err)

		return false
	}

	if !matched {
		return false
	}

	metrics.TriggerMatchesTotal.WithLabelValues(string(wf.TriggerType)).Inc()
	logger.InfoContext(ctx, "Trigger condition met, running workflow")

	if _, err := e.runner.RunForTarget(ctx, wf, customerID); err != nil {
		if errors.Is(err, workflow.ErrAlreadyRunning) {
			logger.InfoContext(ctx, "Workflow busy, event run skipped")
		} else {
			logger.ErrorContext(ctx, "Workflow run failed", "error", err)
		}
	}

	return true
}

// Submit queues a decoded domain event for asynchronous evaluation. It blocks
// while the matching channel is full.
func (e *Evaluator) Submit(ctx context.Context, event any) error {
	select {
	case <-e.stopCh:
		return ErrStopped
	default:
	}

	switch ev := event.(type) {
	case *events.CustomerVisit:
		return send(ctx, e.stopCh, e.visits, ev)
	case *events.CustomerRegistration:
		return send(ctx, e.stopCh, e.registrations, ev)
	case *events.PaymentCompleted:
		return send(ctx, e.stopCh, e.payments, ev)
	default:
		return fmt.Errorf("%w: %T", events.ErrUnknownEventType, event)
	}
}

func send[T any](ctx context.Context, stopCh <-chan struct{}, ch chan<- T, event T) error {
	select {
	case ch <- event:
		return nil
	case <-stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches one consumer goroutine per event type.
func (e *Evaluator) Start(ctx context.Context) {
	e.logger.InfoContext(ctx, "Starting trigger evaluator")

	e.wg.Add(3)

	go consume(ctx, e, e.visits, e.OnCustomerVisit)
	go consume(ctx, e, e.registrations, e.OnCustomerRegistration)
	go consume(ctx, e, e.payments, e.OnPaymentCompleted)
}

func consume[T any](ctx context.Context, e *Evaluator, ch <-chan T, handle func(context.Context, T) int) {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case event := <-ch:
			handle(ctx, event)
		}
	}
}

// Stop halts the consumers and waits for in-flight evaluations to finish.
// Events still buffered are dropped.
func (e *Evaluator) Stop(ctx context.Context) {
	e.logger.InfoContext(ctx, "Stopping trigger evaluator")

	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}
