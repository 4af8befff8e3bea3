// Package workflow orchestrates a single workflow run: guard, resolve targets,
// dispatch, track and reschedule.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/marketflow/pkg/dispatch"
	"github.com/dukex/marketflow/pkg/lock"
	"github.com/dukex/marketflow/pkg/metrics"
	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/otelhelper"
	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/dukex/marketflow/pkg/targeting"
	"github.com/dukex/marketflow/pkg/tracking"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrAlreadyRunning is returned when another run of the same workflow holds the guard.
var ErrAlreadyRunning = errors.New("workflow is already running")

// maxSaveAttempts bounds reload-and-reapply rounds after a version conflict.
const maxSaveAttempts = 3

// TargetResolver narrows a workflow's customer base.
type TargetResolver interface {
	Filter(ctx context.Context, workflow *models.Workflow, mode targeting.Mode) ([]string, error)
}

// ActionDispatcher performs a workflow's action for its targets.
type ActionDispatcher interface {
	Execute(ctx context.Context, workflow *models.Workflow, targets []string) (dispatch.Result, error)
}

type Executor struct {
	workflows  persistence.WorkflowRepository
	deliveries persistence.DeliveryRepository
	tracker    *tracking.Tracker
	targets    TargetResolver
	dispatcher ActionDispatcher
	locker     lock.Locker
	clock      clockwork.Clock
	location   *time.Location
	tracer     trace.Tracer
	logger     *slog.Logger
}

// NewExecutor wires an executor. location decides the calendar day used to
// reach each customer at most once per day on the time path; nil means UTC.
func NewExecutor(
	workflows persistence.WorkflowRepository,
	deliveries persistence.DeliveryRepository,
	tracker *tracking.Tracker,
	targets TargetResolver,
	dispatcher ActionDispatcher,
	locker lock.Locker,
	clock clockwork.Clock,
	location *time.Location,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Executor {
	if tracer == nil {
		tracer = otelhelper.NewNoopTracer()
	}

	if location == nil {
		location = time.UTC
	}

	return &Executor{
		workflows:  workflows,
		deliveries: deliveries,
		tracker:    tracker,
		targets:    targets,
		dispatcher: dispatcher,
		locker:     locker,
		clock:      clock,
		location:   location,
		tracer:     tracer,
		logger:     logger.With("module", "workflow_executor"),
	}
}

// Run executes workflow against every customer selected by the filter
// pipeline, including the trigger predicate, leaving out customers this
// workflow already reached today. Event-driven workflows have no condition to
// evaluate here, so Run skips them. The returned execution is nil when the run
// was skipped.
func (e *Executor) Run(ctx context.Context, workflow *models.Workflow, source models.ExecutionSource) (*models.WorkflowExecution, error) {
	return e.run(ctx, workflow, source, "")
}

// RunForTarget executes workflow for a single customer whose trigger
// condition was already checked.
func (e *Executor) RunForTarget(ctx context.Context, workflow *models.Workflow, customerID string) (*models.WorkflowExecution, error) {
	return e.run(ctx, workflow, models.SourceEvent, customerID)
}

func (e *Executor) run(ctx context.Context, workflow *models.Workflow, source models.ExecutionSource, customerID string) (*models.WorkflowExecution, error) {
	logger := e.logger.With(
		"workflow_id", workflow.ID,
		"shop_id", workflow.ShopID,
		"trigger_type", workflow.TriggerType,
		"source", source,
	)

	if !workflow.CanExecute() {
		logger.DebugContext(ctx, "Workflow is inactive or deleted, skipping run")
		metrics.RunsSkippedTotal.WithLabelValues("inactive").Inc()

		return nil, nil
	}

	if customerID == "" && !workflow.TriggerType.TimeDriven() {
		logger.DebugContext(ctx, "Event-driven workflow only runs for the customer that triggered it, skipping run")
		metrics.RunsSkippedTotal.WithLabelValues("event_driven").Inc()

		return nil, nil
	}

	release, err := e.locker.TryAcquire(ctx, workflow.ID)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			logger.InfoContext(ctx, "Workflow already running, skipping run")
			metrics.RunsSkippedTotal.WithLabelValues("already_running").Inc()

			return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, workflow.ID)
		}

		return nil, fmt.Errorf("failed to acquire run guard for workflow %s: %w", workflow.ID, err)
	}

	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.WarnContext(ctx, "Failed to release run guard", "error", err)
		}
	}()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.run", otelhelper.RunAttributes(
		workflow.ID, workflow.ShopID, string(workflow.TriggerType), string(workflow.ActionType), string(source),
	)...)
	defer span.End()

	if customerID != "" {
		span.SetAttributes(attribute.String(otelhelper.CustomerIDKey, customerID))
	}

	startedAt := e.clock.Now()

	execution, err := e.tracker.Start(ctx, workflow, source, customerID)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to start execution", "error", err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))
	logger = logger.With("execution_id", execution.ID)
	logger.InfoContext(ctx, "Started workflow execution")

	succeeded, runErr := e.execute(ctx, logger, workflow, execution, customerID)
	if runErr != nil {
		otelhelper.SetError(span, runErr)
		logger.ErrorContext(ctx, "Workflow execution failed", "error", runErr)

		if err := e.tracker.Fail(ctx, execution, runErr.Error()); err != nil {
			logger.ErrorContext(ctx, "Failed to record execution failure", "error", err)
		}
	}

	if err := e.recordRun(ctx, workflow, succeeded); err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to persist workflow after run", "error", err)

		runErr = errors.Join(runErr, err)
	}

	metrics.ExecutionsTotal.WithLabelValues(string(workflow.TriggerType), string(source), string(execution.Status)).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(workflow.TriggerType)).Observe(e.clock.Since(startedAt).Seconds())

	logger.InfoContext(ctx, "Finished workflow execution",
		"status", execution.Status,
		"targets", execution.TargetCount,
		"success", execution.SuccessCount,
		"failure", execution.FailureCount,
	)

	return execution, runErr
}

// execute resolves targets, dispatches and completes the execution. Any
// error or panic it returns marks the execution FAILED.
func (e *Executor) execute(
	ctx context.Context,
	logger *slog.Logger,
	workflow *models.Workflow,
	execution *models.WorkflowExecution,
	customerID string,
) (succeeded bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			succeeded = false
			err = fmt.Errorf("workflow run panicked: %v", r)
		}
	}()

	targets := []string{customerID}

	if customerID == "" {
		targets, err = e.targets.Filter(ctx, workflow, targeting.WithTriggerPredicate)
		if err != nil {
			return false, fmt.Errorf("failed to resolve targets: %w", err)
		}

		targets, err = e.claimToday(ctx, logger, workflow, targets)
		if err != nil {
			return false, err
		}
	}

	metrics.TargetsResolved.WithLabelValues(string(workflow.TriggerType)).Observe(float64(len(targets)))
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int(otelhelper.TargetCountKey, len(targets)))

	if len(targets) == 0 {
		logger.InfoContext(ctx, "No targets matched")

		return false, e.tracker.Complete(ctx, execution, 0, 0, 0)
	}

	result, dispatchErr := e.dispatcher.Execute(ctx, workflow, targets)
	if dispatchErr != nil {
		logger.WarnContext(ctx, "Action batch failed", "targets", len(targets), "error", dispatchErr)
	}

	if err := e.tracker.Complete(ctx, execution, len(targets), result.Success, result.Failure); err != nil {
		return false, err
	}

	return result.Success > 0, nil
}

// claimToday drops the customers this workflow already reached on the
// current local day and reserves the rest.
func (e *Executor) claimToday(ctx context.Context, logger *slog.Logger, workflow *models.Workflow, targets []string) ([]string, error) {
	if len(targets) == 0 {
		return targets, nil
	}

	day := e.clock.Now().In(e.location).Format(time.DateOnly)

	claimed, err := e.deliveries.Claim(ctx, workflow.ID, day, targets)
	if err != nil {
		return nil, fmt.Errorf("failed to claim deliveries for %s: %w", day, err)
	}

	if skipped := len(targets) - len(claimed); skipped > 0 {
		logger.InfoContext(ctx, "Skipping customers already reached today", "day", day, "skipped", skipped)
	}

	return claimed, nil
}

// recordRun applies the attempt to the workflow counters, reschedules it and
// saves. On a version conflict the latest copy is reloaded and the same
// changes are applied again.
func (e *Executor) recordRun(ctx context.Context, workflow *models.Workflow, succeeded bool) error {
	now := e.clock.Now()
	current := workflow.Clone()

	for attempt := 1; ; attempt++ {
		current.RecordExecution(succeeded, now)
		current.ScheduleNext(now)

		err := e.workflows.Save(ctx, current)
		if err == nil {
			*workflow = *current

			return nil
		}

		if !persistence.IsVersionConflict(err) || attempt == maxSaveAttempts {
			return err
		}

		metrics.VersionConflictsTotal.Inc()

		latest, err := e.workflows.GetByID(ctx, workflow.ID)
		if err != nil {
			return fmt.Errorf("failed to reload workflow after version conflict: %w", err)
		}

		current = latest
	}
}
