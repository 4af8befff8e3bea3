package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/marketflow/pkg/cmd"
	"github.com/dukex/marketflow/pkg/eventbus"
	"github.com/dukex/marketflow/pkg/inbox"
	"github.com/dukex/marketflow/pkg/scheduler"
	"github.com/dukex/marketflow/pkg/trigger"
	"github.com/jonboulle/clockwork"
)

// Engine owns the long running components of one engine process.
type Engine struct {
	logger    *slog.Logger
	bus       eventbus.EventBus
	stack     *cmd.Stack
	evaluator *trigger.Evaluator
	scheduler *scheduler.Scheduler
	inbox     *inbox.Inbox
}

func NewEngine(
	logger *slog.Logger,
	clock clockwork.Clock,
	bus eventbus.EventBus,
	stack *cmd.Stack,
	schedulerConfig scheduler.Config,
	inboxQueue string,
) (*Engine, error) {
	workflows := stack.Persistence.WorkflowRepository()

	s, err := scheduler.NewScheduler(workflows, stack.Executor, clock, logger, schedulerConfig)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		logger:    logger,
		bus:       bus,
		stack:     stack,
		evaluator: trigger.NewEvaluator(workflows, stack.Directory, stack.Executor, logger, trigger.DefaultBufferSize),
		scheduler: s,
	}

	if stack.Redis != nil {
		engine.inbox = inbox.New(stack.Redis, inboxQueue, logger)
	}

	return engine, nil
}

// Start begins consuming events and ticking the scheduler.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.evaluator.Subscribe(e.bus); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	e.evaluator.Start(ctx)

	if err := e.bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	if e.inbox != nil {
		if err := e.inbox.Start(ctx, e.evaluator.Submit); err != nil {
			return fmt.Errorf("failed to start inbox: %w", err)
		}
	}

	e.scheduler.Start(ctx)

	e.logger.InfoContext(ctx, "Engine started", "inbox", e.inbox != nil)

	return nil
}

// Stop shuts components down in reverse order of the data flow so no run is
// started after its producer stopped.
func (e *Engine) Stop(ctx context.Context) {
	e.logger.InfoContext(ctx, "Stopping engine")

	e.scheduler.Stop(ctx)

	if e.inbox != nil {
		e.inbox.Stop(ctx)
	}

	if err := e.bus.Close(); err != nil {
		e.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	e.evaluator.Stop(ctx)
}
