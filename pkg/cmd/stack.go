package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/marketflow/pkg/directory"
	"github.com/dukex/marketflow/pkg/dispatch"
	"github.com/dukex/marketflow/pkg/eventbus"
	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/dukex/marketflow/pkg/protocol"
	"github.com/dukex/marketflow/pkg/targeting"
	"github.com/dukex/marketflow/pkg/tracking"
	"github.com/dukex/marketflow/pkg/transport"
	"github.com/dukex/marketflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

type StackConfig struct {
	DatabaseURL    string
	CRMDatabaseURL string
	RedisURL       string

	GatewayURL     string
	GatewayAPIKey  string
	GatewayTimeout time.Duration
	GatewayRetries int

	Location       *time.Location
	MaxConcurrency int
	SendTimeout    time.Duration
	LockTTL        time.Duration
}

// Stack is the executor and everything it depends on.
type Stack struct {
	Persistence persistence.Persistence
	Directory   protocol.CustomerDirectory
	Redis       *redis.Client
	Executor    *workflow.Executor

	crm *sql.DB
}

// NewStack connects the stores and assembles the workflow executor. Lifecycle
// events go to publisher.
func NewStack(
	ctx context.Context,
	logger *slog.Logger,
	clock clockwork.Clock,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	config StackConfig,
) (*Stack, error) {
	stack := &Stack{}

	var err error

	stack.Persistence, err = NewPersistence(ctx, logger, config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize persistence: %w", err)
	}

	crmURL := config.CRMDatabaseURL
	if crmURL == "" {
		crmURL = config.DatabaseURL
	}

	var customers *directory.Postgres

	customers, stack.crm, err = NewDirectory(ctx, logger, crmURL)
	if err != nil {
		stack.Close(ctx, logger)

		return nil, err
	}

	stack.Directory = customers

	stack.Redis, err = NewRedisClient(ctx, config.RedisURL)
	if err != nil {
		stack.Close(ctx, logger)

		return nil, err
	}

	gateway, err := transport.NewGateway(transport.Config{
		BaseURL:       config.GatewayURL,
		APIKey:        config.GatewayAPIKey,
		Timeout:       config.GatewayTimeout,
		RetryAttempts: config.GatewayRetries,
	}, logger)
	if err != nil {
		stack.Close(ctx, logger)

		return nil, err
	}

	dispatcher := dispatch.NewDispatcher(gateway, customers, clock, logger, dispatch.Config{
		MaxConcurrency: config.MaxConcurrency,
		SendTimeout:    config.SendTimeout,
		Location:       config.Location,
	})

	stack.Executor = workflow.NewExecutor(
		stack.Persistence.WorkflowRepository(),
		stack.Persistence.DeliveryRepository(),
		tracking.NewTracker(stack.Persistence.ExecutionRepository(), publisher, clock, logger),
		targeting.NewPipeline(customers, clock, config.Location, logger),
		dispatcher,
		NewLocker(stack.Redis, config.LockTTL),
		clock,
		config.Location,
		tracer,
		logger,
	)

	return stack, nil
}

// Close releases every connection the stack opened.
func (s *Stack) Close(ctx context.Context, logger *slog.Logger) {
	var errs []error

	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}

	if s.crm != nil {
		errs = append(errs, s.crm.Close())
	}

	if s.Persistence != nil {
		errs = append(errs, s.Persistence.Close(ctx))
	}

	if err := errors.Join(errs...); err != nil {
		logger.ErrorContext(ctx, "Failed to close stack", "error", err)
	}
}
