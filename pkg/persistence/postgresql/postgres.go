// Package postgresql provides PostgreSQL persistence for workflows, executions and deliveries.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/dukex/marketflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence stores workflows and executions in PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	deliveryRepo  *DeliveryRepository
}

// Pool limits.
const (
	maxOpenConns    = 16
	maxIdleConns    = 4
	connMaxIdleTime = 5 * time.Minute
)

// NewPersistence opens the pool, verifies it and brings the schema up to date.
// The pool is closed again when any step fails.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	database.SetMaxOpenConns(maxOpenConns)
	database.SetMaxIdleConns(maxIdleConns)
	database.SetConnMaxIdleTime(connMaxIdleTime)

	if err := database.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to ping database: %w", err), database.Close())
	}

	manager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := manager.RunMigrations(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to run migrations: %w", err), database.Close())
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		workflowRepo:  NewWorkflowRepository(database, logger),
		executionRepo: NewExecutionRepository(database, logger),
		deliveryRepo:  NewDeliveryRepository(database, logger),
	}, nil
}

// DB exposes the connection pool so read models can share it.
func (p *Persistence) DB() *sql.DB {
	return p.db
}

func (p *Persistence) Close(_ context.Context) error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}

// HealthCheck pings the pool.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) DeliveryRepository() persistence.DeliveryRepository {
	return p.deliveryRepo
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
