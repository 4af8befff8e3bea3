// Package sqlbase holds the schema migration runner shared by SQL stores.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// migrationLockID is the advisory lock serializing migrations across the
// engine and API processes starting at the same time.
const migrationLockID = 727_100_001

// MigrationManager applies numbered SQL migrations once each, in order.
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations map[int]string
}

func NewMigrationManager(logger *slog.Logger, db *sql.DB, migrations map[int]string) *MigrationManager {
	return &MigrationManager{
		db:         db,
		logger:     logger.With("module", "migrations"),
		migrations: migrations,
	}
}

// LatestVersion is the highest migration version known to the manager.
func (m *MigrationManager) LatestVersion() int {
	versions := slices.Collect(maps.Keys(m.migrations))
	if len(versions) == 0 {
		return 0
	}

	return slices.Max(versions)
}

// RunMigrations brings the schema to LatestVersion. Each migration runs in its
// own transaction holding the advisory lock, and is skipped when another
// process recorded it first.
func (m *MigrationManager) RunMigrations(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, version := range slices.Sorted(maps.Keys(m.migrations)) {
		applied, err := m.apply(ctx, version)
		if err != nil {
			return err
		}

		if applied {
			m.logger.InfoContext(ctx, "Migration applied", "version", version)
		}
	}

	m.logger.DebugContext(ctx, "Schema up to date", "version", m.LatestVersion())

	return nil
}

func (m *MigrationManager) apply(ctx context.Context, version int) (applied bool, err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin migration %d: %w", version, err)
	}

	defer func() {
		if !applied {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return false, fmt.Errorf("failed to lock migrations: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check migration %d: %w", version, err)
	}

	if exists {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, m.migrations[version]); err != nil {
		return false, fmt.Errorf("failed to execute migration %d: %w", version, err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return false, fmt.Errorf("failed to record migration %d: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit migration %d: %w", version, err)
	}

	return true, nil
}

// CurrentSchemaVersion returns the highest applied migration version.
func (m *MigrationManager) CurrentSchemaVersion(ctx context.Context) (int, error) {
	var version int

	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query current schema version: %w", err)
	}

	return version, nil
}
