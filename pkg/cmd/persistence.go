// Package cmd holds the bootstrapping shared by the marketflow binaries.
package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/marketflow/pkg/directory"
	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/dukex/marketflow/pkg/persistence/file"
	"github.com/dukex/marketflow/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
)

// ErrDirectoryRequiresPostgres is returned when the CRM URL is not a PostgreSQL URL.
var ErrDirectoryRequiresPostgres = errors.New("customer directory requires a postgres:// URL")

// NewPersistence picks the workflow store from the URL scheme: postgres:// or
// postgresql:// use PostgreSQL, anything else is a file store root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return p, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

// NewDirectory opens the CRM database backing the customer directory and the
// coupon registry. The caller closes the returned pool.
func NewDirectory(ctx context.Context, logger *slog.Logger, crmURL string) (*directory.Postgres, *sql.DB, error) {
	if parsePersistenceProvider(crmURL) != "postgresql" {
		return nil, nil, ErrDirectoryRequiresPostgres
	}

	db, err := sql.Open("postgres", crmURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open CRM database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, nil, fmt.Errorf("failed to ping CRM database: %w", err)
	}

	return directory.NewPostgres(db, logger), db, nil
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgresql"
	default:
		return scheme
	}
}
