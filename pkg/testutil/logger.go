package testutil

import (
	"log/slog"
	"os"
)

// Logger returns a logger that only prints errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}
