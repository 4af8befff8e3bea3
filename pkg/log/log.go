// Package log configures the process-wide slog logger used by every marketflow component.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default logger. Format "json" switches to the JSON handler,
// anything else keeps the text handler.
func Setup(logLevel string) {
	SetupWithFormat(logLevel, "text", os.Stderr)
}

func SetupWithFormat(logLevel, format string, out io.Writer) {
	opts := &slog.HandlerOptions{Level: ParseLevel(logLevel)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
