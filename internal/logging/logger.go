// Package logging constructs the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured logger for the given environment.
// Production uses JSON output, everything else human-readable text.
// level overrides the default level ("info" in production, "debug"
// otherwise); unrecognised values fall back to the default.
func NewLogger(env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	production := env == "production"
	if !production {
		opts.Level = slog.LevelDebug
	}

	if l, ok := parseLevel(level); ok {
		opts.Level = l
	}

	var handler slog.Handler
	if production {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}

	return 0, false
}
