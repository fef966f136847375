// Package telemetry configures the process-wide log/slog logger and hosts
// the read-only Prometheus stats surface (internal/telemetry/statshttp),
// grounded on the teacher's cmd/gameserver/main.go: config is loaded before
// the logger so the configured log level takes effect from the first line
// of output, and the same string-to-slog.Level parsing is reused verbatim.
package telemetry

import (
	"log/slog"
	"os"
)

// ParseLogLevel converts a config string log level to slog.Level, defaulting
// to Info if invalid or empty — same mapping the teacher's parseLogLevel
// uses.
func ParseLogLevel(level string) slog.Level {
	switch level {
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

// SetupLogger installs a process-wide slog.Default handler. format selects
// between "text" (the teacher's default) and "json" (for log aggregation in
// production deployments); anything else falls back to text.
func SetupLogger(level slog.Level, format string) {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
