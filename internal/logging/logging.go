// Package logging sets up the structured logger every component in this
// module accepts by injection. Its Setup is what the composition root
// (cmd/attendanced) calls; loggers follow the attribute-tagging
// convention (component, camera_id, employee_id) used throughout the
// reference vision pipeline and ingest manager.
package logging

import (
	"log/slog"
	"os"

	"github.com/attendanced/attendanced/internal/config"
)

// Setup builds a slog.Logger from LoggingConfig: text handler when Format
// is "text" (local dev), JSON handler for any other value ("json" being
// the production default).
func Setup(cfg config.LoggingConfig) *slog.Logger {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns a child logger tagged with the owning component's name,
// e.g. logging.Component(log, "capture").
func Component(log *slog.Logger, name string) *slog.Logger {
	return log.With("component", name)
}
