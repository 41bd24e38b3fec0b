// Package logging configures the process-wide structured logger from the
// config.Logging section (SPEC_FULL §4.9).
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config mirrors config.LoggingConfig without importing the config
// package, keeping this package usable standalone in tests.
type Config struct {
	Level string
	JSON  bool
}

// Configure builds a slog.Logger at the configured level, JSON or text
// handler per cfg.JSON, and installs it as the process default.
func Configure(cfg Config) *slog.Logger {
	level := parseLevel(cfg.Level)
	out := io.Writer(os.Stderr)

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
