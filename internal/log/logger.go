// Package log provides the application's structured logging setup on top of
// log/slog. Every subsystem tags its records with a component attribute so
// client, sync and server logs can be filtered apart.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup configures the default slog logger with a text handler at the given
// level and returns it. Level names are case-insensitive; unknown names fall
// back to info.
func Setup(level string) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ForComponent returns a logger tagged with a component attribute.
func ForComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
