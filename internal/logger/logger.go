// Package logger builds the structured loggers shared by the server and worker binaries.
package logger

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a configured level name to a slog level. Unknown names fall back
// to info and report ok=false so the caller can warn about it.
func ParseLevel(s string) (level slog.Level, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// New returns a JSON logger writing to w and installs it as the slog default.
func New(w io.Writer, levelStr, component string) *slog.Logger {
	level, ok := ParseLevel(levelStr)

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	log := slog.New(handler).With("component", component)
	slog.SetDefault(log)

	if !ok {
		log.Warn("invalid log level configured, using default level",
			"configured_level", levelStr,
			"default_level", "info")
	}
	return log
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
