package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config captures logging configuration options.
type Config struct {
	Level  string
	Format string
}

// New builds a slog logger writing to stderr.
func New(cfg Config) *slog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter builds a slog logger writing to w.
func NewWithWriter(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
