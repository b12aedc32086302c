// Package logging constructs the per-run logger. Each run writes one log
// file named with a tool-specific prefix and a second-granularity timestamp,
// mirrored to stderr.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Run bundles the per-run logger with its backing file.
// It is constructed once in main and passed to every component that logs;
// there is no mutable package-level state besides slog's default.
type Run struct {
	Logger *slog.Logger
	Path   string

	file *os.File
}

// New creates the run logger. The log directory is created if missing.
// The file name is <prefix>_YYYYMMDD_HHMMSS.log.
func New(dir, prefix, level string) (*Run, error) {
	return newAt(dir, prefix, level, time.Now())
}

// newAt is the clock-injectable constructor used by tests.
func newAt(dir, prefix, level string, now time.Time) (*Run, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.log", prefix, now.Format("20060102_150405"))
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, f), &slog.HandlerOptions{
		Level: parseLevel(level),
	})

	return &Run{
		Logger: slog.New(handler),
		Path:   path,
		file:   f,
	}, nil
}

// Close flushes and closes the log file. Safe to call once at process exit.
func (r *Run) Close() {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
}

// parseLevel maps a configuration string to a slog level, defaulting to info.
func parseLevel(level string) slog.Level {
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
