// Package telemetry provides the slog and Prometheus backed implementations
// of the logging and metrics hooks used by pages and the peer.
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the structured logging hook shared by the client and the peer.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Error(err error, msg string, keysAndValues ...any)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)         {}
func (NopLogger) Error(error, string, ...any) {}

// SlogLogger implements Logger using log/slog.
type SlogLogger struct {
	logger *slog.Logger
}

// NewLogger creates a logger writing to w. format is "json" or "text";
// level is one of debug, info, warn, error.
func NewLogger(w io.Writer, format, level string) *SlogLogger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &SlogLogger{logger: slog.New(h)}
}

// Stderr returns an info-level text logger on standard error.
func Stderr() *SlogLogger {
	return NewLogger(os.Stderr, "text", "info")
}

// Slog exposes the underlying logger.
func (l *SlogLogger) Slog() *slog.Logger {
	return l.logger
}

func (l *SlogLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *SlogLogger) Error(err error, msg string, keysAndValues ...any) {
	args := make([]any, 0, len(keysAndValues)+2)
	args = append(args, keysAndValues...)
	args = append(args, "error", err)
	l.logger.Error(msg, args...)
}

func parseLevel(level string) slog.Level {
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

type teeLogger []Logger

// Tee returns a Logger that forwards every call to each of loggers in order.
func Tee(loggers ...Logger) Logger {
	return teeLogger(loggers)
}

func (t teeLogger) Info(msg string, keysAndValues ...any) {
	for _, l := range t {
		l.Info(msg, keysAndValues...)
	}
}

func (t teeLogger) Error(err error, msg string, keysAndValues ...any) {
	for _, l := range t {
		l.Error(err, msg, keysAndValues...)
	}
}
