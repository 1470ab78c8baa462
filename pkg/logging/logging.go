// Package logging provides the structured logger shared by conduit clients,
// the embedded driver and the CLI.
package logging

import (
	"context"
	"log/slog"
	"strings"
)

// Logger is a slog.Logger with helpers for the attributes conduit logs most.
type Logger struct {
	base *slog.Logger
}

// New wraps base. A nil base means slog.Default().
func New(base *slog.Logger) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{base: base}
}

// Discard returns a Logger that drops every record.
func Discard() *Logger {
	return &Logger{base: slog.New(slog.DiscardHandler)}
}

// ParseLevel maps debug, warn and error to their slog levels. Anything else
// is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// With returns a Logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{base: l.base.With(args...)}
}

func (l *Logger) WithRegistration(id int64) *Logger {
	return l.With(slog.Int64("registration_id", id))
}

func (l *Logger) WithStream(channel string, streamID int32) *Logger {
	return l.With(slog.String("channel", channel), slog.Int("stream_id", int(streamID)))
}

func (l *Logger) WithSession(sessionID int32) *Logger {
	return l.With(slog.Int("session_id", int(sessionID)))
}

func (l *Logger) WithCorrelation(id int64) *Logger {
	return l.With(slog.Int64("correlation_id", id))
}

func (l *Logger) WithComponent(name string) *Logger {
	return l.With(slog.String("component", name))
}

// WithError returns l unchanged for a nil err.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With(slog.String("error", err.Error()))
}

func (l *Logger) Debug(msg string, args ...any) { l.base.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.base.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.base.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.base.Error(msg, args...) }

// The context variants let handlers pick up the active span.

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.base.DebugContext(ctx, msg, args...)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.base.InfoContext(ctx, msg, args...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.base.ErrorContext(ctx, msg, args...)
}
