// file: internal/logging/slog.go
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level mirrors slog levels so callers don't import log/slog directly.
type Level = slog.Level

// Supported log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// levelVar is shared by every slog handler created through this package, so SetLevel
// affects loggers that were handed out earlier.
var levelVar = new(slog.LevelVar)

// slogLogger adapts *slog.Logger to the Logger interface.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps an existing *slog.Logger.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return GetNoopLogger()
	}
	return &slogLogger{l: l}
}

func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

// WithContext is a no-op for slog; context-scoped attributes are not used yet.
func (s *slogLogger) WithContext(_ context.Context) Logger { return s }

func (s *slogLogger) WithField(key string, value any) Logger {
	return &slogLogger{l: s.l.With(key, value)}
}

// ParseLevel converts a level name ("debug", "info", "warn", "error") into a Level.
// Unknown names map to LevelInfo.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// InitLogging installs a JSON slog logger writing to w as the default logger.
func InitLogging(level Level, w io.Writer) {
	levelVar.Set(level)
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelVar})
	SetDefaultLogger(NewSlogLogger(slog.New(h)))
}

// InitTextLogging installs a text slog logger writing to w as the default logger.
func InitTextLogging(level Level, w io.Writer) {
	levelVar.Set(level)
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: levelVar})
	SetDefaultLogger(NewSlogLogger(slog.New(h)))
}

// SetupDefaultLogger installs a text logger on stderr at the named level.
func SetupDefaultLogger(levelName string) {
	InitTextLogging(ParseLevel(levelName), os.Stderr)
}

// SetLevel changes the level of every logger created via InitLogging/InitTextLogging.
func SetLevel(level Level) {
	levelVar.Set(level)
}

// IsDebugEnabled reports whether debug messages are currently emitted.
func IsDebugEnabled() bool {
	return levelVar.Level() <= LevelDebug
}
