// file: internal/logging/zerolog.go
package logging

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// zerologLogger adapts zerolog.Logger to the Logger interface.
type zerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger creates a Logger backed by zerolog writing JSON lines to w.
func NewZerologLogger(level Level, w io.Writer) Logger {
	zl := zerolog.New(w).With().Timestamp().Logger().Level(toZerologLevel(level))
	return &zerologLogger{l: zl}
}

// InitZerologLogging installs a zerolog-backed default logger.
func InitZerologLogging(level Level, w io.Writer) {
	levelVar.Set(level)
	SetDefaultLogger(NewZerologLogger(level, w))
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (z *zerologLogger) Debug(msg string, args ...any) { z.emit(z.l.Debug(), msg, args) }
func (z *zerologLogger) Info(msg string, args ...any)  { z.emit(z.l.Info(), msg, args) }
func (z *zerologLogger) Warn(msg string, args ...any)  { z.emit(z.l.Warn(), msg, args) }
func (z *zerologLogger) Error(msg string, args ...any) { z.emit(z.l.Error(), msg, args) }

func (z *zerologLogger) WithContext(ctx context.Context) Logger {
	return &zerologLogger{l: z.l.With().Ctx(ctx).Logger()}
}

func (z *zerologLogger) WithField(key string, value any) Logger {
	return &zerologLogger{l: z.l.With().Interface(key, value).Logger()}
}

// emit converts slog-style alternating key/value args into zerolog fields.
func (z *zerologLogger) emit(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			ev = ev.Str("!BADKEY", key)
			break
		}
		switch v := args[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
