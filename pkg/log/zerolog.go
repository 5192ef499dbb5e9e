package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Zerolog adapts a zerolog.Logger to the Logger interface.
type Zerolog struct {
	logger zerolog.Logger
}

// NewConsole returns a Zerolog logger writing human-readable output to
// stderr at the given level ("debug", "info", "warn", "error"; empty
// means info).
func NewConsole(level string) *Zerolog {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).Level(lvl).With().Timestamp().Logger()
	return &Zerolog{logger: logger}
}

// NewZerolog wraps an existing zerolog.Logger.
func NewZerolog(logger zerolog.Logger) *Zerolog {
	return &Zerolog{logger: logger}
}

// SetLevel changes the minimum level of the wrapped logger in place.
func (z *Zerolog) SetLevel(level string) bool {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return false
	}
	z.logger = z.logger.Level(lvl)
	return true
}

// Debug logs a debug-level message.
func (z *Zerolog) Debug(msg string, fields ...Field) { z.emit(z.logger.Debug(), msg, fields) }

// Info logs an info-level message.
func (z *Zerolog) Info(msg string, fields ...Field) { z.emit(z.logger.Info(), msg, fields) }

// Warn logs a warning-level message.
func (z *Zerolog) Warn(msg string, fields ...Field) { z.emit(z.logger.Warn(), msg, fields) }

// Error logs an error-level message.
func (z *Zerolog) Error(msg string, fields ...Field) { z.emit(z.logger.Error(), msg, fields) }

func (z *Zerolog) emit(event *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		event = addField(event, f)
	}
	event.Msg(msg)
}

func addField(event *zerolog.Event, f Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return event.Str(f.Key, v)
	case int:
		return event.Int(f.Key, v)
	case float64:
		return event.Float64(f.Key, v)
	case bool:
		return event.Bool(f.Key, v)
	case time.Duration:
		return event.Dur(f.Key, v)
	case error:
		return event.Err(v)
	default:
		return event.Interface(f.Key, v)
	}
}
