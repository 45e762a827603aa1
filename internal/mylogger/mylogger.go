package mylogger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

const (
	LevelDebug string = "DEBUG"
	LevelInfo  string = "INFO"
	LevelWarn  string = "WARN"
	LevelError string = "ERROR"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, err error, args ...any)
	Action(action string) Logger
	With(args ...any) Logger
	WithGroup(groupName string) Logger
}

// New builds a JSON logger on stdout. Every line carries the hostname and a
// session id that is fixed for the lifetime of the process.
func New(logLevel string) (Logger, error) {
	return NewWithWriter(logLevel, os.Stdout), nil
}

func NewWithWriter(logLevel string, w io.Writer) Logger {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Rename 'msg' to 'message'
			if a.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: a.Value}
			}
			// Format time as ISO 8601
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.Attr{Key: "timestamp", Value: slog.StringValue(t.Format(time.RFC3339))}
				}
			}
			return a
		},
	})

	log := slog.New(handler).With("hostname", hostname, "session_id", uuid.NewString())
	return &logger{
		log: log,
	}
}

// Nop discards everything. Used by tests and by callers that pass no logger.
func Nop() Logger {
	return &logger{log: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

func parseLevel(logLevel string) *slog.LevelVar {
	level := new(slog.LevelVar)
	switch logLevel {
	case LevelDebug:
		level.Set(slog.LevelDebug)
	case LevelInfo:
		level.Set(slog.LevelInfo)
	case LevelWarn:
		level.Set(slog.LevelWarn)
	case LevelError:
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	return level
}

type logger struct {
	log *slog.Logger
}

func (l *logger) Debug(msg string, args ...any) {
	l.log.Debug(msg, args...)
}

func (l *logger) Info(msg string, args ...any) {
	l.log.Info(msg, args...)
}

func (l *logger) Warn(msg string, args ...any) {
	l.log.Warn(msg, args...)
}

// Error log with stack trace
func (l *logger) Error(msg string, err error, args ...any) {
	frames := captureFrames(3, 8)

	attrs := append(args, slog.Group("error",
		slog.Any("msg", err),
		slog.Any("stack", frames),
	))

	l.log.Error(msg, attrs...)
}

func (l logger) Action(action string) Logger {
	l.log = l.log.With("action", action)
	return &l
}

func (l logger) With(args ...any) Logger {
	l.log = l.log.With(args...)
	return &l
}

func (l logger) WithGroup(groupName string) Logger {
	l.log = l.log.WithGroup(groupName)
	return &l
}
