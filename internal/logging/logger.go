// Package logging provides the structured logger shared by every spadev
// component. It is a thin layer over log/slog that carries a component name,
// persistent fields and request ids.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel represents different log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a --log-level value into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q (expected debug, info, warn, error)", s)
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError, LevelFatal:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger is the logging interface every component receives. Warn and
// Error take the error separately so it is always rendered under the same
// key.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...interface{})
	Info(ctx context.Context, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
	Error(ctx context.Context, err error, msg string, fields ...interface{})

	With(fields ...interface{}) Logger
	WithComponent(component string) Logger
}

// SpadevLogger implements Logger on top of a slog.Handler. Fields added
// with With keep the order they were added in.
type SpadevLogger struct {
	handler   slog.Handler
	level     LogLevel
	component string
	attrs     []slog.Attr
}

// LoggerConfig selects the level, format and destination of a logger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // "json" or "text"
	Output    io.Writer
	Component string
}

// NewLogger creates a logger. A nil config logs text at info level to
// stderr.
func NewLogger(config *LoggerConfig) *SpadevLogger {
	if config == nil {
		config = &LoggerConfig{Level: LevelInfo, Format: "text"}
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: config.Level.slogLevel()}
	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &SpadevLogger{
		handler:   handler,
		level:     config.Level,
		component: config.Component,
	}
}

// Discard returns a logger that drops everything.
func Discard() *SpadevLogger {
	return &SpadevLogger{handler: slog.NewTextHandler(io.Discard, nil), level: LevelFatal}
}

func (l *SpadevLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, LevelDebug, nil, msg, fields)
}

func (l *SpadevLogger) Info(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, LevelInfo, nil, msg, fields)
}

func (l *SpadevLogger) Warn(ctx context.Context, err error, msg string, fields ...interface{}) {
	l.log(ctx, LevelWarn, err, msg, fields)
}

func (l *SpadevLogger) Error(ctx context.Context, err error, msg string, fields ...interface{}) {
	l.log(ctx, LevelError, err, msg, fields)
}

// With returns a logger that adds fields to every record. The receiver is
// not modified.
func (l *SpadevLogger) With(fields ...interface{}) Logger {
	child := *l
	child.attrs = append(append([]slog.Attr(nil), l.attrs...), toAttrs(fields)...)
	return &child
}

// WithComponent returns a logger whose records carry component instead of
// the receiver's component.
func (l *SpadevLogger) WithComponent(component string) Logger {
	child := *l
	child.component = component
	return &child
}

// WithRequestID tags every record with a request id.
func WithRequestID(l Logger, requestID string) Logger {
	return l.With("request_id", requestID)
}

// toAttrs converts alternating key/value pairs. Pairs with a non-string
// key and a trailing key without value are dropped.
func toAttrs(fields []interface{}) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			attrs = append(attrs, slog.Any(key, fields[i+1]))
		}
	}
	return attrs
}

func (l *SpadevLogger) log(ctx context.Context, level LogLevel, err error, msg string, fields []interface{}) {
	if level < l.level {
		return
	}
	sl := level.slogLevel()
	if !l.handler.Enabled(ctx, sl) {
		return
	}

	record := slog.NewRecord(time.Now(), sl, msg, 0)
	if l.component != "" {
		record.AddAttrs(slog.String("component", l.component))
	}
	if err != nil {
		record.AddAttrs(slog.String("error", err.Error()))
	}
	record.AddAttrs(l.attrs...)
	record.AddAttrs(toAttrs(fields)...)
	_ = l.handler.Handle(ctx, record)
}

// PerfLogger logs how long an operation took when it ends.
type PerfLogger struct {
	Logger
	start time.Time
}

// StartOperation starts timing operation.
func StartOperation(l Logger, operation string) *PerfLogger {
	return &PerfLogger{Logger: l.With("operation", operation), start: time.Now()}
}

// End logs a successful completion.
func (p *PerfLogger) End(ctx context.Context) {
	d := time.Since(p.start)
	p.Info(ctx, "Operation completed", "duration_ms", d.Milliseconds(), "duration", d.String())
}

// EndWithError logs a failed completion.
func (p *PerfLogger) EndWithError(ctx context.Context, err error) {
	d := time.Since(p.start)
	p.Error(ctx, err, "Operation failed", "duration_ms", d.Milliseconds(), "duration", d.String())
}
