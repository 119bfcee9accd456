package pkg

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Component identifies the subsystem a log record comes from.
type Component string

// Bridge components.
const (
	ComponentSPI     Component = "spi"
	ComponentCard    Component = "card"
	ComponentTimer   Component = "timer"
	ComponentSCSI    Component = "scsi"
	ComponentPump    Component = "pump"
	ComponentBOT     Component = "bot"
	ComponentStorage Component = "storage"
	ComponentCLI     Component = "cli"
)

// LogFormat selects the record encoding of a logger.
type LogFormat int

// Log formats.
const (
	LogFormatText LogFormat = iota // key=value text (default)
	LogFormatJSON                  // one JSON object per record
)

var (
	// logLevel is shared by every logger built with NewLogger, so a level
	// change applies to loggers already installed.
	logLevel = new(slog.LevelVar)

	// The tick goroutine logs concurrently with the foreground.
	logger atomic.Pointer[slog.Logger]
)

func init() {
	logLevel.Set(slog.LevelWarn)
	logger.Store(NewLogger(os.Stderr, LogFormatText))
}

// NewLogger returns a logger writing format records to w, filtered by the
// shared log level.
func NewLogger(w io.Writer, format LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel}
	if format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Logger returns the logger used by every component.
func Logger() *slog.Logger { return logger.Load() }

// SetLogger installs l as the component logger. A nil l discards records.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = NewLogger(io.Discard, LogFormatText)
	}
	logger.Store(l)
}

// SetLogFormat installs a stderr logger using format.
func SetLogFormat(format LogFormat) { SetLogger(NewLogger(os.Stderr, format)) }

// SetLogLevel sets the minimum level of the shared log level.
func SetLogLevel(level slog.Level) { logLevel.Set(level) }

// GetLogLevel returns the shared log level.
func GetLogLevel() slog.Level { return logLevel.Level() }

func logAt(level slog.Level, c Component, msg string, args []any) {
	l, ctx := logger.Load(), context.Background()
	// Per-sector debug records are hot; skip building attributes.
	if !l.Enabled(ctx, level) {
		return
	}
	l.Log(ctx, level, msg, append([]any{"component", string(c)}, args...)...)
}

// LogDebug logs msg for component c at debug level.
func LogDebug(c Component, msg string, args ...any) { logAt(slog.LevelDebug, c, msg, args) }

// LogInfo logs msg for component c at info level.
func LogInfo(c Component, msg string, args ...any) { logAt(slog.LevelInfo, c, msg, args) }

// LogWarn logs msg for component c at warn level.
func LogWarn(c Component, msg string, args ...any) { logAt(slog.LevelWarn, c, msg, args) }

// LogError logs msg for component c at error level.
func LogError(c Component, msg string, args ...any) { logAt(slog.LevelError, c, msg, args) }
