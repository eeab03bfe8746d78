// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// zap levels used for each of our verbosity steps.  Verbose sits on
// zap's debug level; our debug goes one below it.
const (
	zapVerbose = zapcore.DebugLevel
	zapDebug   = zapcore.DebugLevel - 1
)

// Logger writes levelled messages to stderr with optional timestamps
// and level prefixes.  It is a thin layer over a zap core so that
// callers can attach structured fields with [Logger.With].  A nil
// *Logger discards everything.
type Logger struct {
	level      LogLevel
	output     io.Writer
	timestamps bool // if true, prepend HH:MM:SS.mmm timestamps
	fields     []zap.Field

	mu sync.Mutex
	z  *zap.Logger
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	l := &Logger{
		level:      LogLevel(verbosity),
		output:     os.Stderr,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
	}
	l.rebuild()
	return l
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.timestamps = on
	l.mu.Unlock()
	l.rebuild()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.output = w
	l.mu.Unlock()
	l.rebuild()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel {
	if l == nil {
		return LogQuiet
	}
	return l.level
}

// With returns a child logger that attaches fields to every message.
// Later SetOutput/SetTimestamps calls on the parent do not propagate.
func (l *Logger) With(fields ...zap.Field) *Logger {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	child := &Logger{
		level:      l.level,
		output:     l.output,
		timestamps: l.timestamps,
		fields:     append(append([]zap.Field(nil), l.fields...), fields...),
	}
	l.mu.Unlock()
	child.rebuild()
	return child
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.z
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	return l.Zap().Sync()
}

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(zapcore.InfoLevel, format, args...)
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(zapcore.WarnLevel, format, args...)
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	l.write(zapVerbose, format, args...)
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(zapDebug, format, args...)
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(zapcore.ErrorLevel, format, args...)
}

func (l *Logger) write(lvl zapcore.Level, format string, args ...interface{}) {
	z := l.Zap()
	if ce := z.Check(lvl, ""); ce != nil {
		ce.Message = fmt.Sprintf(format, args...)
		ce.Write()
	}
}

func (l *Logger) rebuild() {
	l.mu.Lock()
	defer l.mu.Unlock()

	floor := minZapLevel(l.level)
	enc := zapcore.EncoderConfig{
		MessageKey:       "msg",
		LevelKey:         "level",
		EncodeLevel:      encodeLevel,
		ConsoleSeparator: " ",
	}
	if l.timestamps {
		enc.TimeKey = "ts"
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(enc),
		zapcore.Lock(zapcore.AddSync(l.output)),
		zap.LevelEnablerFunc(func(lvl zapcore.Level) bool { return lvl >= floor }),
	)
	l.z = zap.New(core).With(l.fields...)
}

func minZapLevel(level LogLevel) zapcore.Level {
	switch {
	case level >= LogDebug:
		return zapDebug
	case level == LogVerbose:
		return zapVerbose
	case level == LogNormal:
		return zapcore.InfoLevel
	default:
		return zapcore.ErrorLevel
	}
}

func encodeLevel(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch {
	case lvl < zapVerbose:
		enc.AppendString("[DBG]")
	case lvl == zapVerbose:
		enc.AppendString("[VRB]")
	case lvl == zapcore.InfoLevel:
		enc.AppendString("[INF]")
	case lvl == zapcore.WarnLevel:
		enc.AppendString("[WRN]")
	default:
		enc.AppendString("[ERR]")
	}
}
