// Package logging provides the leveled, named loggers used across sfmlink. Entries go to zap
// encoders through appenders, and a Registry sets levels by logger name pattern.
package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewZapEncoderConfig returns the encoder config shared by all console appenders. It mirrors the
// zap production keys, without stacktraces.
func NewZapEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(DefaultTimeFormatStr),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func newImpl(name string, level Level, inUTC bool, appenders ...Appender) *impl {
	return &impl{name: name, level: NewAtomicLevelAt(level), inUTC: inUTC, appenders: appenders}
}

// NewLogger returns a logger that writes Info+ logs to stdout in UTC.
func NewLogger(name string) Logger {
	return newImpl(name, INFO, true, NewStdoutAppender())
}

// NewBlankLogger returns a Debug+ logger in UTC with no appenders. Registries use it as a root
// whose subloggers get appenders added later.
func NewBlankLogger(name string) Logger {
	return newImpl(name, DEBUG, true)
}

// NewTestLogger returns a Debug+ logger writing to the test object in local time.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is like NewTestLogger but also keeps the entries in memory.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	observerCore, observedLogs := observer.New(zap.LevelEnablerFunc(zapcore.DebugLevel.Enabled))
	return newImpl("", DEBUG, false, NewTestAppender(tb), observerCore), observedLogs
}
