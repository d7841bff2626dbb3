package logging

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap/zapcore"
)

// Level is an enum of log levels. Its value can be `DEBUG`, `INFO`, `WARN` or `ERROR`.
type Level int

const (
	// This numbering scheme serves two purposes:
	//   - A statement is logged if its log level matches or exceeds the configured level. I.e:
	//     Statement(WARN) >= LogConfig(INFO) would be logged because "1" > "0".
	//   - INFO is the default level. So we start counting at DEBUG=-1 such that INFO is given Go's
	//     zero-value.

	// DEBUG log level.
	DEBUG Level = iota - 1
	// INFO log level.
	INFO
	// WARN log level.
	WARN
	// ERROR log level.
	ERROR
)

func (level Level) String() string {
	switch level {
	case DEBUG:
		return "Debug"
	case INFO:
		return "Info"
	case WARN:
		return "Warn"
	case ERROR:
		return "Error"
	}

	panic(errors.Errorf("unreachable: %d", level))
}

// AsZap converts the Level to a `zapcore.Level`.
func (level Level) AsZap() zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	}

	panic(errors.Errorf("unreachable: %d", level))
}

// LevelFromString parses an input string to a log level. The string must be one of `debug`, `info`,
// `warn` or `error`. The parsing is case-insensitive. An error is returned if the input does not
// match one of labeled cases.
func LevelFromString(inp string) (Level, error) {
	switch strings.ToLower(inp) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}

	return DEBUG, errors.Errorf("unknown log level: %q", inp)
}

// AtomicLevel is a level that can be concurrently accessed.
type AtomicLevel struct {
	val *atomic.Int32
}

// NewAtomicLevelAt creates a new AtomicLevel at the input `initLevel`.
func NewAtomicLevelAt(initLevel Level) AtomicLevel {
	return AtomicLevel{val: atomic.NewInt32(int32(initLevel))}
}

// Set changes the level.
func (al AtomicLevel) Set(level Level) {
	al.val.Store(int32(level))
}

// Get returns the level.
func (al AtomicLevel) Get() Level {
	return Level(al.val.Load())
}
