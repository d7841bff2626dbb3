package logging

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// impl is the Logger handed out by this package. Subloggers copy the appender slice, so
// appenders added to a parent after the fact are not seen by its children.
type impl struct {
	name      string
	level     AtomicLevel
	inUTC     bool
	appenders []Appender
}

// emitDepth is the number of frames between runtime.Caller in emit and the caller of a Logger
// method: emit, the level method, then the call site.
const emitDepth = 2

var errUnpairedKey = errors.New("unpaired log key")

func (imp *impl) Name() string {
	return imp.name
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) Sublogger(subname string) Logger {
	name := subname
	if imp.name != "" {
		name = imp.name + "." + subname
	}
	return &impl{
		name:      name,
		level:     NewAtomicLevelAt(imp.GetLevel()),
		inUTC:     imp.inUTC,
		appenders: imp.appenders,
	}
}

func (imp *impl) Sync() error {
	var err error
	for _, appender := range imp.appenders {
		err = multierr.Append(err, appender.Sync())
	}
	return err
}

func (imp *impl) enabled(level Level) bool {
	return level >= imp.GetLevel()
}

// emit hands the entry to every appender. It must be called directly from a level method for
// the recorded caller to be the call site.
func (imp *impl) emit(level Level, msg string, fields []zapcore.Field) {
	entry := zapcore.Entry{
		LoggerName: imp.name,
		Level:      level.AsZap(),
		Message:    msg,
		Time:       time.Now(),
		Caller:     callSite(emitDepth),
	}
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}
	for _, appender := range imp.appenders {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// keyValueFields pairs up alternating keys and values. Non-string keys are formatted, and a
// trailing key without a value is kept with an error as its value.
func keyValueFields(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		var key string
		switch k := keysAndValues[i].(type) {
		case string:
			key = k
		case fmt.Stringer:
			key = k.String()
		default:
			key = fmt.Sprint(k)
		}
		var value interface{} = errUnpairedKey
		if i+1 < len(keysAndValues) {
			value = keysAndValues[i+1]
		}
		fields = append(fields, zap.Any(key, value))
	}
	return fields
}

func (imp *impl) Debug(args ...interface{}) {
	if imp.enabled(DEBUG) {
		imp.emit(DEBUG, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) Debugf(template string, args ...interface{}) {
	if imp.enabled(DEBUG) {
		imp.emit(DEBUG, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	if imp.enabled(DEBUG) {
		imp.emit(DEBUG, msg, keyValueFields(keysAndValues))
	}
}

func (imp *impl) Info(args ...interface{}) {
	if imp.enabled(INFO) {
		imp.emit(INFO, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) Infof(template string, args ...interface{}) {
	if imp.enabled(INFO) {
		imp.emit(INFO, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	if imp.enabled(INFO) {
		imp.emit(INFO, msg, keyValueFields(keysAndValues))
	}
}

func (imp *impl) Warn(args ...interface{}) {
	if imp.enabled(WARN) {
		imp.emit(WARN, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) Warnf(template string, args ...interface{}) {
	if imp.enabled(WARN) {
		imp.emit(WARN, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	if imp.enabled(WARN) {
		imp.emit(WARN, msg, keyValueFields(keysAndValues))
	}
}

func (imp *impl) Error(args ...interface{}) {
	if imp.enabled(ERROR) {
		imp.emit(ERROR, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) Errorf(template string, args ...interface{}) {
	if imp.enabled(ERROR) {
		imp.emit(ERROR, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	if imp.enabled(ERROR) {
		imp.emit(ERROR, msg, keyValueFields(keysAndValues))
	}
}

// callSite describes the frame skip levels above its caller.
func callSite(skip int) zapcore.EntryCaller {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return zapcore.EntryCaller{}
	}
	caller := zapcore.EntryCaller{Defined: true, PC: pc, File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		caller.Function = fn.Name()
	}
	return caller
}
