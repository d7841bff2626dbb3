package logging

// Logger is the logging interface used throughout sfmlink. The "w" variants take alternating
// keys and values that are encoded as structured fields.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Sublogger returns a logger named "<name>.<subname>" that shares this logger's appenders.
	Sublogger(subname string) Logger
	Name() string
	SetLevel(level Level)
	GetLevel() Level
	AddAppender(appender Appender)
	Sync() error
}
