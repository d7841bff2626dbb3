package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap/zapcore"
)

// DefaultTimeFormatStr is the default time format string for log appenders.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed. E.g: at shutdown.
	Sync() error
}

// ConsoleAppender will create human readable logs and write them to the underlying writer.
type ConsoleAppender struct {
	mu      sync.Mutex
	writer  io.Writer
	encoder zapcore.Encoder
}

// NewStdoutAppender creates a new appender that outputs to stdout.
func NewStdoutAppender() *ConsoleAppender {
	return NewWriterAppender(os.Stdout)
}

// NewWriterAppender creates a new appender that outputs to the input writer.
func NewWriterAppender(writer io.Writer) *ConsoleAppender {
	return &ConsoleAppender{writer: writer, encoder: zapcore.NewConsoleEncoder(NewZapEncoderConfig())}
}

// Write outputs the log entry as a single tab delimited line.
func (appender *ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := appender.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()

	appender.mu.Lock()
	defer appender.mu.Unlock()
	_, err = appender.writer.Write(buf.Bytes())
	return err
}

// Sync is a no-op unless the writer is a file.
func (appender *ConsoleAppender) Sync() error {
	if file, ok := appender.writer.(*os.File); ok && file != os.Stdout && file != os.Stderr {
		return file.Sync()
	}
	return nil
}

func callerToString(caller *zapcore.EntryCaller) string {
	return caller.TrimmedPath()
}
