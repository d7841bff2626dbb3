package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

// testAppender writes entries through tb.Log so that each line shows up under the test that
// logged it, including with t.Parallel.
type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender logging to tb.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{tb}
}

// Write logs one tab separated line: time, level, logger name, caller, message and the fields as
// a JSON object.
func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	var line strings.Builder
	line.WriteString(entry.Time.Format(DefaultTimeFormatStr))
	line.WriteString("\t" + strings.ToUpper(entry.Level.String()))
	line.WriteString("\t" + entry.LoggerName)
	if entry.Caller.Defined {
		line.WriteString("\t" + callerToString(&entry.Caller))
	}
	line.WriteString("\t" + entry.Message)

	var err error
	if len(fields) > 0 {
		// an empty entry leaves only the fields in the encoded object
		enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
		buf, encErr := enc.EncodeEntry(zapcore.Entry{}, fields)
		if encErr == nil {
			line.WriteString("\t" + buf.String())
			buf.Free()
		}
		err = encErr
	}
	tapp.tb.Log(line.String())
	return err
}

func (tapp *testAppender) Sync() error {
	return nil
}
