package logging

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestConsoleOutputFormat(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("impl", DEBUG, true, NewWriterAppender(notStdout))

	logger.Info("impl Info log")
	line, err := notStdout.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	parts := strings.Split(strings.TrimSuffix(line, "\n"), "\t")
	test.That(t, parts, test.ShouldHaveLength, 5)
	test.That(t, parts[1], test.ShouldEqual, "INFO")
	test.That(t, parts[2], test.ShouldEqual, "impl")
	test.That(t, parts[3], test.ShouldStartWith, "logging/impl_test.go:")
	test.That(t, parts[4], test.ShouldEqual, "impl Info log")

	logger.Infow("impl logw", "key", "value")
	line, err = notStdout.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	test.That(t, line, test.ShouldContainSubstring, "impl logw")
	test.That(t, line, test.ShouldContainSubstring, `{"key": "value"}`)
}

func TestLevelFiltering(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.SetLevel(WARN)
	test.That(t, logger.GetLevel(), test.ShouldEqual, WARN)

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept warn")
	logger.Errorf("kept %s", "error")

	test.That(t, observed.Len(), test.ShouldEqual, 2)
	test.That(t, observed.FilterMessageSnippet("dropped").Len(), test.ShouldEqual, 0)
	test.That(t, observed.FilterMessage("kept error").Len(), test.ShouldEqual, 1)
}

func TestSubloggerSharesAppenders(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	sub := logger.Sublogger("visibility").Sublogger("engine")

	sub.Infow("visible points", "camera", 3, "count", 120)
	entries := observed.All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "visibility.engine")
	test.That(t, entries[0].ContextMap()["camera"], test.ShouldEqual, int64(3))
	test.That(t, entries[0].ContextMap()["count"], test.ShouldEqual, int64(120))
}

func TestUnpairedKey(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Infow("missing value", "lonely")
	entries := observed.All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].ContextMap()["lonely"], test.ShouldNotBeNil)
}

func TestLevelFromString(t *testing.T) {
	for inp, expected := range map[string]Level{
		"debug": DEBUG,
		"INFO":  INFO,
		"Warn":  WARN,
		"error": ERROR,
	} {
		level, err := LevelFromString(inp)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, expected)
	}

	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown log level")
}

type cameraKey int

func (k cameraKey) String() string {
	return fmt.Sprintf("camera_%d", int(k))
}

func TestKeyValueFields(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Warnw("mixed keys", cameraKey(4), "front", 7, "seven", "tail")
	entries := observed.All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	fields := entries[0].ContextMap()
	test.That(t, fields["camera_4"], test.ShouldEqual, "front")
	test.That(t, fields["7"], test.ShouldEqual, "seven")
	test.That(t, fields["tail"], test.ShouldEqual, errUnpairedKey.Error())
}

func TestCallSite(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Debugw("w")
	logger.Infof("%s", "f")
	logger.Error("plain")
	for _, entry := range observed.All() {
		test.That(t, entry.Caller.Defined, test.ShouldBeTrue)
		test.That(t, entry.Caller.File, test.ShouldEndWith, "impl_test.go")
		test.That(t, entry.Caller.Function, test.ShouldEndWith, "TestCallSite")
	}
	test.That(t, observed.Len(), test.ShouldEqual, 3)
}

func TestLoggerNames(t *testing.T) {
	root := NewBlankLogger("sfmlink")
	run := root.Sublogger("1a2b3c4d")
	test.That(t, run.Name(), test.ShouldEqual, "sfmlink.1a2b3c4d")
	test.That(t, run.Sublogger("landmark").Name(), test.ShouldEqual, "sfmlink.1a2b3c4d.landmark")

	// subloggers start at the parent's level and move independently afterwards
	root.SetLevel(WARN)
	sub := root.Sublogger("consensus")
	test.That(t, sub.GetLevel(), test.ShouldEqual, WARN)
	sub.SetLevel(DEBUG)
	test.That(t, root.GetLevel(), test.ShouldEqual, WARN)

	unnamed, _ := NewObservedTestLogger(t)
	test.That(t, unnamed.Sublogger("visibility").Name(), test.ShouldEqual, "visibility")
	test.That(t, unnamed.Sync(), test.ShouldBeNil)
}

type recordingTB struct {
	testing.TB
	lines []string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Log(args ...interface{}) {
	r.lines = append(r.lines, fmt.Sprint(args...))
}

func TestTestAppenderLine(t *testing.T) {
	tb := &recordingTB{TB: t}
	logger := newImpl("sfmlink", DEBUG, false, NewTestAppender(tb))
	logger.Info("no fields")
	logger.Infow("with fields", "vertices", 7)

	test.That(t, tb.lines, test.ShouldHaveLength, 2)
	parts := strings.Split(tb.lines[0], "\t")
	test.That(t, parts, test.ShouldHaveLength, 5)
	test.That(t, parts[1:3], test.ShouldResemble, []string{"INFO", "sfmlink"})
	test.That(t, parts[3], test.ShouldStartWith, "logging/impl_test.go:")
	test.That(t, parts[4], test.ShouldEqual, "no fields")
	test.That(t, tb.lines[1], test.ShouldEndWith, "\twith fields\t{\"vertices\":7}")
}
