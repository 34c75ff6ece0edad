package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestConsoleOutputFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewBlankLogger("tri")
	logger.AddAppender(NewWriterAppender(&buf))

	logger.Info("hello")
	line, err := buf.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	parts := strings.Split(strings.TrimSuffix(line, "\n"), "\t")
	// time, level, logger name, caller, message
	test.That(t, parts, test.ShouldHaveLength, 5)
	test.That(t, parts[1], test.ShouldEqual, "INFO")
	test.That(t, parts[2], test.ShouldEqual, "tri")
	test.That(t, strings.HasPrefix(parts[3], "logging/impl_test.go:"), test.ShouldBeTrue)
	test.That(t, parts[4], test.ShouldEqual, "hello")

	logger.Warnw("gcp check", "distance_km", 120)
	line, err = buf.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	parts = strings.Split(strings.TrimSuffix(line, "\n"), "\t")
	test.That(t, parts, test.ShouldHaveLength, 6)
	test.That(t, parts[4], test.ShouldEqual, "gcp check")
	test.That(t, parts[5], test.ShouldEqual, `{"distance_km":120}`)
}

func TestLevelFiltering(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.SetLevel(WARN)
	logger.Info("dropped")
	logger.Warnf("kept %d", 1)
	test.That(t, logs.FilterMessage("dropped").Len(), test.ShouldEqual, 0)
	test.That(t, logs.FilterMessage("kept 1").Len(), test.ShouldEqual, 1)

	sub := logger.Sublogger("jitter")
	test.That(t, sub.GetLevel(), test.ShouldEqual, WARN)
	sub.Errorw("bad block", "index", 3)
	test.That(t, logs.FilterMessage("bad block").Len(), test.ShouldEqual, 1)
}

func TestWith(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	run := logger.With("run", "0f3c")
	run.Infow("wrote point cloud", "points", 4096)
	run.Warnw("unpaired", "center")
	logger.Info("plain")

	wrote := logs.FilterMessage("wrote point cloud").All()
	test.That(t, wrote, test.ShouldHaveLength, 1)
	test.That(t, wrote[0].ContextMap(), test.ShouldResemble, map[string]interface{}{"run": "0f3c", "points": int64(4096)})
	unpaired := logs.FilterMessage("unpaired").All()
	test.That(t, unpaired, test.ShouldHaveLength, 1)
	test.That(t, unpaired[0].ContextMap()["center"], test.ShouldNotBeNil)
	test.That(t, logs.FilterMessage("plain").All()[0].ContextMap(), test.ShouldBeEmpty)

	// With shares the level of its parent
	run.SetLevel(ERROR)
	test.That(t, logger.GetLevel(), test.ShouldEqual, ERROR)
}

func TestLevelFromString(t *testing.T) {
	level, err := LevelFromString("WARNING")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)
	_, err = LevelFromString("loud")
	test.That(t, err, test.ShouldBeError, `unknown log level: "loud"`)
}

func TestFileAppender(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "run", "log.txt")
	appender, closer, err := NewFileAppender(fn)
	test.That(t, err, test.ShouldBeNil)
	logger := NewBlankLogger("cli")
	logger.AddAppender(appender)
	logger.Info("written to disk")
	test.That(t, closer.Close(), test.ShouldBeNil)

	//nolint:gosec
	data, err := os.ReadFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, "written to disk")
}
