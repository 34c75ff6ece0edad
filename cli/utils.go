package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/photogrammetry/config"
	"go.viam.com/photogrammetry/logging"
)

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// runContext holds what every action needs: settings, a logger and the run id.
type runContext struct {
	settings config.Settings
	logger   logging.Logger
	runID    uuid.UUID
	closers  []io.Closer
}

// newRunContext loads the settings named by the global flags and builds a logger writing to the
// app's error writer and, optionally, a rotating log file.
func newRunContext(c *cli.Context) (*runContext, error) {
	rc := &runContext{settings: config.Default(), runID: uuid.New()}
	if path := c.String(configFlag); path != "" {
		settings, err := config.Read(path)
		if err != nil {
			return nil, err
		}
		rc.settings = settings
	}

	logger := logging.NewBlankLogger(c.App.Name)
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	logger.SetLevel(logging.INFO)
	if c.Bool(debugFlag) {
		logger.SetLevel(logging.DEBUG)
	}
	if fn := c.Path(logFileFlag); fn != "" {
		appender, closer, err := logging.NewFileAppender(fn)
		if err != nil {
			return nil, errors.Wrapf(err, "opening log file %q", fn)
		}
		logger.AddAppender(appender)
		rc.closers = append(rc.closers, closer)
	}
	rc.logger = logger.With("run", rc.runID.String())
	rc.logger.Debugw("starting", "command", c.Command.FullName())
	return rc, nil
}

// Close flushes the logger and closes the log file.
func (rc *runContext) Close() error {
	err := rc.logger.Sync()
	for _, closer := range rc.closers {
		err = multierr.Combine(err, closer.Close())
	}
	return err
}

// withRunContext runs action with a fresh run context, closing it afterwards.
func withRunContext(c *cli.Context, action func(*cli.Context, *runContext) error) (err error) {
	rc, err := newRunContext(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, rc.Close())
	}()
	return action(c, rc)
}

// readPoints reads one "x y z" point per line. Blank lines and lines starting with # are
// skipped.
func readPoints(path string) ([]r3.Vector, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var out []r3.Vector
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, errors.Errorf("%s:%d: expecting 3 values, got %d", path, lineNum, len(fields))
		}
		var vals [3]float64
		for i, f := range fields {
			if vals[i], err = strconv.ParseFloat(f, 64); err != nil {
				return nil, errors.Wrapf(err, "%s:%d", path, lineNum)
			}
		}
		out = append(out, r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
