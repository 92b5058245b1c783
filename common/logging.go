// Package common provides the logging and small shared utilities used across
// the engine's components.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes logrus output by level: error-and-above records go
// to stderr, everything else to stdout. This keeps error streams separable
// in containerized deployments without a second logger instance.
type OutputSplitter struct{}

func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte("level=fatal")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the process-wide logger instance. Components should prefer a
// ContextLogger built from it (see logger.go) rather than logging directly
// through the package global.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
