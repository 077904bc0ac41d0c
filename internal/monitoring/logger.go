// Package monitoring holds the diagnostic logger and the Prometheus metrics
// shared by the alignment tools.
package monitoring

import (
	"fmt"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// is used for best-effort events such as skipped records and collapsed keys.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// LogCapture collects formatted log lines.
type LogCapture struct {
	mu    sync.Mutex
	lines []string
}

// Lines returns a copy of the captured lines.
func (c *LogCapture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// CaptureLogger routes Logf into a LogCapture until restore is called. Tests
// use it to assert on skipped-record warnings.
func CaptureLogger() (capture *LogCapture, restore func()) {
	prev := Logf
	c := &LogCapture{}
	Logf = func(format string, v ...interface{}) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.lines = append(c.lines, fmt.Sprintf(format, v...))
	}
	return c, func() { Logf = prev }
}
