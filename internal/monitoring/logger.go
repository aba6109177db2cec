// Package monitoring holds the process-wide diagnostic loggers used by the
// grasp packages.
package monitoring

import (
	"fmt"
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger used for calibration events,
// serial errors and persistence failures. It defaults to log.Printf and can
// be redirected or muted with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

var debug atomic.Bool

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug toggles Debugf output, e.g. from the --debug flag.
func SetDebug(on bool) { debug.Store(on) }

// Debugf logs through Logf only while debug output is on. Per-tick traces
// go here.
func Debugf(format string, v ...interface{}) {
	if debug.Load() {
		Logf(format, v...)
	}
}

// Prefixed returns a logger that prepends "[prefix] " to every message.
// The returned func looks Logf up on each call, so a later SetLogger still
// applies.
func Prefixed(prefix string) func(format string, v ...interface{}) {
	tag := fmt.Sprintf("[%s] ", prefix)
	return func(format string, v ...interface{}) {
		Logf(tag+format, v...)
	}
}
