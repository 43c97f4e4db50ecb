package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger used by the scan, fit and
// instrument packages. It defaults to log.Printf but may be replaced by
// SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose turns per-step Debugf output on or off.
func SetVerbose(on bool) { verbose.Store(on) }

// Verbose reports whether Debugf output is enabled.
func Verbose() bool { return verbose.Load() }

// Debugf logs through Logf only when verbose output is enabled. Scan drivers
// call it once per step, which is too chatty for normal runs.
func Debugf(format string, v ...interface{}) {
	if verbose.Load() {
		Logf(format, v...)
	}
}
