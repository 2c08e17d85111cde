// Package monitoring holds the diagnostic logger shared by the imaging
// stages, the exporter and the run catalog.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Stagef logs a message tagged with a pipeline stage, e.g. "[grid] ...".
func Stagef(stage, format string, v ...interface{}) {
	Logf("["+stage+"] "+format, v...)
}

// Warnf logs a condition the run survives but the operator must see,
// such as a degenerate image or clamped detaper pixels.
func Warnf(format string, v ...interface{}) {
	Logf("WARNING: "+format, v...)
}
