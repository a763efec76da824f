package monitoring

import "log"

// Logf is the package-level diagnostic logger for the bridge. It defaults to
// log.Printf but may be replaced by SetLogger. The control loop logs through
// it so tests can capture or mute tick-rate diagnostics.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
