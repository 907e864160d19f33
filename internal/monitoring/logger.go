// Package monitoring holds the process-wide diagnostic logger used by
// the data and pointing packages.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to
// log.Printf; hosts embedding the library can redirect or mute it with
// SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil argument installs a
// no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
