// Package monitoring is the gateway's single diagnostic log sink. Sessions,
// stores, and the capture writer all log through Logf, so session tests can
// mute or redirect everything with one SetLogger call.
package monitoring

import "log"

// Logf writes one diagnostic line. Defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the sink. nil installs a no-op, which is how tests
// silence the ingest server.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
