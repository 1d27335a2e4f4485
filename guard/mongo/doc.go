// Package mongo acquires verified MongoDB handles for wiring-time use.
//
// New dials the server, pings it, and returns a client whose GetClient and
// GetDatabase hand back NonNil-wrapped driver handles. Acquisition failures
// are reported as errors; on error the returned wrapper is the zero value
// and using it is itself a contract violation. The Must variants fail fast
// instead, for boot paths where a missing database should stop the process.
package mongo
