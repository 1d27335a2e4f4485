// Package fail implements the library's fail-fast contract checks.
//
// A failed check is not a recoverable condition: Fast and Never log the
// violation, record a span event and a counter metric, and then panic with a
// *Violation. Control never returns past a failed check, so code after a
// check may rely on the checked condition unconditionally.
//
// Transport packages (net/http, net/grpc) install recovery boundaries that
// classify *Violation panics with AsViolation and convert them into
// structured responses; everywhere else the panic is allowed to crash the
// goroutine, which is the point.
package fail
