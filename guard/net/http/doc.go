// Package http provides Fiber middleware that turns contract violations into
// structured HTTP responses.
//
// WithViolationRecovery recovers *fail.Violation panics raised below it and
// answers with a 500 ErrorResponse carrying the violation ID, so the response
// a client sees can be correlated with the violation's logs, metrics, and
// span events. Foreign panics are reported through guard/runtime before the
// same generic 500 is written.
//
// Local retrieves request-scoped dependencies as NonNil handles, so a handler
// either gets a usable handle or the request aborts through the recovery
// middleware.
package http
