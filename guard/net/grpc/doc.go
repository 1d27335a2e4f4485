// Package grpc provides server interceptors that turn contract violations
// into gRPC status errors.
//
// UnaryViolationRecovery and StreamViolationRecovery recover *fail.Violation
// panics raised in handlers and answer with codes.Internal carrying the
// violation ID, so the status a client sees can be correlated with the
// violation's logs, metrics, and span events. Foreign panics are reported
// through guard/runtime before a generic codes.Internal is returned.
package grpc
