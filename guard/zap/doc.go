// Package zap provides adapters and helpers around zap-based logging.
//
// It bridges the guard/log abstraction to zap while preserving structured
// fields, OpenTelemetry trace correlation, and the fail-fast reporting path.
package zap
