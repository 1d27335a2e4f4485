package runtime

import (
	"context"
	"runtime/debug"

	"github.com/LerianStudio/lib-guard/guard/log"
)

// Logger is the narrow logging surface the recovery helpers need.
// The full log.Logger interface satisfies it.
type Logger interface {
	Log(ctx context.Context, level log.Level, msg string, fields ...log.Field)
}

// Policy selects what a recovery helper does after a panic has been
// logged and reported.
type Policy int

const (
	// KeepRunning swallows the panic after reporting it. Use for worker
	// loops and request handlers that must survive individual failures.
	KeepRunning Policy = iota
	// CrashProcess re-panics with the original value after reporting, so
	// the process supervisor can restart the service.
	CrashProcess
)

// RecoverAndLog recovers a panic, reports it, and keeps the goroutine alive.
// Intended as a deferred call:
//
//	go func() {
//	    defer runtime.RecoverAndLog(logger, "outbox_worker")
//	    work()
//	}()
func RecoverAndLog(logger Logger, goroutineName string) {
	if r := recover(); r != nil {
		handlePanic(context.Background(), logger, "", goroutineName, r, debug.Stack(), KeepRunning)
	}
}

// RecoverAndLogWithContext is RecoverAndLog with trace correlation and a
// component label for metrics.
func RecoverAndLogWithContext(ctx context.Context, logger Logger, component, goroutineName string) {
	if r := recover(); r != nil {
		handlePanic(ctx, logger, component, goroutineName, r, debug.Stack(), KeepRunning)
	}
}

// RecoverAndCrash recovers a panic, reports it, and re-panics with the
// original value. Use when the process must not continue past a panic but
// the failure should still reach logs and the error reporter first.
func RecoverAndCrash(logger Logger, goroutineName string) {
	if r := recover(); r != nil {
		handlePanic(context.Background(), logger, "", goroutineName, r, debug.Stack(), CrashProcess)
	}
}

// RecoverAndCrashWithContext is RecoverAndCrash with trace correlation and a
// component label for metrics.
func RecoverAndCrashWithContext(ctx context.Context, logger Logger, component, goroutineName string) {
	if r := recover(); r != nil {
		handlePanic(ctx, logger, component, goroutineName, r, debug.Stack(), CrashProcess)
	}
}

// RecoverWithPolicy recovers a panic and applies the given policy.
func RecoverWithPolicy(logger Logger, goroutineName string, policy Policy) {
	if r := recover(); r != nil {
		handlePanic(context.Background(), logger, "", goroutineName, r, debug.Stack(), policy)
	}
}

// RecoverWithPolicyAndContext is RecoverWithPolicy with trace correlation
// and a component label for metrics.
func RecoverWithPolicyAndContext(ctx context.Context, logger Logger, component, goroutineName string, policy Policy) {
	if r := recover(); r != nil {
		handlePanic(ctx, logger, component, goroutineName, r, debug.Stack(), policy)
	}
}

// HandlePanicValue reports an already-recovered panic value. It is the
// integration point for transport middleware that performs its own recover()
// because it needs to classify the value before deciding on a response.
// A nil panicValue is a no-op.
func HandlePanicValue(ctx context.Context, logger Logger, panicValue any, component, goroutineName string) {
	if panicValue == nil {
		return
	}

	handlePanic(ctx, logger, component, goroutineName, panicValue, debug.Stack(), KeepRunning)
}

// handlePanic is the single funnel for every recovered panic: log with
// stack, count the metric, and report to the error service. With
// CrashProcess it re-panics with the original value so callers up the stack
// observe the panic unchanged.
func handlePanic(
	ctx context.Context,
	logger Logger,
	component, goroutineName string,
	panicValue any,
	stack []byte,
	policy Policy,
) {
	logPanicWithStack(logger, goroutineName, panicValue, stack)
	recordPanicMetric(ctx, component, goroutineName)
	reportPanicToErrorService(ctx, panicValue, stack, component, goroutineName)

	if policy == CrashProcess {
		panic(panicValue)
	}
}

// logPanicWithStack logs a recovered panic. Stack traces are suppressed in
// production mode.
func logPanicWithStack(logger Logger, goroutineName string, panicValue any, stack []byte) {
	if logger == nil {
		return
	}

	fields := []log.Field{
		log.String("goroutine", goroutineName),
		log.String("panic", formatPanicValue(panicValue)),
	}

	if !IsProductionMode() && len(stack) > 0 {
		fields = append(fields, log.String("stack", string(stack)))
	}

	logger.Log(context.Background(), log.LevelError, "panic recovered", fields...)
}
