package fail

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	constant "github.com/LerianStudio/lib-guard/guard/constants"
	"github.com/LerianStudio/lib-guard/guard/log"
	"github.com/LerianStudio/lib-guard/guard/runtime"
)

// Logger defines the minimal logging interface required by contract checks.
// This interface is satisfied by guard/log.Logger.
type Logger interface {
	Log(ctx context.Context, level log.Level, msg string, fields ...log.Field)
}

var (
	violationLogger   Logger
	violationLoggerMu sync.RWMutex
)

// SetLogger installs the logger used to report violations. Checks raised
// before SetLogger (or after SetLogger(nil)) write to stderr instead, so a
// violation is never silent.
func SetLogger(logger Logger) {
	violationLoggerMu.Lock()
	defer violationLoggerMu.Unlock()

	violationLogger = logger
}

func getLogger() Logger {
	violationLoggerMu.RLock()
	defer violationLoggerMu.RUnlock()

	return violationLogger
}

// Fast checks a contract condition and aborts when it does not hold.
// A true condition is a free no-op. A false condition logs the violation,
// records telemetry, and panics with a *Violation; Fast never returns after
// a failed check.
//
// Example:
//
//	fail.Fast(len(items) > 0, "items must not be empty", "count", len(items))
func Fast(ok bool, msg string, kv ...any) {
	if ok {
		return
	}

	violate(context.Background(), "Fast", "", "", msg, kv)
}

// FastCtx is Fast with a context. When ctx carries a recording span the
// violation is attached to it as an event before the panic.
func FastCtx(ctx context.Context, ok bool, msg string, kv ...any) {
	if ok {
		return
	}

	violate(ctx, "Fast", "", "", msg, kv)
}

// Never marks a code path that must be unreachable. Calling it is itself the
// violation: it always panics with a *Violation.
//
// Example:
//
//	switch state {
//	case stateOpen, stateClosed:
//		// handled above
//	default:
//		fail.Never("unhandled connection state", "state", state)
//	}
func Never(msg string, kv ...any) {
	violate(context.Background(), "Never", "", "", msg, kv)
}

// NeverCtx is Never with a context for span correlation.
func NeverCtx(ctx context.Context, msg string, kv ...any) {
	violate(ctx, "Never", "", "", msg, kv)
}

// Scope labels violations with the component and operation that raised them.
// The labels flow into the violation counter metric and span event attributes,
// which is how per-component violation rates stay queryable.
type Scope struct {
	component string
	operation string
}

// In returns a Scope for the given component and operation. Either label may
// be empty; empty labels are omitted from telemetry.
//
// Example:
//
//	check := fail.In("redis", "get_client")
//	check.Fast(ctx, conn != nil, "connection must be established")
func In(component, operation string) Scope {
	return Scope{
		component: component,
		operation: operation,
	}
}

// Fast behaves like the package-level FastCtx with the scope's labels.
func (scope Scope) Fast(ctx context.Context, ok bool, msg string, kv ...any) {
	if ok {
		return
	}

	violate(ctx, "Fast", scope.component, scope.operation, msg, kv)
}

// Never behaves like the package-level NeverCtx with the scope's labels.
func (scope Scope) Never(ctx context.Context, msg string, kv ...any) {
	violate(ctx, "Never", scope.component, scope.operation, msg, kv)
}

//nolint:contextcheck // Intentionally creates a fallback context when nil is passed
func violate(ctx context.Context, check, component, operation, msg string, kv []any) {
	if ctx == nil {
		ctx = context.Background()
	}

	violation := &Violation{
		ID:        uuid.New().String(),
		Check:     check,
		Message:   msg,
		Component: component,
		Operation: operation,
	}
	violation.Details = formatKeyValueLines(withContextPairs(violation, kv))

	stack := []byte(nil)
	if shouldIncludeStack() {
		stack = debug.Stack()
	}

	logViolation(formatLogMessage(msg, violation.Details, stack))
	recordViolationObservability(ctx, violation, stack)

	panic(violation)
}

func shouldIncludeStack() bool {
	// Primary check: use runtime.IsProductionMode() which is explicitly
	// set during application startup via runtime.SetProductionMode(true).
	if runtime.IsProductionMode() {
		return false
	}

	// Fallback: check environment variables for cases where production mode
	// has not been explicitly configured via the runtime package.
	env := strings.TrimSpace(os.Getenv("ENV"))
	goEnv := strings.TrimSpace(os.Getenv("GO_ENV"))

	return !strings.EqualFold(env, "production") && !strings.EqualFold(goEnv, "production")
}

// contextPairsCapacity is the capacity for the fixed context pairs (violation_id, check, component, operation).
const contextPairsCapacity = 8

func withContextPairs(violation *Violation, kv []any) []any {
	contextPairs := make([]any, 0, len(kv)+contextPairsCapacity)
	contextPairs = append(contextPairs, "violation_id", violation.ID)
	contextPairs = append(contextPairs, "check", violation.Check)

	if violation.Component != "" {
		contextPairs = append(contextPairs, "component", violation.Component)
	}

	if violation.Operation != "" {
		contextPairs = append(contextPairs, "operation", violation.Operation)
	}

	contextPairs = append(contextPairs, kv...)

	return contextPairs
}

const maxValueLength = 200 // Truncate values longer than this

// truncateValue truncates long values for logging safety.
// This prevents log bloat and reduces risk of sensitive data exposure.
func truncateValue(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) <= maxValueLength {
		return s
	}

	return s[:maxValueLength] + "... (truncated " + strconv.Itoa(len(s)-maxValueLength) + " chars)"
}

func formatKeyValueLines(kv []any) string {
	if len(kv) == 0 {
		return ""
	}

	var sb strings.Builder

	for i := 0; i < len(kv); i += 2 {
		if i > 0 {
			sb.WriteString("\n")
		}

		var value any
		if i+1 < len(kv) {
			value = kv[i+1]
		} else {
			value = "MISSING_VALUE"
		}

		fmt.Fprintf(&sb, "    %v=%v", kv[i], truncateValue(value))
	}

	return sb.String()
}

func formatLogMessage(msg, details string, stack []byte) string {
	var sb strings.Builder

	sb.WriteString("CONTRACT VIOLATION: ")
	sb.WriteString(msg)

	if details != "" {
		sb.WriteString("\n")
		sb.WriteString(details)
	}

	if len(stack) > 0 {
		sb.WriteString("\nstack trace:\n")
		sb.WriteString(string(stack))
	}

	return sb.String()
}

func logViolation(message string) {
	if logger := getLogger(); logger != nil {
		logger.Log(context.Background(), log.LevelError, message)
		return
	}

	fmt.Fprintln(os.Stderr, message)
}

// ViolationSpanEventName is the event name used when recording violations on spans.
const ViolationSpanEventName = constant.EventViolation

func recordViolationObservability(ctx context.Context, violation *Violation, stack []byte) {
	recordViolationMetric(ctx, violation.Component, violation.Operation, violation.Check)
	recordViolationToSpan(ctx, violation, stack)
}

func recordViolationToSpan(ctx context.Context, violation *Violation, stack []byte) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(constant.AttrPrefixViolation+"id", violation.ID),
		attribute.String(constant.AttrPrefixViolation+"check", violation.Check),
		attribute.String(constant.AttrPrefixViolation+"message", violation.Message),
	}

	if violation.Component != "" {
		attrs = append(attrs, attribute.String(constant.AttrPrefixViolation+"component", violation.Component))
	}

	if violation.Operation != "" {
		attrs = append(attrs, attribute.String(constant.AttrPrefixViolation+"operation", violation.Operation))
	}

	if len(stack) > 0 {
		attrs = append(attrs, attribute.String(constant.AttrPrefixViolation+"stack", string(stack)))
	}

	span.AddEvent(ViolationSpanEventName, trace.WithAttributes(attrs...))
	span.RecordError(violation)
	span.SetStatus(codes.Error, violationStatusMessage(violation.Component, violation.Operation))
}

func violationStatusMessage(component, operation string) string {
	switch {
	case component != "" && operation != "":
		return fmt.Sprintf("contract violation in %s/%s", component, operation)
	case component != "":
		return "contract violation in " + component
	case operation != "":
		return "contract violation in " + operation
	default:
		return "contract violation"
	}
}
