package fail

import (
	"context"
	"fmt"
	"sync"

	constant "github.com/LerianStudio/lib-guard/guard/constants"
	"github.com/LerianStudio/lib-guard/guard/opentelemetry/metrics"
)

// ViolationMetrics provides violation-related metrics using OpenTelemetry.
// It wraps the library MetricsFactory for consistent metric handling.
type ViolationMetrics struct {
	factory *metrics.MetricsFactory
}

// violationMetric defines the metric for counting contract violations.
var violationMetric = metrics.Metric{
	Name:        constant.MetricViolationTotal,
	Unit:        "1",
	Description: "Total number of contract violations raised by fail-fast checks",
}

var (
	violationMetricsInstance *ViolationMetrics
	violationMetricsMu       sync.RWMutex
)

// InitMetrics initializes violation metrics with the provided MetricsFactory.
// This should be called once during application startup after telemetry is
// initialized. A nil factory leaves metrics disabled; subsequent calls after
// a successful initialization are no-ops.
func InitMetrics(factory *metrics.MetricsFactory) {
	violationMetricsMu.Lock()
	defer violationMetricsMu.Unlock()

	if factory == nil {
		return
	}

	if violationMetricsInstance != nil {
		return
	}

	violationMetricsInstance = &ViolationMetrics{factory: factory}
}

// GetMetrics returns the singleton ViolationMetrics instance.
// Returns nil if InitMetrics has not been called.
func GetMetrics() *ViolationMetrics {
	violationMetricsMu.RLock()
	defer violationMetricsMu.RUnlock()

	return violationMetricsInstance
}

// ResetMetrics clears the violation metrics singleton (useful for tests).
func ResetMetrics() {
	violationMetricsMu.Lock()
	defer violationMetricsMu.Unlock()

	violationMetricsInstance = nil
}

// RecordViolation increments the violation counter with labels.
// If metrics are not initialized, this is a no-op.
func (vm *ViolationMetrics) RecordViolation(
	ctx context.Context,
	component, operation, check string,
) {
	if vm == nil || vm.factory == nil {
		return
	}

	counter, err := vm.factory.Counter(violationMetric)
	if err != nil {
		logViolation(fmt.Sprintf("failed to create violation metric counter: %v", err))
		return
	}

	err = counter.
		WithLabels(map[string]string{
			"component": constant.SanitizeMetricLabel(component),
			"operation": constant.SanitizeMetricLabel(operation),
			"check":     constant.SanitizeMetricLabel(check),
		}).
		AddOne(ctx)
	if err != nil {
		logViolation(fmt.Sprintf("failed to record violation metric: %v", err))
		return
	}
}

func recordViolationMetric(ctx context.Context, component, operation, check string) {
	vm := GetMetrics()
	if vm != nil {
		vm.RecordViolation(ctx, component, operation, check)
	}
}
