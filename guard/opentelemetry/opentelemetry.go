// Package opentelemetry provides the small tracing helpers shared by the
// guard connectors. Provider and exporter bootstrap is the application's
// concern; everything here records onto whatever provider is installed.
package opentelemetry

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HandleSpanError marks a span failed and records err on it. A nil err is a
// no-op, so failure paths can call it unconditionally.
func HandleSpanError(span trace.Span, message string, err error) {
	if span == nil || err == nil {
		return
	}

	span.SetStatus(codes.Error, message+": "+err.Error())
	span.RecordError(err)
}
