package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns the process-wide tracer used for event-bus and node spans.
// This module registers no exporter or provider (OTLP, stdout, etc.);
// otel.GetTracerProvider falls back to a no-op provider until one is
// registered, so this is safe to call even when no exporter is configured.
func Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}
