// Package telemetry provides OpenTelemetry instrumentation for searchd.
//
// It manages the TracerProvider, MeterProvider, and optional OTLP export.
// Metrics are always readable through the Prometheus registry backing the
// /metrics endpoint; traces export over OTLP gRPC when an endpoint is
// configured. Telemetry failures never crash the service; initialization
// errors degrade to no-op providers.
package telemetry
