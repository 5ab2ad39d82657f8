// Package telemetry wires OpenTelemetry tracing and metrics for autopilot.
//
// When disabled, New returns an instance whose Tracer and Meter fall back to the
// global no-op providers, so instrumented packages never need to check whether
// telemetry is on. When enabled, spans and metrics are exported over OTLP using
// gRPC or HTTP/protobuf and the SDK providers are installed globally.
package telemetry
