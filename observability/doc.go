// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for agent runs.
//
// Every helper is safe to call on a nil receiver so library code can record
// unconditionally while callers that do not care about telemetry pass nothing.
package observability
