// Package telemetry wires Prometheus metrics and OpenTelemetry tracing into
// the store and the HTTP server.
package telemetry
