// Package observability provides structured logging, Prometheus metrics,
// and preflight health checks for depgate.
//
// Key features:
// - Structured JSON logging on stderr with configurable log levels
// - Per-run Prometheus metrics pushed to a Pushgateway
// - Component health checks for the --check preflight mode
package observability
