// Package sinks implements progress consumers for structured logs and
// Prometheus gauges.
package sinks
