// Package sinks implements progress consumers: structured logging and
// Prometheus job metrics.
package sinks
