// Package sinks implements progress consumers: structured logging, Prometheus
// metrics and the per-job event log served by the HTTP API.
package sinks
