// Package sinks implements concrete progress consumers: structured logging,
// Prometheus metrics, a Postgres poem catalog and a Pub/Sub notifier. Each
// sink satisfies the progress.Sink interface.
package sinks
