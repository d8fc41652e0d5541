// Package progress provides the event primitives and the hub the crawler uses
// to report run, page, fetch and poem milestones. The hub fans each event out
// to pluggable sinks such as structured logs, Prometheus metrics, a Postgres
// catalog or a Pub/Sub topic.
package progress
