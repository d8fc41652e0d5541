// Package api hosts the optional ops HTTP server that runs beside a crawl.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the current run's progress as JSON.
package api
