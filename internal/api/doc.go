// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - POST /api/scrape creates a job and returns it in the pending state.
//   - GET /api/jobs lists every job; GET /api/jobs/{job_id} returns one.
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
package api
