// Package api hosts the HTTP server and REST handlers over the match query service.
// Routes:
//   - POST /v1/matches submits a reference product and returns a job ID.
//   - GET /v1/matches/{job_id} returns the current outcome.
//   - GET /v1/matches/{job_id}/wait blocks until the job is terminal.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
