// Package api hosts the HTTP server, middleware, and REST handlers for the
// conversion service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to submit URLs or inline HTML for conversion.
//   - GET /v1/jobs and /v1/jobs/{job_id} for job status.
//   - GET /v1/jobs/{job_id}/events for the progress event log.
//   - POST /v1/jobs/{job_id}/stop to stop a queued or running job.
package api
