// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/captures to schedule a batch; GET /v1/jobs/{job_id} to poll it.
//   - GET /v1/targets and POST /v1/targets/{slug}/variants for catalog
//     inspection and synchronous variant regeneration.
package api
