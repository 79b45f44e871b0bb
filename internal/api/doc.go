// Package api hosts the ops HTTP server that runs alongside a pipeline run.
// Routes:
//   - GET /healthz and /readyz for health checks; readyz pings the database.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs/last for the latest run summary.
//   - GET /v1/credentials for credential pool counts.
//   - GET /v1/blocklist?limit=&offset= for blocked domains.
package api
