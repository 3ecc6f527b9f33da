// Package api hosts the HTTP server, middleware, and handlers of the preview
// service. Routes:
//   - POST /preview and POST /previews resolve one or many URLs.
//   - DELETE /cache, GET /cache-stats and GET /cache-keys administer the cache.
//   - GET /healthz and /readyz for probes; GET /metrics for Prometheus.
package api
