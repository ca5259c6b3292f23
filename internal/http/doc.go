// Package http provides the operational HTTP surface of the fishbowl service.
//
// The router exposes the following endpoints:
//   - GET /healthz: runs a database health check. Responds 200 with
//     {"status":"ok"} or 503 with {"status":"unavailable","message"}.
//   - GET /migrations: reports the schema status (current and latest version,
//     pending and applied migrations).
//   - GET /stats: reports database file and schema object statistics.
//   - GET /metrics: Prometheus exposition, when a metrics handler is configured.
//
// Every request passes through RequestLogger, which attaches a request-scoped
// logger to the context, and Recoverer, which turns panics into 500 responses.
package http
