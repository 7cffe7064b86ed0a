// Package api implements the HTTP REST API and WebSocket feed for Gray Logic Zones.
//
// This package provides:
//   - REST endpoints to inspect controllers and their state history
//   - Posting zone events and enforcement commands
//   - WebSocket hub broadcasting controller transitions and enforcer status,
//     filterable by controller or entity, with a snapshot on subscribe
//   - JWT bearer authentication with role permissions and single-use WebSocket tickets
//   - Middleware stack (request ID, logging, recovery, CORS, rate limiting)
//   - Prometheus metrics at /api/v1/metrics
//
// # Security
//
// Every route except /health and /metrics requires a bearer token minted by
// `zonectl token`. Browsers cannot set headers on a WebSocket upgrade, so
// /ws accepts a single-use ticket from POST /auth/ws-ticket, or the token
// itself in the token query parameter.
//
// # Graceful Degradation
//
// The enforcer manager and history reader are optional. Their routes answer
// 503 when the dependency is not configured.
package api
