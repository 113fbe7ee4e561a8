// Package api holds the HTTP surface of the agent server.
//
// # Endpoints
//
//	POST /invocations  run the registered agent, JSON or SSE
//	GET  /health       liveness
//	GET  /ready        readiness (Redis, database, registered callbacks)
//	GET  /version      build information
//	GET  /metrics      Prometheus metrics, on the metrics port
//
// Request handling lives in api/handlers; routing and middleware are wired
// in cmd/agent-server.
package api
