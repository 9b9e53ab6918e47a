// Package api implements the autoheal HTTP API.
//
// New(deps) returns an http.Handler that serves:
//
//	GET  /api/v1/health              liveness plus loop and agent summary
//	GET  /api/v1/alerts?limit=N      recent alerts from the in-memory log
//	GET  /api/v1/history?limit=N     persisted alerts (404 without storage)
//	GET  /api/v1/stats               dispatcher, watchdog and export counters
//	GET  /api/v1/rules               registered rules in evaluation order
//	POST /api/v1/rules/{id}/reset    clear a rule's cooldown
//	GET  /api/v1/agents              supervised agents in registration order
//	GET  /api/v1/agents/{id}         one agent
//	POST /api/v1/agents/{id}/reset   clear an agent's restart budget
//	GET  /metrics                    Prometheus exposition (with telemetry)
//
// Responses are JSON. Wrong methods get 405 with a JSON error body.
package api
