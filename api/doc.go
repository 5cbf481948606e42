// Package api defines the HTTP wire contract of the Tensorgate gateway.
//
// # API Overview
//
// Tensorgate exposes a small RESTful surface:
//   - POST /inference — invoke a named function (SSE streaming optional)
//   - POST /feedback  — record metric feedback for an inference or episode
//   - GET  /status    — liveness probe
//   - GET  /metrics   — Prometheus text exposition (separate port)
//
// # Error Shape
//
// Every error response carries a single envelope:
//
//	{"error": {"kind": "<ERROR_CODE>", "message": "...", "details": {"provider_errors": [...]}}}
//
// with the HTTP status determined by the error kind (400 validation,
// 408 timeout, 422 output validation, 429 rate limit, 502 when all
// providers failed).
//
// # Base URL
//
// The default bind address is configured in the gateway registry:
//
//	http://localhost:3000
//
// # Generating Documentation
//
// Handlers carry swag annotations; regenerate Swagger docs with:
//
//	swag init -g cmd/tensorgate/main.go -o api --parseDependency --parseInternal
package api
