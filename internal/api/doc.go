// Package api implements the HTTP API and WebSocket server for the relay.
//
// This package provides:
//   - Polling endpoints for the latest message and the visible history
//   - Publish and chat-send endpoints that forward to the broker
//   - Account registration, login and logout with session cookies
//   - A WebSocket hub pushing messages and connection changes
//   - Middleware stack (request ID, logging, recovery, CORS, body limit,
//     session guard, per-identity rate limit)
//
// # Routes
//
//	GET  /api/health            no auth
//	GET  /api/metrics           no auth, JSON
//	GET  /metrics               no auth, Prometheus
//	POST /api/auth/register     no auth
//	POST /api/auth/login        no auth
//	POST /api/auth/logout       no auth
//	GET  /api/auth/me           no auth, {user|null}
//	GET  /api/iot/latest        session
//	GET  /api/iot/history       session
//	POST /api/iot/publish       session, rate limited
//	POST /api/iot/send          session, rate limited
//	GET  /api/chat/messages     session
//	POST /api/chat/send         session, rate limited
//	GET  /api/audit            session, caller's own activity
//	GET  /api/ws                session
//
// # Graceful Degradation
//
// The server keeps serving while the broker is down. Reads report
// connected=false and publishes fail fast with 503 not_connected.
package api
