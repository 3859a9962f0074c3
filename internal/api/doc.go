// Package api implements the HTTP REST API and WebSocket notifier.
//
// This package provides:
//   - Drone-facing registration intake and status polling (rate limited)
//   - Operator endpoints for reviewing and deciding registration requests
//   - Drone listing and outbound command endpoints
//   - Health, self-test, runtime metrics and audit log queries
//   - A WebSocket hub that fans out registration and command response events
//
// # Architecture
//
// Handlers are a thin layer over the registration workflow, the device
// store and the command publisher. Domain sentinel errors are mapped to HTTP
// status codes in one place (writeServiceError).
//
// # Graceful Degradation
//
// The server operates without a broker connection. Reads and WebSocket
// connections work; command endpoints answer 503 while the bridge is down.
package api
