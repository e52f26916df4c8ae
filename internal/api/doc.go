// Package api implements the HTTP REST API and WebSocket server for AquaNext Core.
//
// This package provides:
//   - Read endpoints for the live snapshot, environment and tanks
//   - Mode control (read, set, toggle) over the broker command topic
//   - WebSocket hub broadcasting snapshot changes and connection status
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API server sits between the dashboard and the telemetry store. Reads
// come from the store's current snapshot without locking. Mode commands go
// through the ModeController, which writes the optimistic mode and publishes
// on the command topic; the authoritative echo returns through the broker
// subscription and reaches WebSocket clients as a snapshot.changed event.
//
// # Graceful Degradation
//
// The server operates without a broker session. Reads return the last known
// snapshot and /api/v1/status reports it as stale. Mode commands still apply
// optimistically; the publish failure is logged and counted.
package api
