// Package metrics exposes AquaNext telemetry as Prometheus collectors.
//
// A Metrics value owns its own registry so tests and multiple instances do
// not collide on the global default registry. It observes:
//   - Inbound messages by kind and inbox drops (telemetry.Recorder)
//   - The latest snapshot as gauges per tank metric and environment key
//   - Broker connection status as a one-hot gauge
//   - Mode commands by result (telemetry.CommandObserver)
//   - HTTP requests by route and status (Middleware)
package metrics
