// Package logging provides structured logging for AquaNext Core.
//
// It wraps log/slog so every component logs the same way: JSON in production,
// text during development, with service and version fields on every entry.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("telemetry").Info("snapshot seeded", "tanks", 5)
//
// Never log broker passwords or full credential-bearing URIs.
package logging
