package telemetry

import "errors"

// Domain errors for the telemetry package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, telemetry.ErrInvalidMode) {
//	    // reject the request
//	}
var (
	// ErrInvalidMode is returned when a requested mode is not flow or ras.
	ErrInvalidMode = errors.New("telemetry: invalid mode")

	// ErrInvalidFacility is returned when facility metadata cannot be used.
	ErrInvalidFacility = errors.New("telemetry: invalid facility")

	// ErrUnknownMetric is returned when a mirror rule names an unknown metric.
	ErrUnknownMetric = errors.New("telemetry: unknown metric")

	// ErrTankNotFound is returned when a tank id is not in the snapshot.
	ErrTankNotFound = errors.New("telemetry: tank not found")
)
