package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations without a live session.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when a single candidate attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrAllCandidatesFailed is returned when no candidate produced a session.
	ErrAllCandidatesFailed = errors.New("mqtt: all broker candidates failed")

	// ErrNoValidCandidates is returned (wrapped in ErrAllCandidatesFailed) when
	// every candidate was rejected before any attempt was made.
	ErrNoValidCandidates = errors.New("mqtt: no valid broker candidates")

	// ErrInvalidEndpoint is returned for a candidate URI that cannot be used.
	ErrInvalidEndpoint = errors.New("mqtt: invalid broker endpoint")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
