package mqtt

import (
	"fmt"
	"strings"
)

// DefaultRoot is the topic namespace of the first production line.
const DefaultRoot = "farm/line1"

// Topic segments below the root.
const (
	SegmentMode    = "mode"
	SegmentCommand = "cmd"
	SegmentEnv     = "env"
	SegmentTanks   = "tanks"
)

// Topics provides builders for facility MQTT topics under one root.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{Root: "farm/line1"}
//	topics.TankMetric("A5", "temp")
//	// Returns: "farm/line1/tanks/A5/temp"
type Topics struct {
	Root string
}

// root returns the configured root without surrounding slashes.
func (t Topics) root() string {
	r := strings.Trim(t.Root, "/")
	if r == "" {
		return DefaultRoot
	}
	return r
}

// =============================================================================
// State Topics (broker -> service)
// =============================================================================

// Mode returns the authoritative mode topic.
//
// Example: farm/line1/mode
func (t Topics) Mode() string {
	return fmt.Sprintf("%s/%s", t.root(), SegmentMode)
}

// Env returns the topic for one environment reading.
//
// Example: farm/line1/env/rain
func (t Topics) Env(key string) string {
	return fmt.Sprintf("%s/%s/%s", t.root(), SegmentEnv, key)
}

// TankMetric returns the topic for one tank sensor.
//
// Example: farm/line1/tanks/A5/temp
func (t Topics) TankMetric(tankID, metric string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.root(), SegmentTanks, tankID, metric)
}

// =============================================================================
// Command Topics (service -> broker)
// =============================================================================

// CommandMode returns the topic operators publish mode requests on.
//
// Example: farm/line1/cmd/mode
func (t Topics) CommandMode() string {
	return fmt.Sprintf("%s/%s/%s", t.root(), SegmentCommand, SegmentMode)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllEnv returns a pattern matching every environment reading.
//
// Pattern: farm/line1/env/#
func (t Topics) AllEnv() string {
	return fmt.Sprintf("%s/%s/#", t.root(), SegmentEnv)
}

// AllTankMetrics returns a pattern matching every tank sensor.
//
// Pattern: farm/line1/tanks/+/+
func (t Topics) AllTankMetrics() string {
	return fmt.Sprintf("%s/%s/+/+", t.root(), SegmentTanks)
}

// Relative strips the root from topic and returns the remaining segments.
// ok is false when topic is not under the root.
//
// Example: "farm/line1/tanks/A5/temp" -> ["tanks", "A5", "temp"], true
func (t Topics) Relative(topic string) (segments []string, ok bool) {
	prefix := t.root() + "/"
	if !strings.HasPrefix(topic, prefix) {
		return nil, false
	}
	rest := topic[len(prefix):]
	if rest == "" {
		return nil, false
	}
	return strings.Split(rest, "/"), true
}
