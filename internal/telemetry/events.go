package telemetry

import (
	"math"
	"strconv"
	"strings"

	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/mqtt"
)

// Event is the classified form of one broker message.
// The set of implementations is closed: ModeEvent, EnvEvent,
// TankMetricEvent and IgnoredEvent.
type Event interface {
	event()
}

// Reading is a payload that may or may not be numeric.
type Reading struct {
	// Raw is the payload text as received.
	Raw string

	// Value is the parsed number, valid only when Numeric is true.
	Value   float64
	Numeric bool
}

// ParseReading converts payload text into a Reading. Text that is not a
// finite number after trimming keeps only Raw.
func ParseReading(raw string) Reading {
	r := Reading{Raw: raw}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return r
	}
	r.Value = v
	r.Numeric = true
	return r
}

// ModeEvent is a message on the authoritative mode topic.
type ModeEvent struct {
	Raw string
}

// EnvEvent is an environment reading. Key may be unknown.
type EnvEvent struct {
	Key     EnvKey
	Reading Reading
}

// TankMetricEvent is a tank sensor reading. Metric may be unknown.
type TankMetricEvent struct {
	TankID  string
	Metric  Metric
	Reading Reading
}

// IgnoredEvent is any message whose topic has no meaning for the snapshot.
type IgnoredEvent struct {
	Topic  string
	Reason string
}

func (ModeEvent) event()       {}
func (EnvEvent) event()        {}
func (TankMetricEvent) event() {}
func (IgnoredEvent) event()    {}

// Classify maps a topic and payload to an Event. It never fails; unknown
// shapes become IgnoredEvent.
func Classify(topics mqtt.Topics, topic string, payload []byte) Event {
	segments, ok := topics.Relative(topic)
	if !ok {
		return IgnoredEvent{Topic: topic, Reason: "outside topic root"}
	}

	switch segments[0] {
	case mqtt.SegmentMode:
		if len(segments) == 1 {
			return ModeEvent{Raw: string(payload)}
		}
	case mqtt.SegmentEnv:
		// The env filter is multi-level; the key is the first segment under it.
		if len(segments) >= 2 && segments[1] != "" {
			return EnvEvent{Key: EnvKey(segments[1]), Reading: ParseReading(string(payload))}
		}
	case mqtt.SegmentTanks:
		if len(segments) == 3 && segments[1] != "" && segments[2] != "" {
			return TankMetricEvent{
				TankID:  segments[1],
				Metric:  Metric(segments[2]),
				Reading: ParseReading(string(payload)),
			}
		}
	}

	return IgnoredEvent{Topic: topic, Reason: "unknown topic shape"}
}

// Event kinds used in logs and metrics labels.
const (
	KindMode    = "mode"
	KindEnv     = "env"
	KindTank    = "tank"
	KindIgnored = "ignored"
)

// KindOf returns the label for ev.
func KindOf(ev Event) string {
	switch ev.(type) {
	case ModeEvent:
		return KindMode
	case EnvEvent:
		return KindEnv
	case TankMetricEvent:
		return KindTank
	default:
		return KindIgnored
	}
}
