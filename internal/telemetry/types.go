package telemetry

import "strings"

// Mode is the operating mode of the line.
type Mode string

// Operating modes.
const (
	// ModeFlow is flow-through operation with continuous sea water intake.
	ModeFlow Mode = "flow"

	// ModeRAS is recirculating aquaculture operation.
	ModeRAS Mode = "ras"
)

// ParseMode normalises raw (trim, lower-case) and reports whether it names a mode.
func ParseMode(raw string) (Mode, bool) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeFlow, ModeRAS:
		return m, true
	default:
		return "", false
	}
}

// Other returns the opposite mode.
func (m Mode) Other() Mode {
	if m == ModeRAS {
		return ModeFlow
	}
	return ModeRAS
}

// TankType classifies a tank.
type TankType string

// Tank types.
const (
	TankGrow   TankType = "grow"
	TankFilter TankType = "filter"
	TankSea    TankType = "sea"
)

// ValidTankType reports whether t is a known tank type.
func ValidTankType(t TankType) bool {
	switch t {
	case TankGrow, TankFilter, TankSea:
		return true
	}
	return false
}

// Metric names a tank sensor as it appears in the topic.
type Metric string

// Tank metrics.
const (
	MetricTemp      Metric = "temp"
	MetricDO        Metric = "do"
	MetricPH        Metric = "ph"
	MetricSal       Metric = "sal"
	MetricFish      Metric = "fish"
	MetricAvgW      Metric = "avgW"
	MetricFeed      Metric = "feed"
	MetricMortality Metric = "mortality"
)

// Metrics lists every tank metric in display order.
var Metrics = []Metric{
	MetricTemp, MetricDO, MetricPH, MetricSal,
	MetricFish, MetricAvgW, MetricFeed, MetricMortality,
}

// ValidMetric reports whether m is a known tank metric.
func ValidMetric(m Metric) bool {
	_, ok := (&Tank{}).field(m)
	return ok
}

// EnvKey names an environment reading as it appears in the topic.
type EnvKey string

// Environment keys.
const (
	EnvRain       EnvKey = "rain"
	EnvWave       EnvKey = "wave"
	EnvTemp       EnvKey = "temp"
	EnvFeel       EnvKey = "feel"
	EnvWindDir    EnvKey = "windDir"
	EnvWind       EnvKey = "wind"
	EnvPowerTotal EnvKey = "powerTotal"
	EnvMortality  EnvKey = "mortality"
)

// EnvKeys lists every environment key in display order.
var EnvKeys = []EnvKey{
	EnvRain, EnvWave, EnvTemp, EnvFeel,
	EnvWindDir, EnvWind, EnvPowerTotal, EnvMortality,
}

// ValidEnvKey reports whether k is a known environment key.
func ValidEnvKey(k EnvKey) bool {
	_, ok := (&Environment{}).field(k)
	return ok
}

// Tank is the latest known state of one tank.
type Tank struct {
	ID    string   `json:"id"`
	Label string   `json:"label,omitempty"`
	Type  TankType `json:"type"`

	Temp      float64 `json:"temp"`
	DO        float64 `json:"do"`
	PH        float64 `json:"ph"`
	Sal       float64 `json:"sal"`
	Fish      float64 `json:"fish"`
	AvgW      float64 `json:"avgW"`
	Feed      float64 `json:"feed"`
	Mortality float64 `json:"mortality"`
}

// Metric returns the value of m.
func (t Tank) Metric(m Metric) (float64, bool) {
	p, ok := t.field(m)
	if !ok {
		return 0, false
	}
	return *p, true
}

// field returns a pointer to the value of m.
func (t *Tank) field(m Metric) (*float64, bool) {
	switch m {
	case MetricTemp:
		return &t.Temp, true
	case MetricDO:
		return &t.DO, true
	case MetricPH:
		return &t.PH, true
	case MetricSal:
		return &t.Sal, true
	case MetricFish:
		return &t.Fish, true
	case MetricAvgW:
		return &t.AvgW, true
	case MetricFeed:
		return &t.Feed, true
	case MetricMortality:
		return &t.Mortality, true
	}
	return nil, false
}

// set writes v to m and reports whether the stored value changed.
func (t *Tank) set(m Metric, v float64) bool {
	p, ok := t.field(m)
	if !ok || *p == v {
		return false
	}
	*p = v
	return true
}

// Environment holds the line-wide readings.
type Environment struct {
	Rain       float64 `json:"rain"`
	Wave       float64 `json:"wave"`
	Temp       float64 `json:"temp"`
	Feel       float64 `json:"feel"`
	WindDir    float64 `json:"windDir"`
	Wind       float64 `json:"wind"`
	PowerTotal float64 `json:"powerTotal"`
	Mortality  float64 `json:"mortality"`
}

// Value returns the reading for k.
func (e Environment) Value(k EnvKey) (float64, bool) {
	p, ok := e.field(k)
	if !ok {
		return 0, false
	}
	return *p, true
}

func (e *Environment) field(k EnvKey) (*float64, bool) {
	switch k {
	case EnvRain:
		return &e.Rain, true
	case EnvWave:
		return &e.Wave, true
	case EnvTemp:
		return &e.Temp, true
	case EnvFeel:
		return &e.Feel, true
	case EnvWindDir:
		return &e.WindDir, true
	case EnvWind:
		return &e.Wind, true
	case EnvPowerTotal:
		return &e.PowerTotal, true
	case EnvMortality:
		return &e.Mortality, true
	}
	return nil, false
}

func (e *Environment) set(k EnvKey, v float64) bool {
	p, ok := e.field(k)
	if !ok || *p == v {
		return false
	}
	*p = v
	return true
}

// Snapshot is the complete state at one point in time.
//
// A Snapshot is never modified after it is published. Reductions that change
// anything return a new Snapshot, so two snapshots differ exactly when their
// pointers differ.
type Snapshot struct {
	Environment Environment `json:"environment"`
	Mode        Mode        `json:"mode"`
	Tanks       []Tank      `json:"tanks"`
}

// Tank returns the tank with id.
func (s *Snapshot) Tank(id string) (Tank, bool) {
	if i := s.tankIndex(id); i >= 0 {
		return s.Tanks[i], true
	}
	return Tank{}, false
}

func (s *Snapshot) tankIndex(id string) int {
	for i := range s.Tanks {
		if s.Tanks[i].ID == id {
			return i
		}
	}
	return -1
}

// clone copies s including its tank slice.
func (s *Snapshot) clone() *Snapshot {
	out := *s
	out.Tanks = make([]Tank, len(s.Tanks), len(s.Tanks)+1)
	copy(out.Tanks, s.Tanks)
	return &out
}
