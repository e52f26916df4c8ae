package telemetry

import (
	"fmt"

	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/config"
	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/mqtt"
)

// Seed values shown before the first reading arrives.
var seedEnvironment = Environment{
	Rain:       204,
	Wave:       1.5,
	Temp:       27.3,
	Feel:       30.9,
	WindDir:    323,
	Wind:       3.9,
	PowerTotal: 53282,
	Mortality:  12.3,
}

// defaultPH is the neutral placeholder for tanks that have not reported pH.
const defaultPH = 4.0

// TankMeta is static metadata for a known tank.
type TankMeta struct {
	ID    string
	Label string
	Type  TankType
}

// MirrorRule copies selected metrics from one source tank onto targets.
type MirrorRule struct {
	Source  string
	Targets []string
	Metrics []Metric

	// EnvironmentTemp derives environment temp from the source temp.
	EnvironmentTemp bool
}

// mirrors reports whether m is copied from the source.
func (r MirrorRule) mirrors(m Metric) bool {
	for _, x := range r.Metrics {
		if x == m {
			return true
		}
	}
	return false
}

// Facility describes one production line: its topic namespace, known tanks
// and mirror rule.
type Facility struct {
	Topics mqtt.Topics
	Tanks  []TankMeta
	Mirror MirrorRule
}

// NewFacility builds a Facility from configuration.
//
// Returns:
//   - *Facility: Ready for Seed and Reduce
//   - error: ErrInvalidFacility or ErrUnknownMetric
func NewFacility(cfg config.FacilityConfig) (*Facility, error) {
	f := &Facility{
		Topics: mqtt.Topics{Root: cfg.TopicRoot},
		Tanks:  make([]TankMeta, 0, len(cfg.Tanks)),
		Mirror: MirrorRule{
			Source:          cfg.Mirror.Source,
			Targets:         append([]string(nil), cfg.Mirror.Targets...),
			EnvironmentTemp: cfg.Mirror.EnvironmentTemp,
		},
	}

	seen := make(map[string]bool, len(cfg.Tanks))
	for _, t := range cfg.Tanks {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: tank with empty id", ErrInvalidFacility)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("%w: tank %q listed twice", ErrInvalidFacility, t.ID)
		}
		seen[t.ID] = true

		typ := TankType(t.Type)
		if typ == "" {
			typ = TankGrow
		}
		if !ValidTankType(typ) {
			return nil, fmt.Errorf("%w: tank %q has type %q", ErrInvalidFacility, t.ID, t.Type)
		}
		f.Tanks = append(f.Tanks, TankMeta{ID: t.ID, Label: t.Label, Type: typ})
	}

	for _, name := range cfg.Mirror.Metrics {
		m := Metric(name)
		if !ValidMetric(m) {
			return nil, fmt.Errorf("%w: mirror metric %q", ErrUnknownMetric, name)
		}
		f.Mirror.Metrics = append(f.Mirror.Metrics, m)
	}

	return f, nil
}

// DefaultFacility returns the reference line (farm/line1, A5 mirrored onto
// F5, A1, FIL and SEA).
func DefaultFacility() *Facility {
	f, err := NewFacility(config.Default().Facility)
	if err != nil {
		panic(fmt.Sprintf("telemetry: default facility: %v", err))
	}
	return f
}

// meta returns the metadata for id.
func (f *Facility) meta(id string) (TankMeta, bool) {
	for _, m := range f.Tanks {
		if m.ID == id {
			return m, true
		}
	}
	return TankMeta{}, false
}

// newTank creates the zero-valued tank for an unknown id.
func (f *Facility) newTank(id string) Tank {
	t := Tank{ID: id, Type: TankGrow, PH: defaultPH}
	if m, ok := f.meta(id); ok {
		t.Label = m.Label
		t.Type = m.Type
	}
	return t
}

// Seed returns the initial snapshot: placeholder environment readings and
// one tank per metadata entry.
func (f *Facility) Seed(mode Mode) *Snapshot {
	if _, ok := ParseMode(string(mode)); !ok {
		mode = ModeFlow
	}

	s := &Snapshot{
		Environment: seedEnvironment,
		Mode:        mode,
		Tanks:       make([]Tank, 0, len(f.Tanks)),
	}

	for _, m := range f.Tanks {
		t := Tank{
			ID:    m.ID,
			Label: m.Label,
			Type:  m.Type,
			Temp:  27,
			DO:    6.8,
			PH:    defaultPH,
			Sal:   17.5,
		}
		if m.Type == TankGrow {
			t.Fish = 2000
			t.AvgW = 45
			t.Feed = 5.0
			t.Mortality = 12.0
		}
		s.Tanks = append(s.Tanks, t)
	}
	return s
}
