package telemetry

// Reduce folds ev into s and returns the resulting snapshot.
//
// Reduce is pure: s is never modified. When ev changes nothing the same
// pointer is returned; otherwise the result is a fresh Snapshot with its own
// tank slice. Tanks are never removed.
func Reduce(f *Facility, s *Snapshot, ev Event) *Snapshot {
	switch e := ev.(type) {
	case ModeEvent:
		return reduceMode(s, e)
	case EnvEvent:
		return reduceEnv(s, e)
	case TankMetricEvent:
		return reduceTank(f, s, e)
	default:
		return s
	}
}

// ReduceMessage classifies a raw message under f's topic root and reduces it.
func ReduceMessage(f *Facility, s *Snapshot, topic string, payload []byte) *Snapshot {
	return Reduce(f, s, Classify(f.Topics, topic, payload))
}

func reduceMode(s *Snapshot, e ModeEvent) *Snapshot {
	mode, ok := ParseMode(e.Raw)
	if !ok || mode == s.Mode {
		return s
	}
	next := s.clone()
	next.Mode = mode
	return next
}

func reduceEnv(s *Snapshot, e EnvEvent) *Snapshot {
	if !e.Reading.Numeric || !ValidEnvKey(e.Key) {
		return s
	}
	if v, _ := s.Environment.Value(e.Key); v == e.Reading.Value {
		return s
	}
	next := s.clone()
	next.Environment.set(e.Key, e.Reading.Value)
	return next
}

func reduceTank(f *Facility, s *Snapshot, e TankMetricEvent) *Snapshot {
	next := s.clone()
	changed := false

	idx := next.tankIndex(e.TankID)
	if idx < 0 {
		next.Tanks = append(next.Tanks, f.newTank(e.TankID))
		idx = len(next.Tanks) - 1
		changed = true
	}

	if e.Reading.Numeric && ValidMetric(e.Metric) {
		v := e.Reading.Value
		if next.Tanks[idx].set(e.Metric, v) {
			changed = true
		}

		if e.TankID == f.Mirror.Source {
			if f.Mirror.mirrors(e.Metric) {
				for _, target := range f.Mirror.Targets {
					if j := next.tankIndex(target); j >= 0 && next.Tanks[j].set(e.Metric, v) {
						changed = true
					}
				}
			}
			if f.Mirror.EnvironmentTemp && e.Metric == MetricTemp && next.Environment.set(EnvTemp, v) {
				changed = true
			}
		}
	}

	if !changed {
		return s
	}
	return next
}
