// Package telemetry keeps the canonical snapshot of one production line.
//
// Broker messages are classified into a closed set of events (mode,
// environment reading, tank metric, ignored) and folded into an immutable
// Snapshot by the pure Reduce function. The Store serialises all writers
// through a bounded inbox and publishes each new Snapshot atomically, so
// readers never lock and detect change by pointer comparison.
//
// Operators change the operating mode through ModeController, which applies
// the new mode optimistically and sends a fire-and-forget command. The
// authoritative echo on the mode topic then re-enters through the reducer.
//
// # Mirroring
//
// On the reference line every temp, do and ph reading of grow tank A5 is
// copied onto F5, A1, FIL and SEA, and A5's temp also drives the environment
// temp. Mirroring only touches tanks that already exist in the snapshot.
package telemetry
