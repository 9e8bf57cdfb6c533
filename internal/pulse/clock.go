// Package pulse produces trigger timestamps for the meter.
//
// A Source emits one timestamp per trigger pass (magnet or spoke passing
// the sensor) into a Sink. Timestamps are ticks on an opaque monotonic
// axis provided by a Clock; the daemon uses milliseconds since start.
//
//	Source ──▶ Debouncer ──▶ Meter
//
// Sources:
//   - SimulatedSource: a wheel turning at a configured speed profile
//   - LineSource: one timestamp or "pulse" per line (stdin, serial, fifo)
//   - SNMPSource: a remote pulse counter polled over SNMP
package pulse

import (
	"sync/atomic"
	"time"
)

// Clock returns the current position on the timestamp axis.
type Clock interface {
	Now() int64
}

// MonotonicClock counts ticks since it was created.
type MonotonicClock struct {
	start time.Time
	unit  time.Duration
}

// NewMonotonicClock creates a clock with the given tick duration.
// A zero unit means milliseconds.
func NewMonotonicClock(unit time.Duration) *MonotonicClock {
	if unit <= 0 {
		unit = time.Millisecond
	}
	return &MonotonicClock{start: time.Now(), unit: unit}
}

// Now returns ticks elapsed since the clock was created.
func (c *MonotonicClock) Now() int64 {
	return int64(time.Since(c.start) / c.unit)
}

// Unit returns the tick duration.
func (c *MonotonicClock) Unit() time.Duration {
	return c.unit
}

// Start returns the wall-clock time of tick zero.
func (c *MonotonicClock) Start() time.Time {
	return c.start
}

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock creates a clock positioned at start.
func NewManualClock(start int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

// Now returns the current position.
func (c *ManualClock) Now() int64 {
	return c.now.Load()
}

// Set moves the clock to ts.
func (c *ManualClock) Set(ts int64) {
	c.now.Store(ts)
}

// Advance moves the clock forward by d ticks and returns the new position.
func (c *ManualClock) Advance(d int64) int64 {
	return c.now.Add(d)
}
