package pulse

import (
	"sync"
	"sync/atomic"
)

// Sink receives trigger timestamps. *meter.Meter implements it.
type Sink interface {
	Insert(ts int64)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ts int64)

// Insert calls f(ts).
func (f SinkFunc) Insert(ts int64) {
	f(ts)
}

// =============================================================================
// Debouncer
// =============================================================================

// Debouncer drops pulses that arrive closer than MinInterval ticks to the
// last accepted pulse. Contact bounce on a reed switch shows up as a burst
// of triggers within a few milliseconds.
type Debouncer struct {
	next        Sink
	minInterval int64

	mu      sync.Mutex
	last    int64
	hasLast bool

	accepted atomic.Int64
	rejected atomic.Int64
}

// DebounceStats is a snapshot of debouncer counters.
type DebounceStats struct {
	Accepted int64
	Rejected int64
}

// NewDebouncer wraps next. A minInterval of zero or less forwards every
// pulse.
func NewDebouncer(next Sink, minInterval int64) *Debouncer {
	if minInterval < 0 {
		minInterval = 0
	}
	return &Debouncer{next: next, minInterval: minInterval}
}

// Insert forwards ts unless it falls within MinInterval of the last
// accepted pulse. Pulses older than the last accepted one are forwarded
// so the meter can count them as out of order.
func (d *Debouncer) Insert(ts int64) {
	d.mu.Lock()
	if d.hasLast && d.minInterval > 0 && ts >= d.last && ts-d.last < d.minInterval {
		d.mu.Unlock()
		d.rejected.Add(1)
		return
	}
	if !d.hasLast || ts > d.last {
		d.last = ts
	}
	d.hasLast = true
	d.mu.Unlock()

	d.accepted.Add(1)
	d.next.Insert(ts)
}

// MinInterval returns the debounce interval in ticks.
func (d *Debouncer) MinInterval() int64 {
	return d.minInterval
}

// Stats returns current counters.
func (d *Debouncer) Stats() DebounceStats {
	return DebounceStats{
		Accepted: d.accepted.Load(),
		Rejected: d.rejected.Load(),
	}
}
