// Package meter shares one Tachometer between a pulse producer and
// periodic consumers.
//
// The tachometer core is not synchronized. Meter serializes every access
// with a single mutex: the producer calls Insert, consumers call Read,
// Sample, Window and TotalDistance. Only one producer is expected; several
// producers would interleave timestamps and trip the out-of-order counter.
package meter

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/logging"
	"github.com/xtxerr/tacho/internal/tachometer"
	"github.com/xtxerr/tacho/internal/units"
)

var log = logging.Component("meter")

// Meter is a mutex-guarded Tachometer.
type Meter struct {
	mu       sync.Mutex
	tacho    *tachometer.Tachometer
	timeUnit time.Duration
	strict   bool

	last    int64
	hasLast bool

	stats Stats
}

// Stats holds meter statistics.
type Stats struct {
	PulsesInserted   atomic.Int64
	PulsesOutOfOrder atomic.Int64
	PulsesRejected   atomic.Int64
	QueriesServed    atomic.Int64
	QueriesRejected  atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	PulsesInserted   int64
	PulsesOutOfOrder int64
	PulsesRejected   int64
	QueriesServed    int64
	QueriesRejected  int64
}

// Option configures a Meter.
type Option func(*Meter)

// WithStrictOrdering drops pulses older than the previous one instead of
// accepting them. Dropped pulses are counted in PulsesRejected.
func WithStrictOrdering() Option {
	return func(m *Meter) {
		m.strict = true
	}
}

// New creates a Meter around a new Tachometer.
func New(cfg tachometer.Config, opts ...Option) (*Meter, error) {
	if cfg.TimeUnit == 0 {
		cfg.TimeUnit = time.Millisecond
	}

	tacho, err := tachometer.New(cfg)
	if err != nil {
		return nil, err
	}

	m := &Meter{
		tacho:    tacho,
		timeUnit: cfg.TimeUnit,
	}
	for _, opt := range opts {
		opt(m)
	}

	log.Debug("meter created",
		"tire", cfg.Tire.String(),
		"circumference", cfg.Tire.Circumference().String(),
		"pointers_per_wheel", cfg.PointersPerWheel,
		"gear_ratio", cfg.GearRatio,
		"capacity", cfg.Capacity,
		"strict", m.strict)

	return m, nil
}

// =============================================================================
// Producer
// =============================================================================

// Insert records one trigger pass at ts.
//
// A timestamp older than the previous one is counted as out of order. It is
// accepted unless strict ordering is enabled.
func (m *Meter) Insert(ts int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasLast && ts < m.last {
		m.stats.PulsesOutOfOrder.Add(1)
		if m.strict {
			m.stats.PulsesRejected.Add(1)
			return
		}
	}

	m.last = ts
	m.hasLast = true
	m.tacho.Insert(ts)
	m.stats.PulsesInserted.Add(1)
}

// =============================================================================
// Consumers
// =============================================================================

// Sample computes distance and cadence over the trailing window of
// threshold ticks ending at now.
func (m *Meter) Sample(threshold, now int64) (tachometer.Sample, error) {
	if threshold <= 0 {
		m.stats.QueriesRejected.Add(1)
		return tachometer.Sample{}, fmt.Errorf("sample threshold %d: %w", threshold, errors.ErrInvalidThreshold)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.QueriesServed.Add(1)
	return m.tacho.Sample(threshold, now), nil
}

// Window returns a copy of the timestamps within the trailing window,
// oldest first. The result never holds more than the buffer capacity.
func (m *Meter) Window(threshold, now int64) ([]int64, error) {
	if threshold <= 0 {
		m.stats.QueriesRejected.Add(1)
		return nil, fmt.Errorf("window threshold %d: %w", threshold, errors.ErrInvalidThreshold)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.QueriesServed.Add(1)

	out := make([]int64, 0, m.tacho.Buffer().Len())
	for ts := range m.tacho.Window(threshold, now) {
		out = append(out, ts)
	}
	return out, nil
}

// TotalDistance returns the distance covered since the meter was created.
func (m *Meter) TotalDistance() units.Length {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.QueriesServed.Add(1)
	return m.tacho.TotalDistance()
}

// Read takes one consistent snapshot over the trailing window ending at now.
// window is converted to ticks of the configured time unit and must span
// at least one tick.
func (m *Meter) Read(window time.Duration, now int64) (Reading, error) {
	threshold := m.Ticks(window)
	if threshold <= 0 {
		m.stats.QueriesRejected.Add(1)
		return Reading{}, fmt.Errorf("read window %v: %w", window, errors.ErrInvalidThreshold)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.QueriesServed.Add(1)

	sample := m.tacho.Sample(threshold, now)
	buf := m.tacho.Buffer()

	return Reading{
		Timestamp:     now,
		Window:        sample.Window,
		Pulses:        sample.Count,
		Distance:      sample.Distance,
		Speed:         sample.Speed(),
		Cadence:       sample.Cadence,
		TotalDistance: m.tacho.TotalDistance(),
		Revolutions:   m.tacho.Revolutions(),
		BufferLen:     buf.Len(),
		BufferCap:     buf.Cap(),
	}, nil
}

// Ticks converts a duration to timestamp ticks.
func (m *Meter) Ticks(d time.Duration) int64 {
	return int64(d / m.timeUnit)
}

// =============================================================================
// Accessors
// =============================================================================

// TimeUnit returns the duration of one timestamp tick.
func (m *Meter) TimeUnit() time.Duration {
	return m.timeUnit
}

// Tire returns the configured wheel geometry.
func (m *Meter) Tire() tachometer.TireDimensions {
	return m.tacho.Tire()
}

// PointersPerWheel returns the configured trigger points per revolution.
func (m *Meter) PointersPerWheel() int {
	return m.tacho.PointersPerWheel()
}

// Stats returns current statistics.
func (m *Meter) Stats() StatsSnapshot {
	return StatsSnapshot{
		PulsesInserted:   m.stats.PulsesInserted.Load(),
		PulsesOutOfOrder: m.stats.PulsesOutOfOrder.Load(),
		PulsesRejected:   m.stats.PulsesRejected.Load(),
		QueriesServed:    m.stats.QueriesServed.Load(),
		QueriesRejected:  m.stats.QueriesRejected.Load(),
	}
}
