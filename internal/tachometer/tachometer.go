package tachometer

import (
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/units"
)

// Config fixes the geometry and calibration of a Tachometer.
type Config struct {
	// Capacity is the number of trigger timestamps kept for windowed queries.
	// It must cover the longest query window at the fastest pulse rate.
	Capacity int

	// Tire describes the wheel.
	Tire TireDimensions

	// PointersPerWheel is the number of equally spaced trigger points
	// (magnets, spokes) passing the sensor per wheel revolution.
	PointersPerWheel int

	// GearRatio converts wheel revolutions to revolutions of the
	// cadence-bearing part (chainring teeth / sprocket teeth).
	GearRatio float64

	// TimeUnit is the duration of one timestamp tick. Default: 1ms.
	TimeUnit time.Duration

	// StrictMonotonic makes Insert panic on a timestamp older than the
	// previous one. Meant for debug builds and tests.
	StrictMonotonic bool
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	v := errors.NewValidationErrors()

	if c.Capacity < 1 {
		v.Add(errors.NewInvalidValue("capacity", c.Capacity, errors.ErrInvalidCapacity))
	}
	if c.PointersPerWheel < 1 {
		v.Add(errors.NewInvalidValue("pointers_per_wheel", c.PointersPerWheel, errors.ErrInvalidPointers))
	}
	if !(c.GearRatio > 0) || math.IsInf(c.GearRatio, 0) {
		v.Add(errors.NewInvalidValue("gear_ratio", c.GearRatio, errors.ErrInvalidGearRatio))
	}
	if c.TimeUnit < 0 {
		v.Add(errors.NewInvalidValue("time_unit", c.TimeUnit, errors.ErrInvalidArgument))
	}
	v.Add(c.Tire.Validate())

	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
	}
	return nil
}

// Sample is the result of a windowed query.
type Sample struct {
	// Distance covered inside the window.
	Distance units.Length

	// Cadence in revolutions per minute of the cadence-bearing part.
	Cadence float64

	// Count is the number of trigger passes inside the window.
	Count int

	// Window is the queried span.
	Window units.Time
}

// Speed returns the average speed over the window.
// A zero-length window yields zero speed.
func (s Sample) Speed() units.Speed {
	if s.Window.Seconds() <= 0 {
		return units.Speed{}
	}
	return s.Distance.Per(s.Window)
}

// IsZero returns true when no trigger fell into the window.
func (s Sample) IsZero() bool {
	return s.Count == 0
}

// Tachometer aggregates trigger timestamps of one wheel.
// It is not safe for concurrent use.
type Tachometer struct {
	buf              RotationBuffer
	tire             TireDimensions
	circumference    units.Length
	pointersPerWheel int
	gearRatio        float64
	unitSeconds      float64
	strict           bool

	totalRevolutions uint64
	last             int64
}

// New creates a Tachometer, rejecting invalid calibration up front.
func New(cfg Config) (*Tachometer, error) {
	if cfg.TimeUnit == 0 {
		cfg.TimeUnit = time.Millisecond
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Tachometer{
		buf:              RotationBuffer{data: make([]int64, cfg.Capacity)},
		tire:             cfg.Tire,
		circumference:    cfg.Tire.Circumference(),
		pointersPerWheel: cfg.PointersPerWheel,
		gearRatio:        cfg.GearRatio,
		unitSeconds:      cfg.TimeUnit.Seconds(),
		strict:           cfg.StrictMonotonic,
		last:             math.MinInt64,
	}, nil
}

// Insert records one trigger pass at ts.
//
// The caller guarantees ts is non-decreasing; this is only checked when
// StrictMonotonic is set.
func (t *Tachometer) Insert(ts int64) {
	if t.strict && ts < t.last {
		panic(fmt.Sprintf("tachometer: timestamp %d older than previous %d", ts, t.last))
	}
	t.last = ts

	t.buf.Push(ts)
	if t.totalRevolutions < math.MaxUint64 {
		t.totalRevolutions++
	}
}

// Window yields the retained timestamps not older than now-threshold,
// oldest first. The lower bound is inclusive and saturates instead of
// wrapping.
func (t *Tachometer) Window(threshold, now int64) iter.Seq[int64] {
	lower := satSub(now, threshold)
	return func(yield func(int64) bool) {
		for ts := range t.buf.All() {
			if ts >= lower && !yield(ts) {
				return
			}
		}
	}
}

// count returns the number of timestamps Window would yield.
func (t *Tachometer) count(threshold, now int64) int {
	lower := satSub(now, threshold)
	n := 0
	for i := 0; i < t.buf.count; i++ {
		if t.buf.at(i) >= lower {
			n++
		}
	}
	return n
}

// Sample computes distance and cadence over the trailing window of
// threshold ticks ending at now. threshold must be positive.
func (t *Tachometer) Sample(threshold, now int64) Sample {
	n := t.count(threshold, now)
	window := units.Seconds(float64(threshold) * t.unitSeconds)

	distance := t.circumference.
		Scale(float64(n)).
		Div(float64(t.pointersPerWheel))

	revolutionsPerSecond := (float64(n) / t.gearRatio) / window.Seconds()

	return Sample{
		Distance: distance,
		Cadence:  revolutionsPerSecond * 60,
		Count:    n,
		Window:   window,
	}
}

// TotalDistance returns the distance covered since construction.
// It is computed from the trigger counter, not the buffer.
func (t *Tachometer) TotalDistance() units.Length {
	return t.circumference.
		Scale(float64(t.totalRevolutions)).
		Div(float64(t.pointersPerWheel))
}

// TotalRevolutions returns the number of Insert calls (trigger passes).
func (t *Tachometer) TotalRevolutions() uint64 {
	return t.totalRevolutions
}

// Revolutions returns the number of full wheel revolutions.
func (t *Tachometer) Revolutions() float64 {
	return float64(t.totalRevolutions) / float64(t.pointersPerWheel)
}

// Tire returns the configured wheel geometry.
func (t *Tachometer) Tire() TireDimensions {
	return t.tire
}

// PointersPerWheel returns the configured trigger points per revolution.
func (t *Tachometer) PointersPerWheel() int {
	return t.pointersPerWheel
}

// GearRatio returns the configured gear ratio.
func (t *Tachometer) GearRatio() float64 {
	return t.gearRatio
}

// Buffer exposes the rotation buffer for inspection.
// Callers must not Push into it.
func (t *Tachometer) Buffer() *RotationBuffer {
	return &t.buf
}

// satSub returns a-b clamped to the int64 range.
func satSub(a, b int64) int64 {
	d := a - b
	if (b > 0 && d > a) || (b < 0 && d < a) {
		if b > 0 {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return d
}
