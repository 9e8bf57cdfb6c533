package pulse

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/logging"
	"github.com/xtxerr/tacho/internal/tachometer"
	"github.com/xtxerr/tacho/internal/units"
)

var log = logging.Component("pulse")

// =============================================================================
// Simulated Source
// =============================================================================

// SimulateConfig configures a SimulatedSource.
type SimulateConfig struct {
	// SpeedKmh is the constant speed used when Profile is empty.
	SpeedKmh float64

	// Profile cycles through these speeds, each held for SegmentDuration.
	Profile         []float64
	SegmentDuration time.Duration

	// Wheel geometry, used to turn speed into a pulse period.
	Tire             tachometer.TireDimensions
	PointersPerWheel int

	// TimeUnit is the duration of one clock tick.
	TimeUnit time.Duration
}

// SimulatedSource emits pulses as if the wheel turned at the configured
// speed. Timestamps are spaced by the exact period, not by when the
// goroutine wakes up.
type SimulatedSource struct {
	cfg       SimulateConfig
	clock     Clock
	spacing   units.Length
	segmentTk int64
}

// NewSimulatedSource validates cfg and creates a source.
func NewSimulatedSource(cfg SimulateConfig, clock Clock) (*SimulatedSource, error) {
	if cfg.TimeUnit <= 0 {
		cfg.TimeUnit = time.Millisecond
	}
	if cfg.PointersPerWheel < 1 {
		return nil, fmt.Errorf("%w: pointers per wheel %d", errors.ErrInvalidPointers, cfg.PointersPerWheel)
	}
	if err := cfg.Tire.Validate(); err != nil {
		return nil, err
	}
	if cfg.SpeedKmh < 0 {
		return nil, errors.NewValidation("speed_kmh", "cannot be negative")
	}
	for i, v := range cfg.Profile {
		if v < 0 {
			return nil, errors.NewValidation(fmt.Sprintf("profile[%d]", i), "cannot be negative")
		}
	}

	s := &SimulatedSource{
		cfg:     cfg,
		clock:   clock,
		spacing: cfg.Tire.Circumference().Div(float64(cfg.PointersPerWheel)),
	}

	if len(cfg.Profile) > 0 {
		if cfg.SegmentDuration <= 0 {
			return nil, errors.NewValidation("segment_duration", "must be positive with a profile")
		}
		s.segmentTk = int64(cfg.SegmentDuration / cfg.TimeUnit)
		if s.segmentTk < 1 {
			s.segmentTk = 1
		}
	}

	return s, nil
}

// Name returns "simulate".
func (s *SimulatedSource) Name() string {
	return "simulate"
}

// SpeedAt returns the simulated speed elapsed ticks after start.
func (s *SimulatedSource) SpeedAt(elapsed int64) units.Speed {
	if len(s.cfg.Profile) == 0 {
		return units.KilometersPerHour(s.cfg.SpeedKmh)
	}
	idx := (elapsed / s.segmentTk) % int64(len(s.cfg.Profile))
	return units.KilometersPerHour(s.cfg.Profile[idx])
}

// PeriodAt returns the ticks between pulses at elapsed, or 0 when the
// simulated wheel stands still.
func (s *SimulatedSource) PeriodAt(elapsed int64) int64 {
	mps := s.SpeedAt(elapsed).MetersPerSecond()
	if mps <= 0 {
		return 0
	}
	seconds := s.spacing.Meters() / mps
	period := int64(math.Round(seconds * float64(time.Second) / float64(s.cfg.TimeUnit)))
	if period < 1 {
		period = 1
	}
	return period
}

// segmentEnd returns the elapsed tick at which the segment containing
// elapsed ends. Without a profile the speed never changes.
func (s *SimulatedSource) segmentEnd(elapsed int64) (int64, bool) {
	if len(s.cfg.Profile) == 0 {
		return 0, false
	}
	return (elapsed/s.segmentTk + 1) * s.segmentTk, true
}

// Run emits pulses until ctx is cancelled. It returns nil on cancellation.
func (s *SimulatedSource) Run(ctx context.Context, sink Sink) error {
	start := s.clock.Now()
	next := start

	log.Info("simulated source started",
		"speed_kmh", s.cfg.SpeedKmh,
		"profile", len(s.cfg.Profile),
		"spacing", s.spacing.String())

	for {
		elapsed := next - start
		period := s.PeriodAt(elapsed)

		if period == 0 {
			end, ok := s.segmentEnd(elapsed)
			if !ok {
				// Standing still forever.
				<-ctx.Done()
				return nil
			}
			next = start + end
			if !s.waitUntil(ctx, next) {
				return nil
			}
			continue
		}

		next += period
		if !s.waitUntil(ctx, next) {
			return nil
		}
		sink.Insert(next)
	}
}

// waitUntil sleeps until the clock reaches target. It returns false if ctx
// was cancelled first.
func (s *SimulatedSource) waitUntil(ctx context.Context, target int64) bool {
	for {
		remaining := target - s.clock.Now()
		if remaining <= 0 {
			return ctx.Err() == nil
		}

		timer := time.NewTimer(time.Duration(remaining) * s.cfg.TimeUnit)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
