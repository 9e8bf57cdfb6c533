// Package reporter is the consumer side of the meter.
//
// Every refresh interval the Reporter takes one Reading from the meter,
// stamps it with wall-clock time, ride and source, and fans it out to its
// sinks (log, metrics, storage, live feed). A failing sink is logged and
// counted; it never stops the loop or the other sinks.
package reporter

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/logging"
	"github.com/xtxerr/tacho/internal/meter"
	"github.com/xtxerr/tacho/internal/pulse"
	"github.com/xtxerr/tacho/internal/storage/types"
)

var log = logging.Component("reporter")

// Reader takes one meter snapshot. *meter.Meter implements it.
type Reader interface {
	Read(window time.Duration, now int64) (meter.Reading, error)
}

// Sink receives every published reading.
type Sink interface {
	Name() string
	Publish(ctx context.Context, r types.Reading) error
}

// Config configures a Reporter.
type Config struct {
	// Window is the trailing window for speed and cadence.
	Window time.Duration

	// Refresh is the interval between readings.
	Refresh time.Duration

	// Ride and Source label every reading.
	Ride   string
	Source string
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	errs := errors.NewValidationErrors()
	if c.Window <= 0 {
		errs.AddField("window", "must be positive")
	}
	if c.Refresh <= 0 {
		errs.AddField("refresh", "must be positive")
	}
	if c.Ride == "" {
		errs.AddMissing("ride")
	}
	return errs.Err()
}

// Reporter periodically reads the meter and publishes the result.
type Reporter struct {
	cfg   Config
	meter Reader
	clock pulse.Clock
	sinks []Sink

	// wall stamps readings with wall-clock time.
	wall func() time.Time

	running atomic.Bool
	last    atomic.Pointer[types.Reading]

	mu         sync.Mutex
	sinkErrors map[string]int64

	stats Stats
}

// Stats holds reporter statistics.
type Stats struct {
	Ticks      atomic.Int64
	ReadErrors atomic.Int64
	Published  atomic.Int64
	SinkErrors atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Ticks      int64
	ReadErrors int64
	Published  int64
	SinkErrors int64

	// SinkErrorsByName breaks SinkErrors down per sink.
	SinkErrorsByName map[string]int64
}

// New creates a Reporter reading m on clock's time axis.
func New(cfg Config, m Reader, clock pulse.Clock, sinks ...Sink) (*Reporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("reporter: %w", err)
	}
	return &Reporter{
		cfg:        cfg,
		meter:      m,
		clock:      clock,
		sinks:      sinks,
		wall:       time.Now,
		sinkErrors: make(map[string]int64),
	}, nil
}

// AddSink appends a sink. It must be called before Run.
func (r *Reporter) AddSink(s Sink) {
	r.sinks = append(r.sinks, s)
}

// Sinks returns the registered sink names.
func (r *Reporter) Sinks() []string {
	names := make([]string, len(r.sinks))
	for i, s := range r.sinks {
		names[i] = s.Name()
	}
	return names
}

// =============================================================================
// Loop
// =============================================================================

// Run publishes a reading every refresh interval until ctx is cancelled.
// It returns nil on cancellation.
func (r *Reporter) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}
	defer r.running.Store(false)

	ctx = logging.ContextWithRide(ctx, r.cfg.Ride)
	ctx = logging.ContextWithSource(ctx, r.cfg.Source)

	logging.WithContext(ctx).Info("reporter started",
		"window", r.cfg.Window,
		"refresh", r.cfg.Refresh,
		"sinks", r.Sinks())

	ticker := time.NewTicker(r.cfg.Refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("reporter stopped", "published", r.stats.Published.Load())
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick takes and publishes one reading. It returns false if the meter
// could not be read.
func (r *Reporter) Tick(ctx context.Context) bool {
	r.stats.Ticks.Add(1)

	mr, err := r.meter.Read(r.cfg.Window, r.clock.Now())
	if err != nil {
		r.stats.ReadErrors.Add(1)
		log.Error("meter read failed", "error", err)
		return false
	}

	reading := ToRecord(r.cfg.Ride, r.cfg.Source, r.wall(), mr)
	r.last.Store(&reading)
	r.stats.Published.Add(1)

	for _, s := range r.sinks {
		if err := s.Publish(ctx, reading); err != nil {
			r.stats.SinkErrors.Add(1)
			r.mu.Lock()
			r.sinkErrors[s.Name()]++
			r.mu.Unlock()
			log.Warn("sink failed", "sink", s.Name(), "error", err)
		}
	}
	return true
}

// Last returns the most recent reading.
func (r *Reporter) Last() (types.Reading, bool) {
	p := r.last.Load()
	if p == nil {
		return types.Reading{}, false
	}
	return *p, true
}

// Config returns the reporter configuration.
func (r *Reporter) Config() Config {
	return r.cfg
}

// IsRunning returns whether Run is active.
func (r *Reporter) IsRunning() bool {
	return r.running.Load()
}

// Stats returns current statistics.
func (r *Reporter) Stats() StatsSnapshot {
	r.mu.Lock()
	byName := make(map[string]int64, len(r.sinkErrors))
	for k, v := range r.sinkErrors {
		byName[k] = v
	}
	r.mu.Unlock()

	return StatsSnapshot{
		Ticks:            r.stats.Ticks.Load(),
		ReadErrors:       r.stats.ReadErrors.Load(),
		Published:        r.stats.Published.Load(),
		SinkErrors:       r.stats.SinkErrors.Load(),
		SinkErrorsByName: byName,
	}
}

// =============================================================================
// Conversion
// =============================================================================

// ToRecord converts a meter reading into the stored and published form.
func ToRecord(ride, source string, at time.Time, mr meter.Reading) types.Reading {
	return types.Reading{
		Ride:           ride,
		Source:         source,
		TimestampMs:    at.UnixMilli(),
		WindowMs:       int64(math.Round(mr.Window.Milliseconds())),
		Pulses:         int32(mr.Pulses),
		DistanceM:      mr.Distance.Meters(),
		SpeedKmh:       mr.Speed.KilometersPerHour(),
		CadenceRpm:     mr.Cadence,
		TotalDistanceM: mr.TotalDistance.Meters(),
		Revolutions:    mr.Revolutions,
		BufferLen:      int32(mr.BufferLen),
		BufferCap:      int32(mr.BufferCap),
	}
}
