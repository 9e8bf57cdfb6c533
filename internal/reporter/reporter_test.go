package reporter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/logging"
	"github.com/xtxerr/tacho/internal/meter"
	"github.com/xtxerr/tacho/internal/pulse"
	"github.com/xtxerr/tacho/internal/storage/types"
	"github.com/xtxerr/tacho/internal/tachometer"
	tachotest "github.com/xtxerr/tacho/internal/testing"
	"github.com/xtxerr/tacho/internal/units"
)

type collectSink struct {
	mu       sync.Mutex
	readings []types.Reading
}

func (s *collectSink) Name() string { return "collect" }

func (s *collectSink) Publish(_ context.Context, r types.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	return nil
}

func (s *collectSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

type failSink struct{}

func (failSink) Name() string { return "broken" }

func (failSink) Publish(context.Context, types.Reading) error {
	return fmt.Errorf("%w: disk full", errors.ErrStorage)
}

func newMeter(t *testing.T) *meter.Meter {
	t.Helper()
	m, err := meter.New(tachometer.Config{
		Capacity:         10,
		Tire:             tachometer.Circumference(units.Meters(2)),
		PointersPerWheel: 1,
		GearRatio:        2,
		TimeUnit:         time.Millisecond,
	})
	require.NoError(t, err)
	for _, ts := range tachotest.Pulses(0, 500, 6) {
		m.Insert(ts)
	}
	return m
}

func testConfig() Config {
	return Config{
		Window:  3 * time.Second,
		Refresh: 10 * time.Millisecond,
		Ride:    "commute",
		Source:  "simulate",
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Contains(t, err.Error(), "window")
	assert.Contains(t, err.Error(), "refresh")
	assert.Contains(t, err.Error(), "ride")

	cfg = testConfig()
	assert.NoError(t, cfg.Validate())
}

func TestTick(t *testing.T) {
	collect := &collectSink{}
	r, err := New(testConfig(), newMeter(t), pulse.NewManualClock(3000), failSink{}, collect)
	require.NoError(t, err)

	r.wall = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	_, ok := r.Last()
	assert.False(t, ok)

	require.True(t, r.Tick(context.Background()))

	// the failing sink does not keep the reading from later sinks
	require.Equal(t, 1, collect.Len())
	got := collect.readings[0]

	assert.Equal(t, "commute", got.Ride)
	assert.Equal(t, "simulate", got.Source)
	assert.Equal(t, int64(1_700_000_000_000), got.TimestampMs)
	assert.Equal(t, int64(3000), got.WindowMs)
	assert.Equal(t, int32(6), got.Pulses)
	assert.InDelta(t, 12.0, got.DistanceM, 1e-9)
	assert.InDelta(t, 14.4, got.SpeedKmh, 1e-9)
	assert.InDelta(t, 60.0, got.CadenceRpm, 1e-9)
	assert.InDelta(t, 12.0, got.TotalDistanceM, 1e-9)
	assert.Equal(t, int32(6), got.BufferLen)
	assert.Equal(t, int32(10), got.BufferCap)

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, got, last)

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.Ticks)
	assert.Equal(t, int64(1), stats.Published)
	assert.Equal(t, int64(1), stats.SinkErrors)
	assert.Equal(t, map[string]int64{"broken": 1}, stats.SinkErrorsByName)
}

type brokenMeter struct{}

func (brokenMeter) Read(time.Duration, int64) (meter.Reading, error) {
	return meter.Reading{}, errors.ErrInvalidThreshold
}

func TestTick_ReadError(t *testing.T) {
	collect := &collectSink{}
	r, err := New(testConfig(), brokenMeter{}, pulse.NewManualClock(0), collect)
	require.NoError(t, err)

	assert.False(t, r.Tick(context.Background()))
	assert.Zero(t, collect.Len())
	assert.Equal(t, int64(1), r.Stats().ReadErrors)
}

func TestRun(t *testing.T) {
	collect := &collectSink{}
	r, err := New(testConfig(), newMeter(t), pulse.NewManualClock(3000))
	require.NoError(t, err)
	r.AddSink(collect)
	assert.Equal(t, []string{"collect"}, r.Sinks())

	gt := tachotest.NewGoroutineTestWithTimeout(t, 5*time.Second)
	gt.GoWithContext(r.Run)

	require.NoError(t, tachotest.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return collect.Len() >= 3
	}))
	assert.True(t, r.IsRunning())
	assert.ErrorIs(t, r.Run(context.Background()), errors.ErrAlreadyRunning)

	gt.Cancel()
	gt.Wait()
	assert.False(t, r.IsRunning())
}

func TestToRecord(t *testing.T) {
	at := time.Date(2026, 10, 16, 7, 30, 0, 0, time.UTC)
	rec := ToRecord("r", "lines", at, meter.Reading{
		Window:        units.Seconds(2),
		Pulses:        3,
		Distance:      units.Meters(6),
		Speed:         units.MetersPerSecond(3),
		Cadence:       45,
		TotalDistance: units.Kilometers(1.5),
		Revolutions:   750,
		BufferLen:     3,
		BufferCap:     75,
	})

	assert.Equal(t, at.UnixMilli(), rec.TimestampMs)
	assert.Equal(t, int64(2000), rec.WindowMs)
	assert.InDelta(t, 10.8, rec.SpeedKmh, 1e-9)
	assert.InDelta(t, 1500, rec.TotalDistanceM, 1e-9)
	assert.Equal(t, int32(75), rec.BufferCap)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logging.InitWriter(&buf, slog.LevelInfo, false)
	t.Cleanup(func() { logging.Init(slog.LevelInfo, false) })

	s := NewLogSink(slog.LevelInfo)
	assert.Equal(t, "log", s.Name())
	require.NoError(t, s.Publish(context.Background(), types.Reading{
		Ride:     "commute",
		SpeedKmh: 14.44,
		Pulses:   6,
	}))

	out := buf.String()
	assert.Contains(t, out, "component=trip")
	assert.Contains(t, out, "speed_kmh=14.4")
	assert.Contains(t, out, "ride=commute")
}
