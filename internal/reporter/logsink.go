package reporter

import (
	"context"
	"log/slog"
	"math"

	"github.com/xtxerr/tacho/internal/logging"
	"github.com/xtxerr/tacho/internal/storage/types"
)

// LogSink writes every reading as one structured log line.
type LogSink struct {
	log   *slog.Logger
	level slog.Level
}

// NewLogSink logs readings at level.
func NewLogSink(level slog.Level) *LogSink {
	return &LogSink{
		log:   logging.Component("trip"),
		level: level,
	}
}

// Name returns "log".
func (s *LogSink) Name() string {
	return "log"
}

// Publish logs r.
func (s *LogSink) Publish(ctx context.Context, r types.Reading) error {
	s.log.Log(ctx, s.level, "reading",
		"ride", r.Ride,
		"speed_kmh", round1(r.SpeedKmh),
		"cadence_rpm", round1(r.CadenceRpm),
		"distance_m", round1(r.DistanceM),
		"total_m", round1(r.TotalDistanceM),
		"pulses", r.Pulses,
		"buffer", r.BufferLen)
	return nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
