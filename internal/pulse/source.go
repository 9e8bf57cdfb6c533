package pulse

import (
	"context"
	"fmt"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/loader"
	"github.com/xtxerr/tacho/internal/tachometer"
)

// Source produces trigger timestamps.
type Source interface {
	// Name identifies the source in logs and stored readings.
	Name() string

	// Run forwards pulses to sink until ctx is cancelled or the source is
	// exhausted.
	Run(ctx context.Context, sink Sink) error
}

// NewSource builds the source selected by cfg.Type. The wheel geometry is
// needed by the simulator to turn speed into pulses.
func NewSource(cfg *loader.SourceConfig, wheel tachometer.Config, clock Clock) (Source, error) {
	switch cfg.Type {
	case "simulate", "":
		return NewSimulatedSource(SimulateConfig{
			SpeedKmh:         cfg.Simulate.SpeedKmh,
			Profile:          cfg.Simulate.Profile,
			SegmentDuration:  cfg.Simulate.SegmentDuration.Duration(),
			Tire:             wheel.Tire,
			PointersPerWheel: wheel.PointersPerWheel,
			TimeUnit:         wheel.TimeUnit,
		}, clock)

	case "lines":
		return OpenLineSource(cfg.Lines.Path, clock)

	case "snmp":
		return NewSNMPSource(SNMPConfig{
			Target:    cfg.SNMP.Target,
			Port:      uint16(cfg.SNMP.Port),
			Community: cfg.SNMP.Community,
			OID:       cfg.SNMP.OID,
			TimeoutMs: uint32(cfg.SNMP.TimeoutMs),
			Retries:   uint32(cfg.SNMP.Retries),
			Interval:  cfg.SNMP.Interval.Duration(),
			MaxDelta:  cfg.SNMP.MaxDelta,
		}, clock)

	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownSourceType, cfg.Type)
	}
}
