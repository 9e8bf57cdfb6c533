package parquet

import (
	"github.com/xtxerr/tacho/internal/storage/types"
)

// ReadingRow represents a reading in Parquet format.
type ReadingRow struct {
	Ride           string  `parquet:"ride,zstd"`
	Source         string  `parquet:"source,zstd"`
	TimestampMs    int64   `parquet:"timestamp_ms"`
	WindowMs       int64   `parquet:"window_ms"`
	Pulses         int32   `parquet:"pulses"`
	DistanceM      float64 `parquet:"distance_m"`
	SpeedKmh       float64 `parquet:"speed_kmh"`
	CadenceRpm     float64 `parquet:"cadence_rpm"`
	TotalDistanceM float64 `parquet:"total_distance_m"`
	Revolutions    float64 `parquet:"revolutions"`
	BufferLen      int32   `parquet:"buffer_len"`
	BufferCap      int32   `parquet:"buffer_cap"`
}

// SummaryRow represents a ride summary in Parquet format.
type SummaryRow struct {
	Ride           string   `parquet:"ride,zstd"`
	BucketStart    int64    `parquet:"bucket_start"`
	BucketEnd      int64    `parquet:"bucket_end"`
	Count          int64    `parquet:"count"`
	SpeedSum       float64  `parquet:"speed_sum"`
	MinSpeed       float64  `parquet:"min_speed"`
	MaxSpeed       float64  `parquet:"max_speed"`
	AvgSpeed       float64  `parquet:"avg_speed"`
	P50            *float64 `parquet:"p50,optional"`
	P90            *float64 `parquet:"p90,optional"`
	P95            *float64 `parquet:"p95,optional"`
	P99            *float64 `parquet:"p99,optional"`
	AvgCadence     float64  `parquet:"avg_cadence"`
	MaxCadence     float64  `parquet:"max_cadence"`
	DistanceStartM float64  `parquet:"distance_start_m"`
	DistanceEndM   float64  `parquet:"distance_end_m"`
	FirstTs        int64    `parquet:"first_ts"`
	LastTs         int64    `parquet:"last_ts"`
}

// ReadingToRow converts a Reading to a ReadingRow.
func ReadingToRow(r *types.Reading) ReadingRow {
	return ReadingRow{
		Ride:           r.Ride,
		Source:         r.Source,
		TimestampMs:    r.TimestampMs,
		WindowMs:       r.WindowMs,
		Pulses:         r.Pulses,
		DistanceM:      r.DistanceM,
		SpeedKmh:       r.SpeedKmh,
		CadenceRpm:     r.CadenceRpm,
		TotalDistanceM: r.TotalDistanceM,
		Revolutions:    r.Revolutions,
		BufferLen:      r.BufferLen,
		BufferCap:      r.BufferCap,
	}
}

// RowToReading converts a ReadingRow to a Reading.
func RowToReading(r *ReadingRow) types.Reading {
	return types.Reading{
		Ride:           r.Ride,
		Source:         r.Source,
		TimestampMs:    r.TimestampMs,
		WindowMs:       r.WindowMs,
		Pulses:         r.Pulses,
		DistanceM:      r.DistanceM,
		SpeedKmh:       r.SpeedKmh,
		CadenceRpm:     r.CadenceRpm,
		TotalDistanceM: r.TotalDistanceM,
		Revolutions:    r.Revolutions,
		BufferLen:      r.BufferLen,
		BufferCap:      r.BufferCap,
	}
}

// SummaryToRow converts a Summary to a SummaryRow.
func SummaryToRow(s *types.Summary) SummaryRow {
	return SummaryRow{
		Ride:           s.Ride,
		BucketStart:    s.BucketStart,
		BucketEnd:      s.BucketEnd,
		Count:          s.Count,
		SpeedSum:       s.SpeedSum,
		MinSpeed:       s.MinSpeed,
		MaxSpeed:       s.MaxSpeed,
		AvgSpeed:       s.AvgSpeed,
		P50:            s.P50,
		P90:            s.P90,
		P95:            s.P95,
		P99:            s.P99,
		AvgCadence:     s.AvgCadence,
		MaxCadence:     s.MaxCadence,
		DistanceStartM: s.DistanceStartM,
		DistanceEndM:   s.DistanceEndM,
		FirstTs:        s.FirstTs,
		LastTs:         s.LastTs,
	}
}

// RowToSummary converts a SummaryRow to a Summary.
func RowToSummary(r *SummaryRow) types.Summary {
	return types.Summary{
		Ride:           r.Ride,
		BucketStart:    r.BucketStart,
		BucketEnd:      r.BucketEnd,
		Count:          r.Count,
		SpeedSum:       r.SpeedSum,
		MinSpeed:       r.MinSpeed,
		MaxSpeed:       r.MaxSpeed,
		AvgSpeed:       r.AvgSpeed,
		P50:            r.P50,
		P90:            r.P90,
		P95:            r.P95,
		P99:            r.P99,
		AvgCadence:     r.AvgCadence,
		MaxCadence:     r.MaxCadence,
		DistanceStartM: r.DistanceStartM,
		DistanceEndM:   r.DistanceEndM,
		FirstTs:        r.FirstTs,
		LastTs:         r.LastTs,
	}
}
