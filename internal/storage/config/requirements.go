package config

import (
	"fmt"
	"time"
)

// Requirements represents estimated resource requirements of the ride log.
type Requirements struct {
	// Throughput
	ReadingsPerHour  int64
	SummariesPerHour int64

	// Memory requirements
	BatchBytes      int64
	AggregateBytes  int64
	QueryCacheBytes int64
	TotalRAMBytes   int64

	// Storage requirements
	ReadingStorageBytes int64
	SummaryStorageBytes int64
	TotalStorageBytes   int64
}

// Constants for calculations
const (
	// Bytes per reading (in-memory)
	bytesPerReading = 96

	// Bytes per open summary bucket (in-memory, with DDSketch)
	bytesPerAggregateWithSketch = 2048

	// Bytes per reading row in Parquet (compressed)
	bytesPerReadingRowCompressed = 24

	// Bytes per summary row in Parquet (compressed)
	bytesPerSummaryRowCompressed = 64
)

// CalculateRequirements estimates resource needs for a reading every
// refresh interval and rideHoursPerDay hours of riding.
func (c *Config) CalculateRequirements(refresh time.Duration, rideHoursPerDay float64) Requirements {
	r := Requirements{}

	if refresh <= 0 {
		refresh = time.Second
	}

	r.ReadingsPerHour = int64(time.Hour / refresh)
	if c.Aggregation.BucketSize > 0 {
		r.SummariesPerHour = int64(time.Hour / c.Aggregation.BucketSize)
	}

	// -------------------------------------------------------------------------
	// Memory Requirements
	// -------------------------------------------------------------------------

	batch := int64(c.Flush.MaxBatch)
	if c.Flush.Interval > 0 {
		perInterval := int64(c.Flush.Interval / refresh)
		if batch == 0 || perInterval < batch {
			batch = perInterval
		}
	}
	r.BatchBytes = batch * bytesPerReading

	// Current plus one completed bucket
	r.AggregateBytes = 2 * bytesPerAggregateWithSketch

	r.QueryCacheBytes = parseMemoryLimit(c.Query.MemoryLimit)
	r.TotalRAMBytes = r.BatchBytes + r.AggregateBytes + r.QueryCacheBytes

	// -------------------------------------------------------------------------
	// Storage Requirements
	// -------------------------------------------------------------------------

	retentionDays := float64(c.Retention.MaxAge) / float64(24*time.Hour)
	rideHours := rideHoursPerDay * retentionDays

	r.ReadingStorageBytes = int64(float64(r.ReadingsPerHour*bytesPerReadingRowCompressed) * rideHours)
	r.SummaryStorageBytes = int64(float64(r.SummariesPerHour*bytesPerSummaryRowCompressed) * rideHours)
	r.TotalStorageBytes = r.ReadingStorageBytes + r.SummaryStorageBytes

	return r
}

// FormatRequirements returns a human-readable summary of requirements.
func (r *Requirements) FormatRequirements() string {
	return fmt.Sprintf(`Resource Requirements
=====================

Throughput:
  Readings/hour:     %s
  Summaries/hour:    %s

Memory:
  Batch:             %s
  Aggregates:        %s
  Query Cache:       %s
  Total RAM:         %s

Storage:
  Readings:          %s
  Summaries:         %s
  Total Storage:     %s
`,
		formatNumber(r.ReadingsPerHour),
		formatNumber(r.SummariesPerHour),
		formatBytes(r.BatchBytes),
		formatBytes(r.AggregateBytes),
		formatBytes(r.QueryCacheBytes),
		formatBytes(r.TotalRAMBytes),
		formatBytes(r.ReadingStorageBytes),
		formatBytes(r.SummaryStorageBytes),
		formatBytes(r.TotalStorageBytes),
	)
}

// parseMemoryLimit parses a memory limit string like "256MB" into bytes.
func parseMemoryLimit(s string) int64 {
	if s == "" {
		return 256 * 1024 * 1024
	}

	var value int64
	unit := ""
	for i, c := range s {
		if c < '0' || c > '9' {
			fmt.Sscanf(s[:i], "%d", &value)
			unit = s[i:]
			break
		}
	}
	if unit == "" {
		fmt.Sscanf(s, "%d", &value)
	}

	switch unit {
	case "B", "b", "":
		return value
	case "KB", "kb", "K", "k":
		return value * 1024
	case "MB", "mb", "M", "m":
		return value * 1024 * 1024
	case "GB", "gb", "G", "g":
		return value * 1024 * 1024 * 1024
	default:
		return value
	}
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats a number with thousand separators.
func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}
