package types

import "time"

// Summary represents aggregated ride statistics for a time bucket.
// This is the output of the streaming aggregation process.
type Summary struct {
	// Identity
	Ride string

	// Time bucket
	BucketStart int64 // Unix timestamp in milliseconds (bucket start)
	BucketEnd   int64 // Unix timestamp in milliseconds (bucket end)

	// Speed statistics (km/h)
	Count    int64   // Number of readings in this bucket
	SpeedSum float64 // Sum of all speeds
	MinSpeed float64
	MaxSpeed float64
	AvgSpeed float64 // SpeedSum / Count

	// Speed percentiles (optional, nil if not enabled)
	P50 *float64 // 50th percentile (median)
	P90 *float64 // 90th percentile
	P95 *float64 // 95th percentile
	P99 *float64 // 99th percentile

	// Cadence statistics (rpm)
	AvgCadence float64
	MaxCadence float64

	// Odometer at the first and last reading of the bucket (meters)
	DistanceStartM float64
	DistanceEndM   float64

	// Timestamps of actual readings
	FirstTs int64
	LastTs  int64
}

// Distance returns the distance covered during the bucket in meters.
func (s *Summary) Distance() float64 {
	return s.DistanceEndM - s.DistanceStartM
}

// BucketStartTime returns the bucket start as a time.Time.
func (s *Summary) BucketStartTime() time.Time {
	return time.UnixMilli(s.BucketStart)
}

// BucketEndTime returns the bucket end as a time.Time.
func (s *Summary) BucketEndTime() time.Time {
	return time.UnixMilli(s.BucketEnd)
}

// Duration returns the bucket duration.
func (s *Summary) Duration() time.Duration {
	return time.Duration(s.BucketEnd-s.BucketStart) * time.Millisecond
}

// IsEmpty returns true if no readings were aggregated.
func (s *Summary) IsEmpty() bool {
	return s.Count == 0
}

// HasPercentiles returns true if percentile data is available.
func (s *Summary) HasPercentiles() bool {
	return s.P50 != nil
}

// SetPercentiles sets all percentile values.
func (s *Summary) SetPercentiles(p50, p90, p95, p99 float64) {
	s.P50 = &p50
	s.P90 = &p90
	s.P95 = &p95
	s.P99 = &p99
}

// SummaryBatch represents a collection of summaries.
type SummaryBatch struct {
	Summaries []Summary
}

// NewSummaryBatch creates a new batch with the given capacity.
func NewSummaryBatch(capacity int) *SummaryBatch {
	return &SummaryBatch{
		Summaries: make([]Summary, 0, capacity),
	}
}

// Add appends a summary to the batch.
func (b *SummaryBatch) Add(s Summary) {
	b.Summaries = append(b.Summaries, s)
}

// Len returns the number of summaries in the batch.
func (b *SummaryBatch) Len() int {
	return len(b.Summaries)
}

// Clear resets the batch for reuse.
func (b *SummaryBatch) Clear() {
	b.Summaries = b.Summaries[:0]
}
