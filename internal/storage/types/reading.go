package types

import "time"

// Reading is one published tachometer reading.
// This is the primary data unit flowing from the reporter to its sinks.
type Reading struct {
	// Identity
	Ride   string // Ride the reading belongs to (e.g., "2026-10-16T07-30-00")
	Source string // Pulse source name (e.g., "simulate", "snmp")

	// Timestamp
	TimestampMs int64 // Unix timestamp in milliseconds (wall clock)

	// Window
	WindowMs int64 // Trailing window the values were computed over
	Pulses   int32 // Trigger passes inside the window

	// Values
	DistanceM  float64 // Distance covered inside the window
	SpeedKmh   float64 // Average speed over the window
	CadenceRpm float64 // Cadence over the window

	// Totals
	TotalDistanceM float64 // Distance since the meter started
	Revolutions    float64 // Wheel revolutions since the meter started

	// Buffer
	BufferLen int32 // Timestamps held in the rotation buffer
	BufferCap int32 // Rotation buffer capacity
}

// TimestampTime returns the timestamp as a time.Time.
func (r *Reading) TimestampTime() time.Time {
	return time.UnixMilli(r.TimestampMs)
}

// Window returns the query window as a time.Duration.
func (r *Reading) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// IsStill returns true if no trigger fell into the window.
func (r *Reading) IsStill() bool {
	return r.Pulses == 0
}

// BufferFill returns the buffer occupancy in [0, 1].
func (r *Reading) BufferFill() float64 {
	if r.BufferCap <= 0 {
		return 0
	}
	return float64(r.BufferLen) / float64(r.BufferCap)
}

// ReadingBatch represents a collection of readings for batch processing.
type ReadingBatch struct {
	Readings []Reading
}

// NewReadingBatch creates a new batch with the given capacity.
func NewReadingBatch(capacity int) *ReadingBatch {
	return &ReadingBatch{
		Readings: make([]Reading, 0, capacity),
	}
}

// Add appends a reading to the batch.
func (b *ReadingBatch) Add(r Reading) {
	b.Readings = append(b.Readings, r)
}

// Len returns the number of readings in the batch.
func (b *ReadingBatch) Len() int {
	return len(b.Readings)
}

// Clear resets the batch for reuse.
func (b *ReadingBatch) Clear() {
	b.Readings = b.Readings[:0]
}
