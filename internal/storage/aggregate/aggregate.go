package aggregate

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/tacho/internal/storage/types"
)

// StreamingAggregate maintains running ride statistics for a single time
// bucket. Speed percentiles are computed with DDSketch when enabled.
type StreamingAggregate struct {
	mu sync.Mutex

	ride string

	// Time bucket
	bucketStart int64 // Unix milliseconds
	bucketEnd   int64 // Unix milliseconds

	// Running speed statistics
	count    int64
	speedSum float64
	minSpeed float64
	maxSpeed float64

	// Running cadence statistics
	cadenceSum float64
	maxCadence float64

	// Odometer at the first and last reading
	firstTs       int64
	lastTs        int64
	distanceStart float64
	distanceEnd   float64

	// DDSketch for speed percentiles (nil if disabled)
	sketch   *ddsketch.DDSketch
	accuracy float64
}

// New creates a StreamingAggregate for the given bucket.
// An accuracy of zero disables percentiles.
func New(ride string, bucketStart, bucketEnd int64, accuracy float64) *StreamingAggregate {
	agg := &StreamingAggregate{
		ride:        ride,
		bucketStart: bucketStart,
		bucketEnd:   bucketEnd,
		minSpeed:    math.MaxFloat64,
		maxSpeed:    -math.MaxFloat64,
		accuracy:    accuracy,
	}
	agg.sketch = newSketch(accuracy)
	return agg
}

func newSketch(accuracy float64) *ddsketch.DDSketch {
	if accuracy <= 0 {
		return nil
	}
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil
	}
	return sketch
}

// Add adds one reading to the aggregate.
func (a *StreamingAggregate) Add(r types.Reading) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.speedSum += r.SpeedKmh
	a.cadenceSum += r.CadenceRpm

	if r.SpeedKmh < a.minSpeed {
		a.minSpeed = r.SpeedKmh
	}
	if r.SpeedKmh > a.maxSpeed {
		a.maxSpeed = r.SpeedKmh
	}
	if r.CadenceRpm > a.maxCadence {
		a.maxCadence = r.CadenceRpm
	}

	if a.count == 1 || r.TimestampMs < a.firstTs {
		a.firstTs = r.TimestampMs
		a.distanceStart = r.TotalDistanceM
	}
	if a.count == 1 || r.TimestampMs >= a.lastTs {
		a.lastTs = r.TimestampMs
		a.distanceEnd = r.TotalDistanceM
	}

	if a.sketch != nil {
		_ = a.sketch.Add(r.SpeedKmh)
	}
}

// Count returns the number of readings added.
func (a *StreamingAggregate) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// IsEmpty returns true if no readings have been added.
func (a *StreamingAggregate) IsEmpty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count == 0
}

// Result returns the aggregated summary.
func (a *StreamingAggregate) Result() types.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := types.Summary{
		Ride:           a.ride,
		BucketStart:    a.bucketStart,
		BucketEnd:      a.bucketEnd,
		Count:          a.count,
		SpeedSum:       a.speedSum,
		MaxCadence:     a.maxCadence,
		DistanceStartM: a.distanceStart,
		DistanceEndM:   a.distanceEnd,
		FirstTs:        a.firstTs,
		LastTs:         a.lastTs,
	}

	if a.count > 0 {
		result.AvgSpeed = a.speedSum / float64(a.count)
		result.MinSpeed = a.minSpeed
		result.MaxSpeed = a.maxSpeed
		result.AvgCadence = a.cadenceSum / float64(a.count)
	}

	if a.sketch != nil && a.count > 0 {
		p50, _ := a.sketch.GetValueAtQuantile(0.50)
		p90, _ := a.sketch.GetValueAtQuantile(0.90)
		p95, _ := a.sketch.GetValueAtQuantile(0.95)
		p99, _ := a.sketch.GetValueAtQuantile(0.99)
		result.SetPercentiles(p50, p90, p95, p99)
	}

	return result
}

// Reset resets the aggregate for a new bucket.
func (a *StreamingAggregate) Reset(bucketStart, bucketEnd int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.bucketStart = bucketStart
	a.bucketEnd = bucketEnd
	a.count = 0
	a.speedSum = 0
	a.minSpeed = math.MaxFloat64
	a.maxSpeed = -math.MaxFloat64
	a.cadenceSum = 0
	a.maxCadence = 0
	a.firstTs = 0
	a.lastTs = 0
	a.distanceStart = 0
	a.distanceEnd = 0

	// DDSketch has no Clear method
	a.sketch = newSketch(a.accuracy)
}

// Merge combines another aggregate into this one.
// Both aggregates must be for the same ride and time bucket.
func (a *StreamingAggregate) Merge(other *StreamingAggregate) {
	if other == nil || other == a {
		return
	}

	a.mu.Lock()
	other.mu.Lock()
	defer a.mu.Unlock()
	defer other.mu.Unlock()

	if other.count == 0 {
		return
	}

	if a.count == 0 || other.firstTs < a.firstTs {
		a.firstTs = other.firstTs
		a.distanceStart = other.distanceStart
	}
	if a.count == 0 || other.lastTs >= a.lastTs {
		a.lastTs = other.lastTs
		a.distanceEnd = other.distanceEnd
	}

	a.count += other.count
	a.speedSum += other.speedSum
	a.cadenceSum += other.cadenceSum

	if other.minSpeed < a.minSpeed {
		a.minSpeed = other.minSpeed
	}
	if other.maxSpeed > a.maxSpeed {
		a.maxSpeed = other.maxSpeed
	}
	if other.maxCadence > a.maxCadence {
		a.maxCadence = other.maxCadence
	}

	if a.sketch != nil && other.sketch != nil {
		_ = a.sketch.MergeWith(other.sketch)
	}
}

// Ride returns the ride this aggregate belongs to.
func (a *StreamingAggregate) Ride() string {
	return a.ride
}

// BucketStart returns the bucket start timestamp.
func (a *StreamingAggregate) BucketStart() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bucketStart
}

// BucketEnd returns the bucket end timestamp.
func (a *StreamingAggregate) BucketEnd() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bucketEnd
}

