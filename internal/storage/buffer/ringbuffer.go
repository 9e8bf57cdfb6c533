package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/tacho/internal/storage/types"
)

// RingBuffer is a thread-safe circular buffer for readings.
// The ingestion service uses one as the pending write queue and one as
// the in-memory history of recent readings.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []types.Reading
	head     int64 // Next write position
	tail     int64 // Oldest data position
	count    int64 // Current number of elements
	capacity int64

	// Statistics
	pushCount atomic.Int64
	popCount  atomic.Int64
	dropCount atomic.Int64
}

// New creates a new RingBuffer with the given capacity.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingBuffer{
		data:     make([]types.Reading, capacity),
		capacity: int64(capacity),
	}
}

// Push adds a reading to the buffer.
// Returns false if the buffer is full and the reading was dropped.
func (rb *RingBuffer) Push(r types.Reading) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count >= rb.capacity {
		rb.dropCount.Add(1)
		return false
	}

	rb.data[rb.head%rb.capacity] = r
	rb.head++
	rb.count++
	rb.pushCount.Add(1)

	return true
}

// PushOverwrite adds a reading to the buffer, overwriting the oldest if full.
func (rb *RingBuffer) PushOverwrite(r types.Reading) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count >= rb.capacity {
		rb.tail++
		rb.count--
		rb.dropCount.Add(1)
	}

	rb.data[rb.head%rb.capacity] = r
	rb.head++
	rb.count++
	rb.pushCount.Add(1)
}

// Pop removes and returns the oldest reading.
// Returns false if the buffer is empty.
func (rb *RingBuffer) Pop() (types.Reading, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		return types.Reading{}, false
	}

	idx := rb.tail % rb.capacity
	r := rb.data[idx]
	rb.data[idx] = types.Reading{} // Clear for GC
	rb.tail++
	rb.count--
	rb.popCount.Add(1)

	return r, true
}

// PopN removes and returns up to n oldest readings.
func (rb *RingBuffer) PopN(n int) []types.Reading {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 || n <= 0 {
		return nil
	}

	count := int64(n)
	if count > rb.count {
		count = rb.count
	}

	result := make([]types.Reading, count)
	for i := int64(0); i < count; i++ {
		idx := (rb.tail + i) % rb.capacity
		result[i] = rb.data[idx]
		rb.data[idx] = types.Reading{}
	}

	rb.tail += count
	rb.count -= count
	rb.popCount.Add(count)

	return result
}

// PeekNewest returns the newest reading without removing it.
// Returns false if the buffer is empty.
func (rb *RingBuffer) PeekNewest() (types.Reading, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return types.Reading{}, false
	}

	return rb.data[(rb.head-1)%rb.capacity], true
}

// Len returns the current number of readings in the buffer.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.count)
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	return int(rb.capacity)
}

// IsEmpty returns true if the buffer is empty.
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count == 0
}

// IsFull returns true if the buffer is full.
func (rb *RingBuffer) IsFull() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count >= rb.capacity
}

// Stats returns buffer statistics.
func (rb *RingBuffer) Stats() BufferStats {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return BufferStats{
		Capacity:   int(rb.capacity),
		Count:      int(rb.count),
		UsageRatio: float64(rb.count) / float64(rb.capacity),
		PushCount:  rb.pushCount.Load(),
		PopCount:   rb.popCount.Load(),
		DropCount:  rb.dropCount.Load(),
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Capacity   int
	Count      int
	UsageRatio float64
	PushCount  int64
	PopCount   int64
	DropCount  int64
}

// Filter defines criteria for filtering readings.
type Filter struct {
	Ride  string
	Since int64 // Unix milliseconds, 0 = no filter
	Until int64 // Unix milliseconds, 0 = no filter
}

// Matches returns true if the reading matches the filter.
func (f *Filter) Matches(r *types.Reading) bool {
	if f.Ride != "" && r.Ride != f.Ride {
		return false
	}
	if f.Since > 0 && r.TimestampMs < f.Since {
		return false
	}
	if f.Until > 0 && r.TimestampMs > f.Until {
		return false
	}
	return true
}

// Query returns readings matching the filter.
// When limit is positive only the newest limit matches are returned.
// Results are ordered from oldest to newest.
func (rb *RingBuffer) Query(filter Filter, limit int) []types.Reading {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return nil
	}

	var results []types.Reading
	for i := int64(0); i < rb.count; i++ {
		r := &rb.data[(rb.tail+i)%rb.capacity]
		if filter.Matches(r) {
			results = append(results, *r)
		}
	}

	if limit > 0 && len(results) > limit {
		results = results[len(results)-limit:]
	}
	return results
}

// QueryRange returns readings within the given time range.
func (rb *RingBuffer) QueryRange(startMs, endMs int64) []types.Reading {
	return rb.Query(Filter{Since: startMs, Until: endMs}, 0)
}

// EvictOlderThan removes readings older than the given timestamp.
// Returns the number of readings evicted.
func (rb *RingBuffer) EvictOlderThan(cutoffMs int64) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	evicted := 0
	for rb.count > 0 {
		idx := rb.tail % rb.capacity
		if rb.data[idx].TimestampMs >= cutoffMs {
			break
		}
		rb.data[idx] = types.Reading{}
		rb.tail++
		rb.count--
		evicted++
	}

	return evicted
}

// TimeRange returns the time range of readings in the buffer.
// Returns (0, 0) if the buffer is empty.
func (rb *RingBuffer) TimeRange() (oldest, newest int64) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return 0, 0
	}

	return rb.data[rb.tail%rb.capacity].TimestampMs, rb.data[(rb.head-1)%rb.capacity].TimestampMs
}

// Duration returns the time span covered by readings in the buffer.
func (rb *RingBuffer) Duration() time.Duration {
	oldest, newest := rb.TimeRange()
	if oldest == 0 || newest == 0 {
		return 0
	}
	return time.Duration(newest-oldest) * time.Millisecond
}
