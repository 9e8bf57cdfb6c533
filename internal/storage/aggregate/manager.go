package aggregate

import (
	"sync"
	"time"

	"github.com/xtxerr/tacho/internal/storage/types"
)

// Manager keeps one streaming aggregate per ride.
// It handles bucket transitions and flushing completed summaries.
type Manager struct {
	mu sync.RWMutex

	// Configuration
	bucketSize time.Duration
	accuracy   float64

	// Active aggregates keyed by ride
	aggregates map[string]*StreamingAggregate

	// Completed summaries waiting to be flushed
	completed []types.Summary

	// Statistics
	stats ManagerStats
}

// ManagerStats holds statistics for the manager.
type ManagerStats struct {
	ActiveAggregates  int64
	CompletedPending  int64
	ReadingsProcessed int64
	ReadingsLate      int64
	BucketsCompleted  int64
	FlushesPerformed  int64
}

// NewManager creates a new aggregate manager.
// An accuracy of zero disables percentiles.
func NewManager(bucketSize time.Duration, accuracy float64) *Manager {
	if bucketSize <= 0 {
		bucketSize = time.Minute
	}
	return &Manager{
		bucketSize: bucketSize,
		accuracy:   accuracy,
		aggregates: make(map[string]*StreamingAggregate),
		completed:  make([]types.Summary, 0, 64),
	}
}

// Process adds a reading to the aggregate of its ride.
// If the reading belongs to a new bucket, the old bucket is completed.
// Readings older than the open bucket are counted and dropped.
func (m *Manager) Process(r types.Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucketStart, bucketEnd := m.calculateBucket(r.TimestampMs)

	agg, exists := m.aggregates[r.Ride]

	switch {
	case !exists:
		agg = New(r.Ride, bucketStart, bucketEnd, m.accuracy)
		m.aggregates[r.Ride] = agg
	case bucketStart > agg.BucketStart():
		if !agg.IsEmpty() {
			m.completed = append(m.completed, agg.Result())
			m.stats.BucketsCompleted++
		}
		agg.Reset(bucketStart, bucketEnd)
	case bucketStart < agg.BucketStart():
		m.stats.ReadingsLate++
		return
	}

	agg.Add(r)
	m.stats.ReadingsProcessed++
}

// FlushCompleted returns and clears all completed summaries.
func (m *Manager) FlushCompleted() []types.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.completed) == 0 {
		return nil
	}

	result := m.completed
	m.completed = make([]types.Summary, 0, 64)
	m.stats.FlushesPerformed++

	return result
}

// FlushAll completes all active aggregates and returns them.
// This is typically called during shutdown.
func (m *Manager) FlushAll() []types.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, agg := range m.aggregates {
		if !agg.IsEmpty() {
			m.completed = append(m.completed, agg.Result())
			m.stats.BucketsCompleted++
		}
	}

	m.aggregates = make(map[string]*StreamingAggregate)

	result := m.completed
	m.completed = make([]types.Summary, 0, 64)
	m.stats.FlushesPerformed++

	return result
}

// FlushOlderThan completes aggregates whose bucket ended before cutoffMs.
// A ride that stopped publishing is closed this way.
func (m *Manager) FlushOlderThan(cutoffMs int64) []types.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	var flushed []types.Summary

	for ride, agg := range m.aggregates {
		if agg.BucketEnd() <= cutoffMs {
			if !agg.IsEmpty() {
				flushed = append(flushed, agg.Result())
				m.stats.BucketsCompleted++
			}
			delete(m.aggregates, ride)
		}
	}

	return flushed
}

// Current returns the in-progress summary of a ride.
func (m *Manager) Current(ride string) (types.Summary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg, ok := m.aggregates[ride]
	if !ok || agg.IsEmpty() {
		return types.Summary{}, false
	}
	return agg.Result(), true
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := m.stats
	stats.ActiveAggregates = int64(len(m.aggregates))
	stats.CompletedPending = int64(len(m.completed))
	return stats
}

// ActiveCount returns the number of active aggregates.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.aggregates)
}

// CompletedCount returns the number of completed summaries pending flush.
func (m *Manager) CompletedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.completed)
}

// calculateBucket calculates the bucket start and end for a timestamp.
func (m *Manager) calculateBucket(timestampMs int64) (start, end int64) {
	start = types.TruncateToBucket(timestampMs, m.bucketSize)
	end = start + m.bucketSize.Milliseconds()
	return
}

// BucketSize returns the configured bucket size.
func (m *Manager) BucketSize() time.Duration {
	return m.bucketSize
}
