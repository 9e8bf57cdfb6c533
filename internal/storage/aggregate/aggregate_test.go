package aggregate

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/tacho/internal/storage/types"
)

func reading(ride string, ts int64, speed, cadence, total float64) types.Reading {
	return types.Reading{
		Ride:           ride,
		TimestampMs:    ts,
		SpeedKmh:       speed,
		CadenceRpm:     cadence,
		TotalDistanceM: total,
	}
}

func TestStreamingAggregate_Basic(t *testing.T) {
	bucketStart := int64(60_000)
	bucketEnd := bucketStart + 60_000

	agg := New("morning", bucketStart, bucketEnd, 0)

	if !agg.IsEmpty() {
		t.Error("new aggregate should be empty")
	}

	agg.Add(reading("morning", 61_000, 10, 60, 100))
	agg.Add(reading("morning", 62_000, 20, 80, 105))
	agg.Add(reading("morning", 63_000, 30, 90, 113))

	if agg.Count() != 3 {
		t.Errorf("expected count=3, got %d", agg.Count())
	}

	result := agg.Result()

	if result.Ride != "morning" {
		t.Errorf("expected ride=morning, got %s", result.Ride)
	}

	if result.SpeedSum != 60.0 {
		t.Errorf("expected sum=60, got %f", result.SpeedSum)
	}

	if result.MinSpeed != 10.0 {
		t.Errorf("expected min=10, got %f", result.MinSpeed)
	}

	if result.MaxSpeed != 30.0 {
		t.Errorf("expected max=30, got %f", result.MaxSpeed)
	}

	if math.Abs(result.AvgSpeed-20.0) > 0.001 {
		t.Errorf("expected avg=20, got %f", result.AvgSpeed)
	}

	if math.Abs(result.AvgCadence-230.0/3) > 0.001 {
		t.Errorf("expected avg cadence=76.67, got %f", result.AvgCadence)
	}

	if result.MaxCadence != 90 {
		t.Errorf("expected max cadence=90, got %f", result.MaxCadence)
	}

	if result.Distance() != 13 {
		t.Errorf("expected distance=13, got %f", result.Distance())
	}

	if result.HasPercentiles() {
		t.Error("should not have percentiles")
	}
}

func TestStreamingAggregate_OutOfOrderOdometer(t *testing.T) {
	agg := New("r", 0, 60_000, 0)

	agg.Add(reading("r", 2000, 20, 0, 50))
	agg.Add(reading("r", 1000, 20, 0, 40))
	agg.Add(reading("r", 3000, 20, 0, 60))

	result := agg.Result()
	if result.FirstTs != 1000 || result.LastTs != 3000 {
		t.Errorf("expected first=1000 last=3000, got %d %d", result.FirstTs, result.LastTs)
	}
	if result.Distance() != 20 {
		t.Errorf("expected distance=20, got %f", result.Distance())
	}
}

func TestStreamingAggregate_WithPercentiles(t *testing.T) {
	agg := New("r", 0, 60_000, 0.01)

	// 1..100 km/h
	for i := 1; i <= 100; i++ {
		agg.Add(reading("r", int64(i)*100, float64(i), 0, 0))
	}

	result := agg.Result()

	if !result.HasPercentiles() {
		t.Fatal("should have percentiles")
	}

	if math.Abs(*result.P50-50.0) > 2.0 {
		t.Errorf("expected P50 near 50, got %f", *result.P50)
	}

	if math.Abs(*result.P95-95.0) > 2.0 {
		t.Errorf("expected P95 near 95, got %f", *result.P95)
	}

	if math.Abs(*result.P99-99.0) > 2.0 {
		t.Errorf("expected P99 near 99, got %f", *result.P99)
	}
}

func TestStreamingAggregate_Reset(t *testing.T) {
	agg := New("r", 0, 60_000, 0.01)

	agg.Add(reading("r", 1000, 10, 0, 0))
	agg.Add(reading("r", 2000, 20, 0, 0))

	if agg.Count() != 2 {
		t.Errorf("expected count=2, got %d", agg.Count())
	}

	agg.Reset(60_000, 120_000)

	if !agg.IsEmpty() {
		t.Error("aggregate should be empty after reset")
	}

	if agg.BucketStart() != 60_000 {
		t.Errorf("expected bucket start=60000, got %d", agg.BucketStart())
	}

	agg.Add(reading("r", 61_000, 30, 0, 0))
	result := agg.Result()
	if result.MinSpeed != 30 || !result.HasPercentiles() {
		t.Errorf("expected fresh statistics after reset, got %+v", result)
	}
}

func TestStreamingAggregate_Merge(t *testing.T) {
	agg1 := New("r", 0, 60_000, 0)
	agg1.Add(reading("r", 1000, 10, 0, 100))
	agg1.Add(reading("r", 2000, 20, 0, 110))

	agg2 := New("r", 0, 60_000, 0)
	agg2.Add(reading("r", 3000, 30, 0, 120))
	agg2.Add(reading("r", 4000, 40, 0, 135))

	agg1.Merge(agg2)

	result := agg1.Result()

	if result.Count != 4 {
		t.Errorf("expected count=4, got %d", result.Count)
	}

	if result.SpeedSum != 100.0 {
		t.Errorf("expected sum=100, got %f", result.SpeedSum)
	}

	if result.MinSpeed != 10.0 {
		t.Errorf("expected min=10, got %f", result.MinSpeed)
	}

	if result.MaxSpeed != 40.0 {
		t.Errorf("expected max=40, got %f", result.MaxSpeed)
	}

	if result.Distance() != 35 {
		t.Errorf("expected distance=35, got %f", result.Distance())
	}
}

func TestStreamingAggregate_Concurrent(t *testing.T) {
	agg := New("r", 0, 60_000, 0.01)

	var wg sync.WaitGroup
	numGoroutines := 10
	valuesPerGoroutine := 1000

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < valuesPerGoroutine; j++ {
				agg.Add(reading("r", int64(j), float64(base+j%50), 0, 0))
			}
		}(i)
	}

	wg.Wait()

	expectedCount := int64(numGoroutines * valuesPerGoroutine)
	if agg.Count() != expectedCount {
		t.Errorf("expected count=%d, got %d", expectedCount, agg.Count())
	}
}

func TestManager_Basic(t *testing.T) {
	manager := NewManager(time.Minute, 0)

	if manager.ActiveCount() != 0 {
		t.Errorf("expected 0 active aggregates, got %d", manager.ActiveCount())
	}

	manager.Process(reading("r1", 1000, 20, 70, 10))
	manager.Process(reading("r1", 2000, 22, 72, 16))

	if manager.ActiveCount() != 1 {
		t.Errorf("expected 1 active aggregate, got %d", manager.ActiveCount())
	}

	stats := manager.Stats()
	if stats.ReadingsProcessed != 2 {
		t.Errorf("expected 2 readings processed, got %d", stats.ReadingsProcessed)
	}

	current, ok := manager.Current("r1")
	if !ok || current.Count != 2 {
		t.Errorf("expected in-progress summary with 2 readings, got %+v", current)
	}

	if _, ok := manager.Current("missing"); ok {
		t.Error("expected no summary for unknown ride")
	}
}

func TestManager_BucketTransition(t *testing.T) {
	manager := NewManager(time.Minute, 0)

	manager.Process(reading("r1", 10_000, 20, 0, 0))
	manager.Process(reading("r1", 50_000, 24, 0, 0))

	if manager.CompletedCount() != 0 {
		t.Errorf("expected 0 completed, got %d", manager.CompletedCount())
	}

	// Next bucket completes the first
	manager.Process(reading("r1", 70_000, 30, 0, 0))

	completed := manager.FlushCompleted()
	if len(completed) != 1 {
		t.Fatalf("expected 1 completed summary, got %d", len(completed))
	}

	if completed[0].BucketStart != 0 || completed[0].BucketEnd != 60_000 {
		t.Errorf("unexpected bucket [%d, %d)", completed[0].BucketStart, completed[0].BucketEnd)
	}

	if completed[0].Count != 2 {
		t.Errorf("expected 2 readings in first bucket, got %d", completed[0].Count)
	}

	if manager.FlushCompleted() != nil {
		t.Error("expected nothing pending after flush")
	}
}

func TestManager_LateReadingDropped(t *testing.T) {
	manager := NewManager(time.Minute, 0)

	manager.Process(reading("r1", 70_000, 30, 0, 0))
	manager.Process(reading("r1", 10_000, 20, 0, 0))

	stats := manager.Stats()
	if stats.ReadingsLate != 1 {
		t.Errorf("expected 1 late reading, got %d", stats.ReadingsLate)
	}
	if stats.ReadingsProcessed != 1 {
		t.Errorf("expected 1 processed reading, got %d", stats.ReadingsProcessed)
	}
}

func TestManager_MultipleRides(t *testing.T) {
	manager := NewManager(time.Minute, 0.01)

	manager.Process(reading("r1", 1000, 20, 0, 0))
	manager.Process(reading("r2", 1000, 15, 0, 0))

	if manager.ActiveCount() != 2 {
		t.Errorf("expected 2 active aggregates, got %d", manager.ActiveCount())
	}

	all := manager.FlushAll()
	if len(all) != 2 {
		t.Errorf("expected 2 summaries, got %d", len(all))
	}

	if manager.ActiveCount() != 0 {
		t.Errorf("expected 0 active aggregates after FlushAll, got %d", manager.ActiveCount())
	}
}

func TestManager_FlushOlderThan(t *testing.T) {
	manager := NewManager(time.Minute, 0)

	manager.Process(reading("old", 10_000, 20, 0, 0))
	manager.Process(reading("new", 130_000, 20, 0, 0))

	flushed := manager.FlushOlderThan(120_000)
	if len(flushed) != 1 || flushed[0].Ride != "old" {
		t.Fatalf("expected only ride old to be flushed, got %+v", flushed)
	}

	if manager.ActiveCount() != 1 {
		t.Errorf("expected 1 active aggregate, got %d", manager.ActiveCount())
	}
}
