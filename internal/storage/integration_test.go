package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/tacho/internal/storage"
	"github.com/xtxerr/tacho/internal/storage/config"
	"github.com/xtxerr/tacho/internal/storage/query"
	"github.com/xtxerr/tacho/internal/storage/types"
)

// rideReadings simulates a ride at constant speed, one reading per second.
func rideReadings(ride string, startMs int64, n int, speedKmh float64) []types.Reading {
	mps := speedKmh / 3.6
	readings := make([]types.Reading, n)
	for i := range readings {
		readings[i] = types.Reading{
			Ride:           ride,
			Source:         "simulate",
			TimestampMs:    startMs + int64(i)*1000,
			WindowMs:       1000,
			DistanceM:      mps,
			SpeedKmh:       speedKmh,
			CadenceRpm:     85,
			TotalDistanceM: float64(i+1) * mps,
		}
	}
	return readings
}

func newService(t *testing.T, dataDir string) *storage.Service {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.Flush.Interval = time.Hour // Disable auto-flush for test

	svc, err := storage.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return svc
}

// TestIntegration_FullPipeline tests the complete ingestion → query pipeline.
func TestIntegration_FullPipeline(t *testing.T) {
	svc := newService(t, t.TempDir())
	defer svc.Stop()

	ctx := context.Background()

	// Two and a half minutes at 36 km/h: 10 m/s
	readings := rideReadings("morning", 0, 150, 36)
	if err := svc.Ingest(readings); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if err := svc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stats := svc.Stats()
	if stats.Ingestion.ReadingsWritten != 150 {
		t.Errorf("expected 150 readings written, got %d", stats.Ingestion.ReadingsWritten)
	}

	// The last bucket ended long ago, so it is closed along with the others
	if stats.Ingestion.SummariesWritten != 3 {
		t.Errorf("expected 3 summaries written, got %d", stats.Ingestion.SummariesWritten)
	}

	rides, err := svc.Rides(ctx)
	if err != nil {
		t.Fatalf("Rides: %v", err)
	}
	if len(rides) != 1 || rides[0].Ride != "morning" {
		t.Fatalf("expected ride morning, got %+v", rides)
	}
	if rides[0].DistanceM < 1499 || rides[0].DistanceM > 1501 {
		t.Errorf("expected 1500 m, got %f", rides[0].DistanceM)
	}

	summaries, err := svc.RideSummaries(ctx, query.SummaryQuery{Ride: "morning"})
	if err != nil {
		t.Fatalf("RideSummaries: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(summaries))
	}
	if summaries[0].Count != 60 {
		t.Errorf("expected 60 readings in first bucket, got %d", summaries[0].Count)
	}
	if !summaries[0].HasPercentiles() {
		t.Error("stored summaries should carry percentiles")
	}
	if p50 := *summaries[0].P50; p50 < 35.5 || p50 > 36.5 {
		t.Errorf("expected p50 near 36, got %f", p50)
	}
}

func TestIntegration_MultipleRides(t *testing.T) {
	svc := newService(t, t.TempDir())
	defer svc.Stop()

	ctx := context.Background()

	svc.Ingest(rideReadings("a", 0, 30, 18))
	svc.Ingest(rideReadings("b", 100_000, 20, 36))

	if err := svc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	rides, err := svc.Rides(ctx)
	if err != nil {
		t.Fatalf("Rides: %v", err)
	}
	if len(rides) != 2 {
		t.Fatalf("expected 2 rides, got %d", len(rides))
	}

	// 30 * 5 m + 20 * 10 m
	total, err := svc.TotalDistance(ctx)
	if err != nil {
		t.Fatalf("TotalDistance: %v", err)
	}
	if total < 349.9 || total > 350.1 {
		t.Errorf("expected 350 m total, got %f", total)
	}

	got, err := svc.RideReadings(ctx, query.ReadingQuery{Ride: "b", Limit: 5})
	if err != nil {
		t.Fatalf("RideReadings: %v", err)
	}
	if len(got) != 5 {
		t.Errorf("expected 5 readings, got %d", len(got))
	}
}

func TestIntegration_ServiceLifecycle(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	svc := newService(t, dataDir)
	svc.Ingest(rideReadings("restart", 0, 10, 18))

	// Stop writes everything, including the open bucket
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// A new service over the same directory sees the ride
	svc = newService(t, dataDir)
	defer svc.Stop()

	summaries, err := svc.RideSummaries(ctx, query.SummaryQuery{Ride: "restart"})
	if err != nil {
		t.Fatalf("RideSummaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Count != 10 {
		t.Errorf("expected one stored bucket with 10 readings, got %+v", summaries)
	}
}

func TestIntegration_DiskUsage(t *testing.T) {
	svc := newService(t, t.TempDir())
	defer svc.Stop()

	svc.Ingest(rideReadings("a", 0, 10, 18))
	if err := svc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	usage := svc.GetDiskUsage()
	if usage[types.DatasetReadings].FileCount != 1 {
		t.Errorf("expected 1 readings file, got %d", usage[types.DatasetReadings].FileCount)
	}
}

func TestIntegration_RetentionDryRun(t *testing.T) {
	svc := newService(t, t.TempDir())
	defer svc.Stop()

	// Readings from 1970 are far past any retention
	svc.Ingest(rideReadings("ancient", 0, 5, 18))
	if err := svc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	results := svc.DryRunRetention()
	var wouldDelete int
	for _, r := range results {
		wouldDelete += r.FilesDeleted
	}
	if wouldDelete == 0 {
		t.Error("expected expired files in dry run")
	}

	if usage := svc.GetDiskUsage(); usage[types.DatasetReadings].FileCount != 1 {
		t.Error("dry run should not delete files")
	}

	svc.RunRetention()
	if usage := svc.GetDiskUsage(); usage[types.DatasetReadings].FileCount != 0 {
		t.Error("expected readings file removed")
	}
}

func TestIntegration_QuerySQL(t *testing.T) {
	svc := newService(t, t.TempDir())
	defer svc.Stop()

	svc.Ingest(rideReadings("sql", 0, 12, 18))
	if err := svc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	results, err := svc.QuerySQL(context.Background(), "SELECT ride, count(*) AS n FROM readings GROUP BY ride")
	if err != nil {
		t.Fatalf("QuerySQL: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 row, got %d", len(results))
	}
	if results[0]["ride"] != "sql" {
		t.Errorf("expected ride sql, got %v", results[0]["ride"])
	}
}
