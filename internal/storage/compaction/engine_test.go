package compaction

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/tacho/internal/storage/config"
	"github.com/xtxerr/tacho/internal/storage/parquet"
	"github.com/xtxerr/tacho/internal/storage/types"
)

func newTestEngine(t *testing.T) (*Engine, *config.Config) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Compaction.MinFiles = 3
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return New(cfg), cfg
}

// writeReadings writes one readings file per batch, mimicking flushes.
func writeReadings(t *testing.T, cfg *config.Config, ride string, batches ...[]int64) {
	t.Helper()

	for i, batch := range batches {
		readings := make([]types.Reading, len(batch))
		for j, ts := range batch {
			readings[j] = types.Reading{Ride: ride, TimestampMs: ts, SpeedKmh: float64(ts % 40)}
		}

		path := filepath.Join(cfg.ReadingsDir(), fmt.Sprintf("%s_%d_%d.parquet", ride, batch[0], i+1))
		w, err := parquet.NewReadingWriter(path, parquet.DefaultOptions())
		if err != nil {
			t.Fatalf("NewReadingWriter: %v", err)
		}
		if err := w.Write(readings); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestPlan_SkipsActiveAndSmallRides(t *testing.T) {
	engine, cfg := newTestEngine(t)

	writeReadings(t, cfg, "morning", []int64{1000, 2000}, []int64{3000}, []int64{4000})
	writeReadings(t, cfg, "evening", []int64{9000}, []int64{9500}, []int64{9900})
	writeReadings(t, cfg, "short", []int64{5000}, []int64{6000})

	jobs, err := engine.Plan("evening")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	job := jobs[0]
	if job.Ride != "morning" || job.Dataset != types.DatasetReadings {
		t.Errorf("job = %s/%s, want morning/readings", job.Ride, job.Dataset)
	}
	if len(job.SourceFiles) != 3 {
		t.Errorf("sources = %d, want 3", len(job.SourceFiles))
	}
	if got := filepath.Base(job.OutputFile); got != "morning_1000_0.parquet" {
		t.Errorf("output = %s, want morning_1000_0.parquet", got)
	}
}

func TestRun_MergesFinishedRide(t *testing.T) {
	engine, cfg := newTestEngine(t)

	// Flushes arrive out of name order when timestamps differ in width
	writeReadings(t, cfg, "morning", []int64{900, 950}, []int64{1000, 1100}, []int64{1200})

	results, err := engine.Run("")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Rows != 5 {
		t.Errorf("rows = %d, want 5", results[0].Rows)
	}

	names := listDir(t, cfg.ReadingsDir())
	if len(names) != 1 || names[0] != "morning_900_0.parquet" {
		t.Fatalf("files = %v, want [morning_900_0.parquet]", names)
	}

	r, err := parquet.NewReadingReader(filepath.Join(cfg.ReadingsDir(), names[0]))
	if err != nil {
		t.Fatalf("NewReadingReader: %v", err)
	}
	defer r.Close()

	readings, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := []int64{900, 950, 1000, 1100, 1200}
	for i, rd := range readings {
		if rd.TimestampMs != want[i] {
			t.Errorf("reading %d at %d, want %d", i, rd.TimestampMs, want[i])
		}
	}

	stats := engine.Stats()
	if stats.JobsCompleted != 1 || stats.FilesRead != 3 || stats.FilesRemoved != 3 || stats.FilesWritten != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRun_RecompactsIntoExistingOutput(t *testing.T) {
	engine, cfg := newTestEngine(t)

	writeReadings(t, cfg, "loop", []int64{100}, []int64{200}, []int64{300})
	if _, err := engine.Run(""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The ride is resumed under the same name
	writeReadings(t, cfg, "loop", []int64{400}, []int64{500})

	results, err := engine.Run("")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 || results[0].Rows != 5 {
		t.Fatalf("results = %+v, want one job with 5 rows", results)
	}

	names := listDir(t, cfg.ReadingsDir())
	if len(names) != 1 || names[0] != "loop_100_0.parquet" {
		t.Errorf("files = %v, want [loop_100_0.parquet]", names)
	}
}

func TestRun_SummariesDataset(t *testing.T) {
	engine, cfg := newTestEngine(t)

	for i, start := range []int64{120_000, 0, 60_000} {
		path := filepath.Join(cfg.SummariesDir(), fmt.Sprintf("ride_%d_%d.parquet", start, i+1))
		w, err := parquet.NewSummaryWriter(path, parquet.DefaultOptions())
		if err != nil {
			t.Fatalf("NewSummaryWriter: %v", err)
		}
		if err := w.Write([]types.Summary{{Ride: "ride", BucketStart: start, BucketEnd: start + 60_000, Count: 1}}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		w.Close()
	}

	results, err := engine.Run("")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 || results[0].Job.Dataset != types.DatasetSummaries {
		t.Fatalf("results = %+v", results)
	}

	names := listDir(t, cfg.SummariesDir())
	if len(names) != 1 {
		t.Fatalf("files = %v", names)
	}

	r, err := parquet.NewSummaryReader(filepath.Join(cfg.SummariesDir(), names[0]))
	if err != nil {
		t.Fatalf("NewSummaryReader: %v", err)
	}
	defer r.Close()

	sums, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	for i, s := range sums {
		if s.BucketStart != int64(i)*60_000 {
			t.Errorf("summary %d starts at %d", i, s.BucketStart)
		}
	}
}

func TestRun_EmptyDataDir(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "missing")

	results, err := New(cfg).Run("")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
}
