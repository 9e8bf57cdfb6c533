package parquet

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/tacho/internal/storage/types"
)

func testReadings(n int) []types.Reading {
	readings := make([]types.Reading, n)
	for i := range readings {
		readings[i] = types.Reading{
			Ride:           "commute",
			Source:         "simulate",
			TimestampMs:    1_700_000_000_000 + int64(i)*1000,
			WindowMs:       3000,
			Pulses:         int32(4 + i%2),
			DistanceM:      8.8,
			SpeedKmh:       10.5 + float64(i),
			CadenceRpm:     83.5,
			TotalDistanceM: float64(i) * 2.2,
			Revolutions:    float64(i),
			BufferLen:      int32(i),
			BufferCap:      75,
		}
	}
	return readings
}

func TestReadingWriterBasic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readings.parquet")

	w, err := NewReadingWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewReadingWriter: %v", err)
	}

	if err := w.Write(testReadings(2)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if w.RowCount() != 2 {
		t.Errorf("expected 2 rows, got %d", w.RowCount())
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file should exist: %v", err)
	}
	if stat.Size() == 0 {
		t.Error("file should not be empty")
	}
}

func TestReadingWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "readings.parquet")

	readings := testReadings(3)

	w, err := NewReadingWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewReadingWriter: %v", err)
	}
	if err := w.Write(readings); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReadingReader(path)
	if err != nil {
		t.Fatalf("NewReadingReader: %v", err)
	}
	defer r.Close()

	if r.NumRows() != 3 {
		t.Errorf("expected 3 rows, got %d", r.NumRows())
	}

	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if len(got) != len(readings) {
		t.Fatalf("expected %d readings, got %d", len(readings), len(got))
	}

	for i := range readings {
		if got[i] != readings[i] {
			t.Errorf("reading %d: expected %+v, got %+v", i, readings[i], got[i])
		}
	}
}

func TestReadingReaderReadChunks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readings.parquet")

	w, err := NewReadingWriter(path, Options{Compression: CompressionSnappy})
	if err != nil {
		t.Fatalf("NewReadingWriter: %v", err)
	}
	if err := w.Write(testReadings(5)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReadingReader(path)
	if err != nil {
		t.Fatalf("NewReadingReader: %v", err)
	}
	defer r.Close()

	total := 0
	for {
		chunk, err := r.Read(2)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		total += len(chunk)
		if len(chunk) == 0 {
			break
		}
	}

	if total != 5 {
		t.Errorf("expected 5 readings in chunks, got %d", total)
	}
}

func TestSummaryWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "summaries.parquet")

	withPercentiles := types.Summary{
		Ride:           "commute",
		BucketStart:    0,
		BucketEnd:      60_000,
		Count:          60,
		SpeedSum:       1500,
		MinSpeed:       18,
		MaxSpeed:       32,
		AvgSpeed:       25,
		AvgCadence:     85,
		MaxCadence:     101,
		DistanceStartM: 0,
		DistanceEndM:   415,
		FirstTs:        500,
		LastTs:         59_500,
	}
	withPercentiles.SetPercentiles(24, 30, 31, 32)

	without := types.Summary{
		Ride:        "commute",
		BucketStart: 60_000,
		BucketEnd:   120_000,
		Count:       1,
	}

	w, err := NewSummaryWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewSummaryWriter: %v", err)
	}
	if err := w.Write([]types.Summary{withPercentiles, without}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewSummaryReader(path)
	if err != nil {
		t.Fatalf("NewSummaryReader: %v", err)
	}
	defer r.Close()

	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(got))
	}

	s := got[0]
	if !s.HasPercentiles() {
		t.Fatal("expected percentiles on first summary")
	}
	if *s.P90 != 30 {
		t.Errorf("expected P90=30, got %v", *s.P90)
	}
	if s.Distance() != 415 {
		t.Errorf("expected distance=415, got %v", s.Distance())
	}

	if got[1].HasPercentiles() {
		t.Error("expected no percentiles on second summary")
	}
}

func TestWriterClosed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readings.parquet")

	w, err := NewReadingWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewReadingWriter: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Second close is a no-op
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if err := w.Write(testReadings(1)); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
}

func TestWriteEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readings.parquet")

	w, err := NewReadingWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewReadingWriter: %v", err)
	}
	defer w.Close()

	if err := w.Write(nil); err != nil {
		t.Errorf("Write(nil): %v", err)
	}
	if w.RowCount() != 0 {
		t.Errorf("expected 0 rows, got %d", w.RowCount())
	}
}

func TestCompressionTypes(t *testing.T) {
	for _, name := range []string{"none", "snappy", "zstd", "lz4", "gzip"} {
		t.Run(name, func(t *testing.T) {
			ct := ParseCompressionType(name)
			if ct.String() != name {
				t.Errorf("expected %s, got %s", name, ct)
			}

			path := filepath.Join(t.TempDir(), "readings.parquet")
			w, err := NewReadingWriter(path, Options{Compression: ct})
			if err != nil {
				t.Fatalf("NewReadingWriter: %v", err)
			}
			if err := w.Write(testReadings(10)); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			info, err := GetFileInfo(path)
			if err != nil {
				t.Fatalf("GetFileInfo: %v", err)
			}
			if info.NumRows != 10 {
				t.Errorf("expected 10 rows, got %d", info.NumRows)
			}
			if info.NumCols != 12 {
				t.Errorf("expected 12 columns, got %d", info.NumCols)
			}
		})
	}

	if ParseCompressionType("brotli") != CompressionZstd {
		t.Error("unknown codec should fall back to zstd")
	}
}
