package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir == "" {
		t.Error("expected default data_dir")
	}

	if cfg.Flush.Interval <= 0 {
		t.Error("expected positive flush interval")
	}

	if cfg.Aggregation.BucketSize != time.Minute {
		t.Errorf("expected 1m buckets, got %v", cfg.Aggregation.BucketSize)
	}

	if cfg.Aggregation.PercentileAccuracy <= 0 {
		t.Error("expected percentiles enabled by default")
	}

	if cfg.Retention.MaxAge <= 0 {
		t.Error("expected positive retention")
	}
}

func TestConfigValidate(t *testing.T) {
	// Valid config
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}

	// Invalid: empty data_dir
	cfg = DefaultConfig()
	cfg.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty data_dir")
	}

	// Invalid: zero bucket size
	cfg = DefaultConfig()
	cfg.Aggregation.BucketSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero bucket_size")
	}

	// Invalid: bad compression algorithm
	cfg = DefaultConfig()
	cfg.Compression.Algorithm = "invalid"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid compression algorithm")
	}

	// Invalid: accuracy out of range
	cfg = DefaultConfig()
	cfg.Aggregation.PercentileAccuracy = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for percentile_accuracy > 1")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	cfg.Flush.Interval = 0
	cfg.Query.MaxRows = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}

	msg := err.Error()
	for _, want := range []string{"data_dir", "flush", "query"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	configContent := `
data_dir: /tmp/test-rides
ride: commute
flush:
  interval: 5s
  max_batch: 100
aggregation:
  bucket_size: 30s
  percentile_accuracy: 0.02
compression:
  algorithm: snappy
  level: 0
retention:
  max_age: 720h
  interval: 10m
query:
  memory_limit: 1GB
  timeout: 15s
  max_rows: 500
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.DataDir != "/tmp/test-rides" {
		t.Errorf("expected data_dir=/tmp/test-rides, got %s", cfg.DataDir)
	}

	if cfg.Ride != "commute" {
		t.Errorf("expected ride=commute, got %s", cfg.Ride)
	}

	if cfg.Flush.Interval != 5*time.Second {
		t.Errorf("expected interval=5s, got %v", cfg.Flush.Interval)
	}

	if cfg.Aggregation.BucketSize != 30*time.Second {
		t.Errorf("expected bucket_size=30s, got %v", cfg.Aggregation.BucketSize)
	}

	if cfg.Compression.Algorithm != "snappy" {
		t.Errorf("expected compression=snappy, got %s", cfg.Compression.Algorithm)
	}

	if cfg.Retention.MaxAge != 720*time.Hour {
		t.Errorf("expected max_age=720h, got %v", cfg.Retention.MaxAge)
	}
}

func TestLoadConfigInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestCalculateRequirements(t *testing.T) {
	cfg := DefaultConfig()

	req := cfg.CalculateRequirements(time.Second, 2)

	if req.ReadingsPerHour != 3600 {
		t.Errorf("expected 3600 readings/hour, got %d", req.ReadingsPerHour)
	}

	if req.SummariesPerHour != 60 {
		t.Errorf("expected 60 summaries/hour, got %d", req.SummariesPerHour)
	}

	// 30s flush at 1 reading/s keeps 30 readings buffered
	if req.BatchBytes != 30*bytesPerReading {
		t.Errorf("expected batch of 30 readings, got %d bytes", req.BatchBytes)
	}

	if req.TotalStorageBytes <= 0 {
		t.Error("expected positive total storage bytes")
	}
}

func TestFormatRequirements(t *testing.T) {
	cfg := DefaultConfig()

	req := cfg.CalculateRequirements(time.Second, 1)
	output := req.FormatRequirements()

	if !strings.Contains(output, "Readings/hour") {
		t.Error("expected throughput section")
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"1GB", 1 * 1024 * 1024 * 1024},
		{"512MB", 512 * 1024 * 1024},
		{"1024KB", 1024 * 1024},
		{"4096", 4096},
		{"", 256 * 1024 * 1024}, // Default
	}

	for _, tt := range tests {
		result := parseMemoryLimit(tt.input)
		if result != tt.expected {
			t.Errorf("parseMemoryLimit(%s): expected %d, got %d", tt.input, tt.expected, result)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{500, "500 B"},
		{1024, "1.00 KB"},
		{1024 * 1024, "1.00 MB"},
		{1024 * 1024 * 1024, "1.00 GB"},
	}

	for _, tt := range tests {
		result := formatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("formatBytes(%d): expected %s, got %s", tt.input, tt.expected, result)
		}
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(tmpDir, "storage")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	for _, dir := range []string{cfg.DataDir, cfg.ReadingsDir(), cfg.SummariesDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("directory %s not created: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}
