package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete ride log configuration.
type Config struct {
	// DataDir is the root directory for all storage files.
	// Subdirectories: readings/, summaries/
	DataDir string `yaml:"data_dir"`

	// Ride names the current ride. Empty means one is derived from the
	// start time.
	Ride string `yaml:"ride"`

	// Flush configures when buffered readings are written.
	Flush FlushConfig `yaml:"flush"`

	// Aggregation configures per-ride summary buckets.
	Aggregation AggregationConfig `yaml:"aggregation"`

	// Compression configures Parquet compression.
	Compression CompressionConfig `yaml:"compression"`

	// Retention defines how long ride files are kept.
	Retention RetentionConfig `yaml:"retention"`

	// Compaction merges the files of finished rides.
	Compaction CompactionConfig `yaml:"compaction"`

	// Query configures the history query service.
	Query QueryConfig `yaml:"query"`
}

// FlushConfig configures flush behavior.
type FlushConfig struct {
	// Interval is the flush interval.
	Interval time.Duration `yaml:"interval"`

	// MaxBatch triggers a flush when this many readings are buffered.
	MaxBatch int `yaml:"max_batch"`
}

// AggregationConfig configures summary buckets.
type AggregationConfig struct {
	// BucketSize is the span of one summary row.
	BucketSize time.Duration `yaml:"bucket_size"`

	// PercentileAccuracy is the DDSketch relative accuracy (0.01 = 1% error).
	// Zero disables speed percentiles.
	PercentileAccuracy float64 `yaml:"percentile_accuracy"`
}

// CompressionConfig configures Parquet compression.
type CompressionConfig struct {
	// Algorithm is the compression algorithm: snappy, zstd, lz4, gzip, none.
	Algorithm string `yaml:"algorithm"`

	// Level is the compression level (for zstd: 1-22).
	Level int `yaml:"level"`
}

// RetentionConfig defines how long to keep ride files.
type RetentionConfig struct {
	// MaxAge is the retention for readings and summaries.
	MaxAge time.Duration `yaml:"max_age"`

	// Interval is how often expired files are removed.
	Interval time.Duration `yaml:"interval"`
}

// CompactionConfig configures ride file compaction.
type CompactionConfig struct {
	// Interval is how often finished rides are compacted. Zero disables
	// compaction.
	Interval time.Duration `yaml:"interval"`

	// MinFiles is the number of files a ride needs in a dataset before
	// they are merged.
	MinFiles int `yaml:"min_files"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned.
	MaxRows int `yaml:"max_rows"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Flush: FlushConfig{
			Interval: 30 * time.Second,
			MaxBatch: 600,
		},
		Aggregation: AggregationConfig{
			BucketSize:         time.Minute,
			PercentileAccuracy: 0.01,
		},
		Compression: CompressionConfig{
			Algorithm: "zstd",
			Level:     3,
		},
		Retention: RetentionConfig{
			MaxAge:   90 * 24 * time.Hour,
			Interval: time.Hour,
		},
		Compaction: CompactionConfig{
			Interval: 10 * time.Minute,
			MinFiles: 4,
		},
		Query: QueryConfig{
			MemoryLimit: "256MB",
			Timeout:     30 * time.Second,
			MaxRows:     10000,
		},
	}
}
