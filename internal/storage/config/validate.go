package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Subdirectories of DataDir.
const (
	ReadingsDir  = "readings"
	SummariesDir = "summaries"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	if err := c.Flush.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}

	if err := c.Aggregation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("aggregation: %w", err))
	}

	if err := c.Compression.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("compression: %w", err))
	}

	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if err := c.Compaction.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("compaction: %w", err))
	}

	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the flush configuration.
func (c *FlushConfig) Validate() error {
	var errs []error

	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if c.MaxBatch < 0 {
		errs = append(errs, errors.New("max_batch must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the aggregation configuration.
func (c *AggregationConfig) Validate() error {
	var errs []error

	if c.BucketSize <= 0 {
		errs = append(errs, errors.New("bucket_size must be positive"))
	}
	if c.PercentileAccuracy < 0 || c.PercentileAccuracy >= 1 {
		errs = append(errs, errors.New("percentile_accuracy must be in [0, 1)"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the compression configuration.
func (c *CompressionConfig) Validate() error {
	validAlgorithms := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validAlgorithms[c.Algorithm] {
		return fmt.Errorf("algorithm must be one of: snappy, zstd, lz4, gzip, none")
	}

	if c.Algorithm == "zstd" && (c.Level < 0 || c.Level > 22) {
		return errors.New("level for zstd must be between 0 and 22")
	}
	return nil
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	var errs []error

	// Zero keeps files forever
	if c.MaxAge < 0 {
		errs = append(errs, errors.New("max_age cannot be negative"))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the compaction configuration.
func (c *CompactionConfig) Validate() error {
	var errs []error

	if c.Interval < 0 {
		errs = append(errs, errors.New("interval cannot be negative"))
	}
	if c.Interval > 0 && c.MinFiles < 2 {
		errs = append(errs, errors.New("min_files must be at least 2"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}

	if c.MaxRows <= 0 {
		errs = append(errs, errors.New("max_rows must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.ReadingsDir(),
		c.SummariesDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ReadingsDir returns the directory holding reading files.
func (c *Config) ReadingsDir() string {
	return filepath.Join(c.DataDir, ReadingsDir)
}

// SummariesDir returns the directory holding summary files.
func (c *Config) SummariesDir() string {
	return filepath.Join(c.DataDir, SummariesDir)
}
