// Package loader handles configuration file loading, validation, and conversion.
//
// LOCATION: internal/loader/loader.go
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Validating the whole configuration in one pass
//   - Converting between YAML and internal representations

package loader

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/logging"
	storageconfig "github.com/xtxerr/tacho/internal/storage/config"
	"github.com/xtxerr/tacho/internal/tachometer"
	"github.com/xtxerr/tacho/internal/units"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file.
// Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration after expanding environment variables.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %w", errors.ErrInvalidConfig, err)
	}

	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

var sourceTypes = []string{"simulate", "lines", "snmp"}

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	// Log validation
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs.AddField("log.level", err.Error())
	}
	if f := cfg.Log.Format; f != "text" && f != "json" {
		errs.AddField("log.format", fmt.Sprintf("must be text or json, got %q", f))
	}

	// Wheel validation
	if _, err := ToTachometerConfig(&cfg.Wheel); err != nil {
		errs.Add(err)
	}

	// Reporter validation
	if cfg.Reporter.Window.Duration() <= 0 {
		errs.AddField("reporter.window", "must be positive")
	}
	if cfg.Reporter.Refresh.Duration() <= 0 {
		errs.AddField("reporter.refresh", "must be positive")
	}

	// Source validation
	validateSource(&cfg.Source, errs)

	// Network validation
	if cfg.Feed.Enabled {
		if cfg.Feed.Listen == "" {
			errs.AddField("feed.listen", "cannot be empty when enabled")
		}
		if cfg.Feed.MaxMessageSize.Bytes() <= 0 {
			errs.AddField("feed.max_message_size", "must be positive")
		}
		if cfg.Feed.SendBufferSize < 1 {
			errs.AddField("feed.send_buffer_size", "must be at least 1")
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs.AddField("metrics.listen", "cannot be empty when enabled")
	}

	// Storage validation (if enabled)
	if cfg.Storage.Enabled {
		if cfg.Storage.DataDir == "" {
			errs.AddField("storage.data_dir", "cannot be empty when enabled")
		} else if err := ToStorageConfig(&cfg.Storage, cfg.Reporter.Ride).Validate(); err != nil {
			errs.Add(fmt.Errorf("storage: %w", err))
		}
	}

	if cfg.Shutdown.DrainTimeout.Duration() < 0 {
		errs.AddField("shutdown.drain_timeout", "cannot be negative")
	}

	return errs.Err()
}

func validateSource(cfg *SourceConfig, errs *errors.ValidationErrors) {
	if cfg.Debounce.Duration() < 0 {
		errs.AddField("source.debounce", "cannot be negative")
	}

	switch strings.ToLower(cfg.Type) {
	case "simulate":
		if cfg.Simulate.SpeedKmh < 0 {
			errs.AddField("source.simulate.speed_kmh", "cannot be negative")
		}
		for i, v := range cfg.Simulate.Profile {
			if v < 0 {
				errs.AddField(fmt.Sprintf("source.simulate.profile[%d]", i), "cannot be negative")
			}
		}
		if len(cfg.Simulate.Profile) > 0 && cfg.Simulate.SegmentDuration.Duration() <= 0 {
			errs.AddField("source.simulate.segment_duration", "must be positive with a profile")
		}
	case "lines":
		if cfg.Lines.Path == "" {
			errs.AddField("source.lines.path", "cannot be empty")
		}
	case "snmp":
		if cfg.SNMP.Target == "" {
			errs.AddMissing("source.snmp.target")
		}
		if cfg.SNMP.OID == "" {
			errs.AddMissing("source.snmp.oid")
		}
		if cfg.SNMP.Port < 1 || cfg.SNMP.Port > 65535 {
			errs.AddField("source.snmp.port", "must be between 1 and 65535")
		}
		if cfg.SNMP.TimeoutMs < 1 {
			errs.AddField("source.snmp.timeout_ms", "must be positive")
		}
		if cfg.SNMP.Retries < 0 {
			errs.AddField("source.snmp.retries", "cannot be negative")
		}
		if cfg.SNMP.Interval.Duration() <= 0 {
			errs.AddField("source.snmp.interval", "must be positive")
		}
	default:
		errs.Add(errors.NewInvalidValue("source.type", cfg.Type, errors.ErrUnknownSourceType))
	}
}

// =============================================================================
// Conversion: Config → Tachometer Config
// =============================================================================

// ToTachometerConfig converts the wheel configuration to the tachometer config.
// Returns an error wrapping ErrInvalidConfig when the result is unusable.
func ToTachometerConfig(cfg *WheelConfig) (tachometer.Config, error) {
	kind, err := tachometer.ParseTireKind(cfg.Tire.Kind)
	if err != nil {
		return tachometer.Config{}, fmt.Errorf("%w: wheel.tire.kind: %w", errors.ErrInvalidConfig, err)
	}

	tire, err := tachometer.NewTire(kind, units.Meters(cfg.Tire.SizeM))
	if err != nil {
		return tachometer.Config{}, fmt.Errorf("%w: wheel.tire: %w", errors.ErrInvalidConfig, err)
	}

	tc := tachometer.Config{
		Capacity:         cfg.Capacity,
		Tire:             tire,
		PointersPerWheel: cfg.PointersPerWheel,
		GearRatio:        cfg.EffectiveGearRatio(),
		TimeUnit:         cfg.TimeUnit.Duration(),
	}

	if err := tc.Validate(); err != nil {
		return tachometer.Config{}, err
	}
	return tc, nil
}

// =============================================================================
// Conversion: Config → Storage Config
// =============================================================================

// ToStorageConfig converts the storage configuration to the internal storage config.
func ToStorageConfig(cfg *StorageConfig, ride string) *storageconfig.Config {
	if cfg == nil {
		return nil
	}

	return &storageconfig.Config{
		DataDir: cfg.DataDir,
		Ride:    ride,

		Flush: storageconfig.FlushConfig{
			Interval: cfg.FlushInterval.Duration(),
			MaxBatch: cfg.MaxBatch,
		},

		Aggregation: storageconfig.AggregationConfig{
			BucketSize:         cfg.BucketSize.Duration(),
			PercentileAccuracy: cfg.PercentileAccuracy,
		},

		Compression: storageconfig.CompressionConfig{
			Algorithm: cfg.Compression,
			Level:     cfg.CompressionLevel,
		},

		Retention: storageconfig.RetentionConfig{
			MaxAge:   cfg.Retention.Duration(),
			Interval: cfg.RetentionInterval.Duration(),
		},

		Compaction: storageconfig.CompactionConfig{
			Interval: cfg.CompactionInterval.Duration(),
			MinFiles: cfg.CompactionMinFiles,
		},

		Query: storageconfig.QueryConfig{
			MemoryLimit: cfg.Query.MemoryLimit,
			Timeout:     cfg.Query.Timeout.Duration(),
			MaxRows:     cfg.Query.MaxRows,
		},
	}
}
