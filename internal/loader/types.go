// Package loader - Configuration Types
//
// LOCATION: internal/loader/types.go
//
// Defines the YAML configuration structure for tachod.
//
// ARCHITECTURE:
//
//   ┌─────────────────────────────────────────────────────────────────────┐
//   │                         config.yaml                                 │
//   ├─────────────────────────────────────────────────────────────────────┤
//   │                                                                     │
//   │  wheel:     Tire, pointers per wheel, gear ratio, buffer capacity   │
//   │                                                                     │
//   │  ┌─────────────────────┐    ┌─────────────────────────────────┐    │
//   │  │      source:        │    │          reporter:              │    │
//   │  │   (producer side)   │    │       (consumer side)           │    │
//   │  ├─────────────────────┤    ├─────────────────────────────────┤    │
//   │  │ • simulate          │    │ • window / refresh              │    │
//   │  │ • lines (stdin,     │───▶│ • ride id                       │    │
//   │  │   serial, fifo)     │    │                                 │    │
//   │  │ • snmp counter      │    │ Sinks: log, metrics, storage,   │    │
//   │  │ • debounce          │    │        feed                     │    │
//   │  └─────────────────────┘    └─────────────────────────────────┘    │
//   │                                                                     │
//   │  feed:      Live feed TCP listener                                  │
//   │  metrics:   Prometheus endpoint                                     │
//   │  storage:   Ride log (Parquet + DuckDB)                             │
//   │  log:       Level and format                                        │
//   │  shutdown:  Drain behavior                                          │
//   │                                                                     │
//   └─────────────────────────────────────────────────────────────────────┘

package loader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/tacho/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for tachod.
type Config struct {
	// Log configures logging output.
	Log LogConfig `yaml:"log"`

	// Wheel describes the measured wheel and drivetrain.
	Wheel WheelConfig `yaml:"wheel"`

	// Reporter configures the periodic readings.
	Reporter ReporterConfig `yaml:"reporter"`

	// Source selects and configures the pulse producer.
	Source SourceConfig `yaml:"source"`

	// Feed configures the live feed listener.
	Feed FeedConfig `yaml:"feed"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Storage configures the ride log.
	Storage StorageConfig `yaml:"storage"`

	// Shutdown configures graceful shutdown behavior.
	Shutdown ShutdownConfig `yaml:"shutdown"`
}

// =============================================================================
// Runtime Configuration
// =============================================================================

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "text" or "json".
	// Default: "text"
	Format string `yaml:"format"`
}

// ShutdownConfig configures graceful shutdown.
type ShutdownConfig struct {
	// DrainTimeout bounds the final flush on shutdown.
	// Default: 10s
	DrainTimeout Duration `yaml:"drain_timeout"`
}

// =============================================================================
// Wheel Configuration
// =============================================================================

// WheelConfig describes the wheel geometry and calibration.
type WheelConfig struct {
	// Capacity is the number of trigger timestamps kept.
	// It must cover the longest window at the fastest pulse rate.
	// Default: 75
	Capacity int `yaml:"capacity"`

	// Tire describes the tire size.
	Tire TireConfig `yaml:"tire"`

	// PointersPerWheel is the number of magnets or spokes passing the sensor
	// per revolution.
	// Default: 1
	PointersPerWheel int `yaml:"pointers_per_wheel"`

	// ChainringTeeth and SprocketTeeth define the gear ratio used for
	// cadence. GearRatio, when set, takes precedence.
	// Default: 46 / 16
	ChainringTeeth int     `yaml:"chainring_teeth"`
	SprocketTeeth  int     `yaml:"sprocket_teeth"`
	GearRatio      float64 `yaml:"gear_ratio,omitempty"`

	// TimeUnit is the duration of one timestamp tick.
	// Default: 1ms
	TimeUnit Duration `yaml:"time_unit"`

	// StrictOrdering drops pulses older than the previous one instead of
	// accepting them.
	// Default: false
	StrictOrdering bool `yaml:"strict_ordering"`
}

// TireConfig describes a tire by one of its dimensions.
type TireConfig struct {
	// Kind is one of diameter, radius, circumference.
	// Default: "diameter"
	Kind string `yaml:"kind"`

	// SizeM is the dimension in meters.
	// Default: 0.70
	SizeM float64 `yaml:"size_m"`
}

// EffectiveGearRatio returns GearRatio if set, else chainring/sprocket.
func (w *WheelConfig) EffectiveGearRatio() float64 {
	if w.GearRatio != 0 {
		return w.GearRatio
	}
	return config.GearRatio(w.ChainringTeeth, w.SprocketTeeth)
}

// =============================================================================
// Reporter Configuration
// =============================================================================

// ReporterConfig configures the consumer loop.
type ReporterConfig struct {
	// Window is the trailing window for speed and cadence.
	// Default: 3s
	Window Duration `yaml:"window"`

	// Refresh is the interval between readings.
	// Default: 1s
	Refresh Duration `yaml:"refresh"`

	// Ride names the recorded ride. Empty derives a name from the start time.
	Ride string `yaml:"ride"`
}

// =============================================================================
// Source Configuration
// =============================================================================

// SourceConfig selects the pulse producer.
type SourceConfig struct {
	// Type is one of simulate, lines, snmp.
	// Default: "simulate"
	Type string `yaml:"type"`

	// Debounce rejects pulses closer than this to the last accepted one.
	// Default: 0 (disabled)
	Debounce Duration `yaml:"debounce"`

	Simulate SimulateConfig `yaml:"simulate"`
	Lines    LinesConfig    `yaml:"lines"`
	SNMP     SNMPConfig     `yaml:"snmp"`
}

// SimulateConfig configures the simulated wheel.
type SimulateConfig struct {
	// SpeedKmh is the cruising speed.
	// Default: 25
	SpeedKmh float64 `yaml:"speed_kmh"`

	// Profile, when set, cycles through these speeds, one segment each.
	Profile []float64 `yaml:"profile,omitempty"`

	// SegmentDuration is how long each profile speed is held.
	// Default: 30s
	SegmentDuration Duration `yaml:"segment_duration"`
}

// LinesConfig configures a line-oriented pulse reader.
type LinesConfig struct {
	// Path is a file, serial device or named pipe. "-" reads stdin.
	// Default: "-"
	Path string `yaml:"path"`
}

// SNMPConfig configures polling of a remote pulse counter.
type SNMPConfig struct {
	// Target is the agent host.
	Target string `yaml:"target"`

	// Port is the agent port.
	// Default: 161
	Port int `yaml:"port"`

	// Community is the v2c community string.
	// Use environment variables: "${TACHO_SNMP_COMMUNITY}"
	// Default: "public"
	Community string `yaml:"community"`

	// OID is the Counter32 or Counter64 holding the pulse count.
	OID string `yaml:"oid"`

	// TimeoutMs is the per-request timeout.
	// Default: 2000
	TimeoutMs int `yaml:"timeout_ms"`

	// Retries is the number of retries after a timeout.
	// Default: 1
	Retries int `yaml:"retries"`

	// Interval is the polling interval.
	// Default: 1s
	Interval Duration `yaml:"interval"`

	// MaxDelta is the largest counter jump accepted from one poll.
	// Default: 3000
	MaxDelta uint64 `yaml:"max_delta"`
}

// =============================================================================
// Network Configuration
// =============================================================================

// FeedConfig configures the live feed server.
type FeedConfig struct {
	// Enabled starts the feed listener.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Listen is the TCP listen address.
	// Default: "127.0.0.1:9170"
	Listen string `yaml:"listen"`

	// MaxMessageSize limits a single frame.
	// Default: 1MB
	MaxMessageSize ByteSize `yaml:"max_message_size"`

	// SendBufferSize is the per-subscriber queue capacity.
	// Default: 16
	SendBufferSize int `yaml:"send_buffer_size"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled serves /metrics.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Listen is the HTTP listen address.
	// Default: "127.0.0.1:9171"
	Listen string `yaml:"listen"`
}

// =============================================================================
// Storage Configuration
// =============================================================================

// StorageConfig configures the ride log.
type StorageConfig struct {
	// Enabled records readings to disk.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// DataDir is the root directory for Parquet files.
	// Default: "./data"
	DataDir string `yaml:"data_dir"`

	// FlushInterval is how often buffered readings are written.
	// Default: 30s
	FlushInterval Duration `yaml:"flush_interval"`

	// MaxBatch triggers a flush when this many readings are buffered.
	// Default: 600
	MaxBatch int `yaml:"max_batch"`

	// BucketSize is the span of one ride summary.
	// Default: 1m
	BucketSize Duration `yaml:"bucket_size"`

	// PercentileAccuracy is the DDSketch relative accuracy. 0 disables
	// percentiles.
	// Default: 0.01
	PercentileAccuracy float64 `yaml:"percentile_accuracy"`

	// Compression is one of zstd, snappy, gzip, lz4, none.
	// Default: "zstd"
	Compression string `yaml:"compression"`

	// CompressionLevel applies to zstd and gzip.
	// Default: 3
	CompressionLevel int `yaml:"compression_level"`

	// Retention is how long ride files are kept. 0 keeps them forever.
	// Default: 2160h (90 days)
	Retention Duration `yaml:"retention"`

	// RetentionInterval is how often expired files are removed.
	// Default: 1h
	RetentionInterval Duration `yaml:"retention_interval"`

	// CompactionInterval is how often finished rides are merged into one
	// file per dataset. 0 disables compaction.
	// Default: 10m
	CompactionInterval Duration `yaml:"compaction_interval"`

	// CompactionMinFiles is the number of files a ride needs before it
	// is merged.
	// Default: 4
	CompactionMinFiles int `yaml:"compaction_min_files"`

	// Query configures history queries.
	Query QueryConfig `yaml:"query"`
}

// QueryConfig configures DuckDB queries.
type QueryConfig struct {
	// MemoryLimit caps DuckDB memory.
	// Default: "256MB"
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout bounds a single query.
	// Default: 30s
	Timeout Duration `yaml:"timeout"`

	// MaxRows caps rows returned by ad-hoc SQL.
	// Default: 10000
	MaxRows int `yaml:"max_rows"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},

		Wheel: WheelConfig{
			Capacity: config.DefaultCapacity,
			Tire: TireConfig{
				Kind:  config.DefaultTireKind,
				SizeM: config.DefaultTireSizeMeters,
			},
			PointersPerWheel: config.DefaultPointersPerWheel,
			ChainringTeeth:   config.DefaultChainringTeeth,
			SprocketTeeth:    config.DefaultSprocketTeeth,
			TimeUnit:         Duration(config.DefaultTimeUnit),
		},

		Reporter: ReporterConfig{
			Window:  Duration(config.DefaultWindow),
			Refresh: Duration(config.DefaultRefresh),
		},

		Source: SourceConfig{
			Type:     config.DefaultSourceType,
			Debounce: Duration(config.DefaultDebounce),
			Simulate: SimulateConfig{
				SpeedKmh:        config.DefaultSimulatedSpeedKmh,
				SegmentDuration: Duration(30 * time.Second),
			},
			Lines: LinesConfig{
				Path: "-",
			},
			SNMP: SNMPConfig{
				Port:      config.DefaultSNMPPort,
				Community: config.DefaultSNMPCommunity,
				TimeoutMs: config.DefaultSNMPTimeoutMs,
				Retries:   config.DefaultSNMPRetries,
				Interval:  Duration(config.DefaultSNMPInterval),
			},
		},

		Feed: FeedConfig{
			Enabled:        true,
			Listen:         config.DefaultFeedListenAddress,
			MaxMessageSize: ByteSize(config.DefaultMaxMessageSize),
			SendBufferSize: config.DefaultSubscriberBufferSize,
		},

		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  config.DefaultMetricsListenAddress,
		},

		Storage: StorageConfig{
			Enabled:            true,
			DataDir:            config.DefaultDataDir,
			FlushInterval:      Duration(config.DefaultFlushInterval),
			MaxBatch:           config.DefaultMaxBatch,
			BucketSize:         Duration(config.DefaultBucketSize),
			PercentileAccuracy: config.DefaultPercentileAccuracy,
			Compression:        config.DefaultCompression,
			CompressionLevel:   3,
			Retention:          Duration(config.DefaultRetention),
			RetentionInterval:  Duration(config.DefaultRetentionInterval),
			CompactionInterval: Duration(config.DefaultCompactionInterval),
			CompactionMinFiles: config.DefaultCompactionMinFiles,
			Query: QueryConfig{
				MemoryLimit: "256MB",
				Timeout:     Duration(config.DefaultQueryTimeout),
				MaxRows:     config.DefaultQueryMaxRows,
			},
		},

		Shutdown: ShutdownConfig{
			DrainTimeout: Duration(config.DefaultDrainTimeout),
		},
	}
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
// Accepts "3s", "1m30s" or a plain number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	s = strings.TrimSpace(s)
	if dur, err := time.ParseDuration(s); err == nil {
		*d = Duration(dur)
		return nil
	}

	// Plain number of seconds
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ByteSize is a size in bytes that can be unmarshaled from YAML.
// Supports: "100MB", "1GB", "500KB", or plain bytes.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	size, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// byteUnits is ordered longest suffix first so "MB" is not read as "B".
var byteUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// parseByteSize parses a size string like "100MB" or "1GB".
func parseByteSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			n, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse byte size %q: %w", s, err)
			}
			return n * u.multiplier, nil
		}
	}

	// Try as plain number
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse byte size %q: %w", s, err)
	}
	return n, nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}
