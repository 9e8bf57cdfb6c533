// Package config provides configuration defaults and utilities
// for the tacho application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// Wheel Defaults
// =============================================================================

const (
	// DefaultCapacity is the number of trigger timestamps kept for
	// windowed queries. 75 covers a 3 s window at 25 pulses/s.
	// Override via config: wheel.capacity
	DefaultCapacity = 75

	// DefaultTireKind is the measurement the tire size describes.
	// One of: diameter, radius, circumference.
	// Override via config: wheel.tire.kind
	DefaultTireKind = "diameter"

	// DefaultTireSizeMeters is a 700C road wheel (70 cm diameter).
	// Override via config: wheel.tire.size_m
	DefaultTireSizeMeters = 0.70

	// DefaultPointersPerWheel is the number of magnets on the wheel.
	// Override via config: wheel.pointers_per_wheel
	DefaultPointersPerWheel = 1

	// DefaultChainringTeeth and DefaultSprocketTeeth give the default
	// gear ratio of 46/16.
	// Override via config: wheel.chainring_teeth, wheel.sprocket_teeth
	DefaultChainringTeeth = 46
	DefaultSprocketTeeth  = 16

	// DefaultTimeUnit is the duration of one timestamp tick.
	// Override via config: wheel.time_unit
	DefaultTimeUnit = time.Millisecond
)

// =============================================================================
// Reporter Defaults
// =============================================================================

const (
	// DefaultWindow is the trailing window used for speed and cadence.
	// Override via config: reporter.window
	DefaultWindow = 3 * time.Second

	// DefaultRefresh is how often a reading is computed and published.
	// Override via config: reporter.refresh
	DefaultRefresh = time.Second
)

// =============================================================================
// Pulse Source Defaults
// =============================================================================

const (
	// DefaultSourceType selects the pulse source.
	// One of: simulate, lines, snmp.
	// Override via config: source.type
	DefaultSourceType = "simulate"

	// DefaultSimulatedSpeedKmh is the cruising speed of the simulator.
	// Override via config: source.simulate.speed_kmh
	DefaultSimulatedSpeedKmh = 25.0

	// DefaultDebounce is the minimum spacing between accepted pulses.
	// Zero disables debouncing.
	// Override via config: source.debounce
	DefaultDebounce = 0
)

// =============================================================================
// SNMP Defaults
// =============================================================================

const (
	// DefaultSNMPPort is the standard SNMP agent port.
	// Override via config: source.snmp.port
	DefaultSNMPPort = 161

	// DefaultSNMPCommunity is the v2c community string.
	// Override via config: source.snmp.community
	DefaultSNMPCommunity = "public"

	// DefaultSNMPTimeoutMs is the timeout for a single SNMP request.
	// Override via config: source.snmp.timeout
	DefaultSNMPTimeoutMs = 2000

	// DefaultSNMPRetries is the number of retry attempts after timeout.
	// Override via config: source.snmp.retries
	DefaultSNMPRetries = 1

	// DefaultSNMPInterval is the counter polling interval.
	// Override via config: source.snmp.interval
	DefaultSNMPInterval = time.Second
)

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultFeedListenAddress is the live feed listen address.
	// Override via config: feed.listen
	DefaultFeedListenAddress = "127.0.0.1:9170"

	// DefaultMaxMessageSize limits frame size to prevent OOM.
	// Override via config: feed.max_message_size
	DefaultMaxMessageSize = 1024 * 1024

	// DefaultSubscriberBufferSize is the capacity of the per-subscriber
	// send channel. When full, readings are dropped for that subscriber.
	// Override via config: feed.send_buffer_size
	DefaultSubscriberBufferSize = 16

	// DefaultMetricsListenAddress is where /metrics is served.
	// Override via config: metrics.listen
	DefaultMetricsListenAddress = "127.0.0.1:9171"
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir is the root directory for ride logs.
	// Override via config: storage.data_dir
	DefaultDataDir = "./data"

	// DefaultFlushInterval is how often buffered readings are written.
	// Override via config: storage.flush_interval
	DefaultFlushInterval = 30 * time.Second

	// DefaultMaxBatch triggers a flush when this many readings are buffered.
	// Override via config: storage.max_batch
	DefaultMaxBatch = 600

	// DefaultBucketSize is the span of one ride summary.
	// Override via config: storage.bucket_size
	DefaultBucketSize = time.Minute

	// DefaultPercentileAccuracy is the DDSketch relative accuracy.
	// Override via config: storage.percentile_accuracy
	DefaultPercentileAccuracy = 0.01

	// DefaultCompression is the parquet compression codec.
	// Override via config: storage.compression
	DefaultCompression = "zstd"

	// DefaultRetention is how long ride files are kept.
	// Override via config: storage.retention
	DefaultRetention = 90 * 24 * time.Hour

	// DefaultRetentionInterval is how often expired files are removed.
	// Override via config: storage.retention_interval
	DefaultRetentionInterval = time.Hour

	// DefaultCompactionInterval is how often finished rides are merged
	// into one file per dataset.
	// Override via config: storage.compaction_interval
	DefaultCompactionInterval = 10 * time.Minute

	// DefaultCompactionMinFiles is the number of files a ride needs
	// before it is merged.
	// Override via config: storage.compaction_min_files
	DefaultCompactionMinFiles = 4

	// DefaultQueryTimeout bounds history queries.
	// Override via config: storage.query_timeout
	DefaultQueryTimeout = 30 * time.Second

	// DefaultQueryMaxRows caps rows returned by ad-hoc SQL.
	// Override via config: storage.query_max_rows
	DefaultQueryMaxRows = 10000
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeout is how long shutdown waits for the final flush.
	// Override via config: shutdown.drain_timeout
	DefaultDrainTimeout = 10 * time.Second
)

// GearRatio returns chainring/sprocket as a float.
func GearRatio(chainring, sprocket int) float64 {
	if sprocket == 0 {
		return 0
	}
	return float64(chainring) / float64(sprocket)
}
