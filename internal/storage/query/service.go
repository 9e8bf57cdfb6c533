package query

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/storage/buffer"
	"github.com/xtxerr/tacho/internal/storage/config"
	"github.com/xtxerr/tacho/internal/storage/types"
)

// Service provides query capabilities over stored rides.
// It uses DuckDB to query Parquet files and combines results with hot data from the ring buffer.
type Service struct {
	mu sync.RWMutex

	config *config.Config
	db     *sql.DB
	buffer *buffer.RingBuffer

	// Statistics
	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// RideInfo describes one ride found in the readings log.
type RideInfo struct {
	Ride           string
	Readings       int64
	FirstTs        int64
	LastTs         int64
	DistanceM      float64
	MaxSpeedKmh    float64
	AvgSpeedKmh    float64
	TotalDistanceM float64
}

// Duration returns the time between the first and last reading.
func (r RideInfo) Duration() time.Duration {
	return time.Duration(r.LastTs-r.FirstTs) * time.Millisecond
}

// SummaryQuery defines parameters for querying ride summaries.
type SummaryQuery struct {
	Ride      string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// ReadingQuery defines parameters for querying raw readings of a ride.
type ReadingQuery struct {
	Ride      string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// New creates a new query service. buf may be nil; when set, readings not
// yet flushed to disk are merged into reading queries.
func New(cfg *config.Config, buf *buffer.RingBuffer) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Open in-memory DuckDB database
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("%w: open duckdb: %w", errors.ErrStorage, err)
	}

	// Configure DuckDB
	if cfg.Query.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", quote(cfg.Query.MemoryLimit)))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: set memory limit: %w", errors.ErrStorage, err)
		}
	}

	return &Service{
		config: cfg,
		db:     db,
		buffer: buf,
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// Rides
// =============================================================================

// Rides lists every ride in the readings log, most recent first.
func (s *Service) Rides(ctx context.Context) ([]RideInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.source(types.DatasetReadings)
	if !ok {
		return nil, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT
			ride,
			count(*),
			min(timestamp_ms), max(timestamp_ms),
			max(total_distance_m) - min(total_distance_m - distance_m),
			max(speed_kmh), avg(speed_kmh),
			max(total_distance_m)
		FROM ` + src + `
		GROUP BY ride
		ORDER BY max(timestamp_ms) DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("%w: list rides: %w", errors.ErrStorage, err)
	}
	defer rows.Close()

	var rides []RideInfo
	for rows.Next() {
		var r RideInfo
		if err := rows.Scan(
			&r.Ride, &r.Readings,
			&r.FirstTs, &r.LastTs,
			&r.DistanceM,
			&r.MaxSpeedKmh, &r.AvgSpeedKmh,
			&r.TotalDistanceM,
		); err != nil {
			s.stats.Errors++
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		rides = append(rides, r)
	}
	if err := rows.Err(); err != nil {
		s.stats.Errors++
		return nil, err
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(rides))

	return rides, nil
}

// TotalDistance returns the distance covered across all rides, in meters.
// Each ride contributes the odometer value of its last reading.
func (s *Service) TotalDistance(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.source(types.DatasetReadings)
	if !ok {
		return 0, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT coalesce(sum(total), 0)
		FROM (
			SELECT max(total_distance_m) AS total
			FROM ` + src + `
			GROUP BY ride
		)
	`

	var total float64
	if err := s.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		s.stats.Errors++
		return 0, fmt.Errorf("%w: total distance: %w", errors.ErrStorage, err)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned++

	return total, nil
}

// =============================================================================
// Summaries and Readings
// =============================================================================

// RideSummaries returns the per-bucket summaries of a ride ordered by bucket start.
// A zero StartTime or EndTime leaves that side of the range open.
func (s *Service) RideSummaries(ctx context.Context, q SummaryQuery) ([]types.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.source(types.DatasetSummaries)
	if !ok {
		return nil, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start, end := rangeMillis(q.StartTime, q.EndTime)

	query := `
		SELECT
			ride,
			bucket_start, bucket_end,
			count, speed_sum, min_speed, max_speed, avg_speed,
			p50, p90, p95, p99,
			avg_cadence, max_cadence,
			distance_start_m, distance_end_m,
			first_ts, last_ts
		FROM ` + src + `
		WHERE ride = $1
		  AND bucket_start >= $2
		  AND bucket_end <= $3
		ORDER BY bucket_start
	`
	query += limitClause(q.Limit)

	rows, err := s.db.QueryContext(ctx, query, q.Ride, start, end)
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("%w: query summaries: %w", errors.ErrStorage, err)
	}
	defer rows.Close()

	results, err := scanSummaries(rows)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, nil
}

// scanSummaries scans rows into a Summary slice.
func scanSummaries(rows *sql.Rows) ([]types.Summary, error) {
	var results []types.Summary

	for rows.Next() {
		var r types.Summary
		var p50, p90, p95, p99 sql.NullFloat64

		err := rows.Scan(
			&r.Ride,
			&r.BucketStart, &r.BucketEnd,
			&r.Count, &r.SpeedSum, &r.MinSpeed, &r.MaxSpeed, &r.AvgSpeed,
			&p50, &p90, &p95, &p99,
			&r.AvgCadence, &r.MaxCadence,
			&r.DistanceStartM, &r.DistanceEndM,
			&r.FirstTs, &r.LastTs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if p50.Valid {
			r.SetPercentiles(p50.Float64, p90.Float64, p95.Float64, p99.Float64)
		}

		results = append(results, r)
	}

	return results, rows.Err()
}

// RideReadings returns the raw readings of a ride ordered by timestamp.
// Readings still held in memory are merged in; a timestamp present on
// disk and in memory is returned once.
func (s *Service) RideReadings(ctx context.Context, q ReadingQuery) ([]types.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, end := rangeMillis(q.StartTime, q.EndTime)

	var results []types.Reading

	if src, ok := s.source(types.DatasetReadings); ok {
		qctx, cancel := s.withTimeout(ctx)
		defer cancel()

		query := `
			SELECT
				ride, source, timestamp_ms, window_ms, pulses,
				distance_m, speed_kmh, cadence_rpm,
				total_distance_m, revolutions, buffer_len, buffer_cap
			FROM ` + src + `
			WHERE ride = $1
			  AND timestamp_ms >= $2
			  AND timestamp_ms <= $3
			ORDER BY timestamp_ms
		`

		rows, err := s.db.QueryContext(qctx, query, q.Ride, start, end)
		if err != nil {
			s.stats.Errors++
			return nil, fmt.Errorf("%w: query readings: %w", errors.ErrStorage, err)
		}
		defer rows.Close()

		for rows.Next() {
			var r types.Reading
			if err := rows.Scan(
				&r.Ride, &r.Source, &r.TimestampMs, &r.WindowMs, &r.Pulses,
				&r.DistanceM, &r.SpeedKmh, &r.CadenceRpm,
				&r.TotalDistanceM, &r.Revolutions, &r.BufferLen, &r.BufferCap,
			); err != nil {
				s.stats.Errors++
				return nil, fmt.Errorf("scan row: %w", err)
			}
			results = append(results, r)
		}
		if err := rows.Err(); err != nil {
			s.stats.Errors++
			return nil, err
		}
	}

	results = mergeReadings(results, s.queryBuffer(q.Ride, start, end))

	// Keep the newest readings when limited
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[len(results)-q.Limit:]
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, nil
}

// queryBuffer queries the ring buffer for recent readings.
func (s *Service) queryBuffer(ride string, startMs, endMs int64) []types.Reading {
	if s.buffer == nil {
		return nil
	}

	return s.buffer.Query(buffer.Filter{
		Ride:  ride,
		Since: startMs,
		Until: endMs,
	}, 0)
}

// mergeReadings merges disk and buffer readings, both sorted by timestamp.
func mergeReadings(disk, hot []types.Reading) []types.Reading {
	if len(hot) == 0 {
		return disk
	}

	seen := make(map[int64]struct{}, len(disk))
	for _, r := range disk {
		seen[r.TimestampMs] = struct{}{}
	}

	merged := disk
	for _, r := range hot {
		if _, dup := seen[r.TimestampMs]; dup {
			continue
		}
		merged = append(merged, r)
	}

	slices.SortStableFunc(merged, func(a, b types.Reading) int {
		return cmp.Compare(a.TimestampMs, b.TimestampMs)
	})

	return merged
}

// =============================================================================
// Ad-hoc SQL
// =============================================================================

// ExecuteSQL executes a raw SQL query using DuckDB.
// The views "readings" and "summaries" are defined over the Parquet files
// when present. At most Query.MaxRows rows are returned.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refreshViews(ctx); err != nil {
		s.stats.Errors++
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any

	for rows.Next() {
		if s.config.Query.MaxRows > 0 && len(results) >= s.config.Query.MaxRows {
			break
		}

		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any)
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, rows.Err()
}

// refreshViews (re)creates one view per dataset that has files on disk.
func (s *Service) refreshViews(ctx context.Context) error {
	for _, ds := range types.AllDatasets() {
		src, ok := s.source(ds)
		if !ok {
			continue
		}
		stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s", ds.String(), src)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: create view %s: %w", errors.ErrStorage, ds, err)
		}
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// source returns the read_parquet expression for a dataset, or false
// when the dataset has no files yet.
func (s *Service) source(ds types.Dataset) (string, bool) {
	dir := filepath.Join(s.config.DataDir, ds.String())
	pattern := filepath.Join(dir, "*.parquet")

	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return "", false
	}

	return fmt.Sprintf("read_parquet('%s')", quote(pattern)), true
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Query.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.Query.Timeout)
}

// quote escapes single quotes for use inside a SQL string literal.
func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

// rangeMillis converts an optional time range to inclusive millisecond bounds.
func rangeMillis(start, end time.Time) (int64, int64) {
	startMs := int64(-1 << 62)
	endMs := int64(1 << 62)
	if !start.IsZero() {
		startMs = start.UnixMilli()
	}
	if !end.IsZero() {
		endMs = end.UnixMilli()
	}
	return startMs, endMs
}

// Stats returns query statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServiceStats{
		QueriesExecuted: s.stats.QueriesExecuted,
		RowsReturned:    s.stats.RowsReturned,
		Errors:          s.stats.Errors,
	}
}

// ServiceStats holds service statistics.
type ServiceStats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}
