package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/logging"
	"github.com/xtxerr/tacho/internal/storage/aggregate"
	"github.com/xtxerr/tacho/internal/storage/buffer"
	"github.com/xtxerr/tacho/internal/storage/config"
	"github.com/xtxerr/tacho/internal/storage/parquet"
	"github.com/xtxerr/tacho/internal/storage/types"
)

var log = logging.Component("ingestion")

// DefaultRecentCapacity is the number of readings kept in memory for
// history queries that do not hit the disk.
const DefaultRecentCapacity = 3600

// Service orchestrates the reading ingestion pipeline.
// It manages the flow: Readings → Pending Buffer → Parquet, and
// Readings → Aggregation → Summaries → Parquet.
type Service struct {
	config *config.Config

	// Components
	pending   *buffer.RingBuffer
	recent    *buffer.RingBuffer
	aggregate *aggregate.Manager
	opts      parquet.Options

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	seq     atomic.Int64
	flushMu sync.Mutex

	now func() time.Time

	// Statistics
	stats Stats

	// Channels
	flushCh chan struct{}
}

// Stats holds ingestion statistics.
type Stats struct {
	ReadingsReceived atomic.Int64
	ReadingsDropped  atomic.Int64
	ReadingsWritten  atomic.Int64
	SummariesWritten atomic.Int64
	FilesWritten     atomic.Int64
	FlushesCompleted atomic.Int64
	Errors           atomic.Int64
}

// New creates a new ingestion service.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrStorage, err)
	}

	opts := parquet.DefaultOptions()
	opts.Compression = parquet.ParseCompressionType(cfg.Compression.Algorithm)
	opts.CompressionLevel = cfg.Compression.Level

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		config:    cfg,
		pending:   buffer.New(calculateBufferCapacity(cfg)),
		recent:    buffer.New(DefaultRecentCapacity),
		aggregate: aggregate.NewManager(cfg.Aggregation.BucketSize, cfg.Aggregation.PercentileAccuracy),
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
		flushCh:   make(chan struct{}, 1),
	}, nil
}

// calculateBufferCapacity sizes the pending queue to hold several batches.
func calculateBufferCapacity(cfg *config.Config) int {
	capacity := cfg.Flush.MaxBatch * 4
	if capacity < 1024 {
		capacity = 1024
	}
	if capacity > 1_000_000 {
		capacity = 1_000_000
	}
	return capacity
}

// Start starts the ingestion service.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("ingestion: %w", errors.ErrAlreadyRunning)
	}

	s.wg.Add(1)
	go s.flushWorker()

	log.Info("ingestion started",
		"data_dir", s.config.DataDir,
		"flush_interval", s.config.Flush.Interval,
		"compression", s.opts.Compression.String())

	return nil
}

// Stop stops the ingestion service and writes everything still buffered.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	s.wg.Wait()

	return s.flushAll()
}

// Ingest ingests a batch of readings.
func (s *Service) Ingest(readings []types.Reading) error {
	if !s.running.Load() {
		return fmt.Errorf("ingestion: %w", errors.ErrNotRunning)
	}

	if len(readings) == 0 {
		return nil
	}

	s.stats.ReadingsReceived.Add(int64(len(readings)))

	dropped := 0
	for i := range readings {
		r := readings[i]

		if !s.pending.Push(r) {
			dropped++
		}
		s.recent.PushOverwrite(r)
		s.aggregate.Process(r)
	}

	if dropped > 0 {
		s.stats.ReadingsDropped.Add(int64(dropped))
		log.Warn("pending buffer full, readings dropped", "dropped", dropped)
	}

	if s.config.Flush.MaxBatch > 0 && s.pending.Len() >= s.config.Flush.MaxBatch {
		s.ForceFlush()
	}

	return nil
}

// IngestSingle ingests a single reading.
func (s *Service) IngestSingle(r types.Reading) error {
	return s.Ingest([]types.Reading{r})
}

// flushWorker periodically writes pending readings and completed summaries.
func (s *Service) flushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Flush.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.flush()
		case <-s.flushCh:
			s.flush()
		}
	}
}

// Flush synchronously writes pending readings and completed summaries.
func (s *Service) Flush() error {
	return s.flush()
}

func (s *Service) flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	var errs []error

	if err := s.writeReadings(s.pending.PopN(s.pending.Len())); err != nil {
		errs = append(errs, err)
	}

	summaries := s.aggregate.FlushCompleted()
	cutoff := s.now().Add(-s.aggregate.BucketSize()).UnixMilli()
	summaries = append(summaries, s.aggregate.FlushOlderThan(cutoff)...)
	if err := s.writeSummaries(summaries); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		s.stats.Errors.Add(int64(len(errs)))
		err := errors.Join(errs...)
		log.Error("flush failed", "error", err)
		return err
	}

	s.stats.FlushesCompleted.Add(1)
	return nil
}

// flushAll flushes all data including open summary buckets.
func (s *Service) flushAll() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	var errs []error

	if err := s.writeReadings(s.pending.PopN(s.pending.Len())); err != nil {
		errs = append(errs, err)
	}
	if err := s.writeSummaries(s.aggregate.FlushAll()); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		s.stats.Errors.Add(int64(len(errs)))
		return errors.Join(errs...)
	}

	s.stats.FlushesCompleted.Add(1)
	return nil
}

// writeReadings writes readings to one parquet file per ride.
func (s *Service) writeReadings(readings []types.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	for ride, group := range groupByRide(readings, func(r *types.Reading) string { return r.Ride }) {
		path := s.filePath(types.DatasetReadings, ride, group[0].TimestampMs)

		writer, err := parquet.NewReadingWriter(path, s.opts)
		if err != nil {
			return fmt.Errorf("%w: create reading writer: %w", errors.ErrStorage, err)
		}
		if err := writer.Write(group); err != nil {
			writer.Close()
			return fmt.Errorf("%w: write readings: %w", errors.ErrStorage, err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("%w: close reading writer: %w", errors.ErrStorage, err)
		}

		s.stats.ReadingsWritten.Add(int64(len(group)))
		s.stats.FilesWritten.Add(1)
		log.Debug("readings written", "ride", ride, "rows", len(group), "path", path)
	}

	return nil
}

// writeSummaries writes summaries to one parquet file per ride.
func (s *Service) writeSummaries(summaries []types.Summary) error {
	if len(summaries) == 0 {
		return nil
	}

	for ride, group := range groupByRide(summaries, func(s *types.Summary) string { return s.Ride }) {
		path := s.filePath(types.DatasetSummaries, ride, group[0].BucketStart)

		writer, err := parquet.NewSummaryWriter(path, s.opts)
		if err != nil {
			return fmt.Errorf("%w: create summary writer: %w", errors.ErrStorage, err)
		}
		if err := writer.Write(group); err != nil {
			writer.Close()
			return fmt.Errorf("%w: write summaries: %w", errors.ErrStorage, err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("%w: close summary writer: %w", errors.ErrStorage, err)
		}

		s.stats.SummariesWritten.Add(int64(len(group)))
		s.stats.FilesWritten.Add(1)
		log.Debug("summaries written", "ride", ride, "rows", len(group), "path", path)
	}

	return nil
}

// filePath builds <data_dir>/<dataset>/<ride>_<unix ms>_<seq>.parquet.
func (s *Service) filePath(ds types.Dataset, ride string, firstTs int64) string {
	filename := fmt.Sprintf("%s_%d_%d.parquet", SanitizeRide(ride), firstTs, s.seq.Add(1))
	return filepath.Join(s.config.DataDir, ds.String(), filename)
}

// groupByRide splits values by ride, keeping their order.
func groupByRide[T any](values []T, ride func(*T) string) map[string][]T {
	groups := make(map[string][]T)
	for i := range values {
		key := ride(&values[i])
		groups[key] = append(groups[key], values[i])
	}
	return groups
}

// SanitizeRide maps a ride name to a string safe for file names.
func SanitizeRide(ride string) string {
	if ride == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, ride)
}

// ForceFlush triggers an asynchronous flush.
func (s *Service) ForceFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
		// Flush already pending
	}
}

// Recent returns buffered readings matching the filter, newest limit.
func (s *Service) Recent(filter buffer.Filter, limit int) []types.Reading {
	return s.recent.Query(filter, limit)
}

// RecentBuffer returns the in-memory history buffer.
func (s *Service) RecentBuffer() *buffer.RingBuffer {
	return s.recent
}

// Latest returns the newest ingested reading.
func (s *Service) Latest() (types.Reading, bool) {
	return s.recent.PeekNewest()
}

// CurrentSummary returns the open summary bucket of a ride.
func (s *Service) CurrentSummary(ride string) (types.Summary, bool) {
	return s.aggregate.Current(ride)
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	pendingStats := s.pending.Stats()
	aggStats := s.aggregate.Stats()

	return ServiceStats{
		Running:          s.running.Load(),
		ReadingsReceived: s.stats.ReadingsReceived.Load(),
		ReadingsDropped:  s.stats.ReadingsDropped.Load(),
		ReadingsWritten:  s.stats.ReadingsWritten.Load(),
		SummariesWritten: s.stats.SummariesWritten.Load(),
		FilesWritten:     s.stats.FilesWritten.Load(),
		FlushesCompleted: s.stats.FlushesCompleted.Load(),
		Errors:           s.stats.Errors.Load(),
		PendingUsage:     pendingStats.UsageRatio,
		PendingCount:     pendingStats.Count,
		RecentCount:      s.recent.Len(),
		ActiveAggregates: aggStats.ActiveAggregates,
		LateReadings:     aggStats.ReadingsLate,
	}
}

// ServiceStats holds combined service statistics.
type ServiceStats struct {
	Running          bool
	ReadingsReceived int64
	ReadingsDropped  int64
	ReadingsWritten  int64
	SummariesWritten int64
	FilesWritten     int64
	FlushesCompleted int64
	Errors           int64
	PendingUsage     float64
	PendingCount     int
	RecentCount      int
	ActiveAggregates int64
	LateReadings     int64
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}
