package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/logging"
	"github.com/xtxerr/tacho/internal/storage/buffer"
	"github.com/xtxerr/tacho/internal/storage/compaction"
	"github.com/xtxerr/tacho/internal/storage/config"
	"github.com/xtxerr/tacho/internal/storage/ingestion"
	"github.com/xtxerr/tacho/internal/storage/query"
	"github.com/xtxerr/tacho/internal/storage/retention"
	"github.com/xtxerr/tacho/internal/storage/types"
)

var log = logging.Component("storage")

// Service is the main storage service that orchestrates all components.
// It also serves as a reporter sink: every published reading is ingested.
type Service struct {
	mu sync.RWMutex

	config *config.Config

	// Components
	ingestion  *ingestion.Service
	query      *query.Service
	retention  *retention.Manager
	compaction *compaction.Engine

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	startTime time.Time
}

// New creates a new storage service.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
	}

	// Create ingestion service
	ing, err := ingestion.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create ingestion: %w", err)
	}

	// Create query service (with the in-memory history)
	qry, err := query.New(cfg, ing.RecentBuffer())
	if err != nil {
		return nil, fmt.Errorf("create query: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		config:     cfg,
		ingestion:  ing,
		query:      qry,
		retention:  retention.New(cfg),
		compaction: compaction.New(cfg),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start starts all components.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("storage: %w", errors.ErrAlreadyRunning)
	}

	s.mu.Lock()
	s.startTime = time.Now()
	s.mu.Unlock()

	if err := s.ingestion.Start(); err != nil {
		s.running.Store(false)
		return fmt.Errorf("start ingestion: %w", err)
	}

	if s.config.Retention.MaxAge > 0 {
		s.wg.Add(1)
		go s.retentionWorker()
	}

	if s.config.Compaction.Interval > 0 {
		s.wg.Add(1)
		go s.compactionWorker()
	}

	return nil
}

// Stop stops all components gracefully. Buffered readings and open
// summary buckets are written before Stop returns.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()

	// Wait for background workers
	s.wg.Wait()

	var errs []error

	if err := s.ingestion.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop ingestion: %w", err))
	}

	if err := s.query.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close query: %w", err))
	}

	return errors.Join(errs...)
}

// =============================================================================
// Ingestion
// =============================================================================

// Ingest ingests readings into the storage system.
func (s *Service) Ingest(readings []types.Reading) error {
	if !s.running.Load() {
		return fmt.Errorf("storage: %w", errors.ErrNotRunning)
	}

	return s.ingestion.Ingest(readings)
}

// IngestSingle ingests a single reading.
func (s *Service) IngestSingle(r types.Reading) error {
	return s.Ingest([]types.Reading{r})
}

// Name identifies the service as a reporter sink.
func (s *Service) Name() string {
	return "storage"
}

// Publish ingests one reading published by the reporter.
func (s *Service) Publish(_ context.Context, r types.Reading) error {
	return s.IngestSingle(r)
}

// ForceFlush forces an immediate flush of all buffers.
func (s *Service) ForceFlush() {
	s.ingestion.ForceFlush()
}

// Flush synchronously writes buffered readings and completed summaries.
func (s *Service) Flush() error {
	return s.ingestion.Flush()
}

// =============================================================================
// Queries
// =============================================================================

// Rides lists all recorded rides, most recent first.
func (s *Service) Rides(ctx context.Context) ([]query.RideInfo, error) {
	return s.query.Rides(ctx)
}

// RideSummaries returns the stored summaries of a ride. The open bucket of
// the ride, if any, is appended so a ride in progress is fully covered.
func (s *Service) RideSummaries(ctx context.Context, q query.SummaryQuery) ([]types.Summary, error) {
	summaries, err := s.query.RideSummaries(ctx, q)
	if err != nil {
		return nil, err
	}

	if current, ok := s.ingestion.CurrentSummary(q.Ride); ok {
		summaries = append(summaries, current)
	}

	return summaries, nil
}

// RideReadings returns stored and buffered readings of a ride.
func (s *Service) RideReadings(ctx context.Context, q query.ReadingQuery) ([]types.Reading, error) {
	return s.query.RideReadings(ctx, q)
}

// TotalDistance returns the distance covered by all stored rides, in meters.
func (s *Service) TotalDistance(ctx context.Context) (float64, error) {
	return s.query.TotalDistance(ctx)
}

// QuerySQL executes a raw SQL query.
func (s *Service) QuerySQL(ctx context.Context, sql string) ([]map[string]any, error) {
	if !s.running.Load() {
		return nil, fmt.Errorf("storage: %w", errors.ErrNotRunning)
	}

	return s.query.ExecuteSQL(ctx, sql)
}

// Latest returns the newest ingested reading.
func (s *Service) Latest() (types.Reading, bool) {
	return s.ingestion.Latest()
}

// Recent returns buffered readings matching the filter.
func (s *Service) Recent(filter buffer.Filter, limit int) []types.Reading {
	return s.ingestion.Recent(filter, limit)
}

// =============================================================================
// Retention
// =============================================================================

// retentionWorker periodically removes expired ride files.
func (s *Service) retentionWorker() {
	defer s.wg.Done()

	interval := s.config.Retention.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.RunRetention()
		}
	}
}

// RunRetention manually triggers retention cleanup.
func (s *Service) RunRetention() []retention.CleanupResult {
	results := s.retention.RunCleanup()

	for _, r := range results {
		if r.FilesDeleted > 0 || len(r.Errors) > 0 {
			log.Info("retention cleanup",
				"dataset", r.Dataset.String(),
				"deleted", r.FilesDeleted,
				"bytes_freed", r.BytesFreed,
				"errors", len(r.Errors))
		}
	}

	return results
}

// DryRunRetention simulates retention cleanup.
func (s *Service) DryRunRetention() []retention.CleanupResult {
	return s.retention.DryRun()
}

// GetDiskUsage returns disk usage per dataset.
func (s *Service) GetDiskUsage() map[types.Dataset]retention.DiskUsage {
	return s.retention.GetDiskUsage()
}

// =============================================================================
// Compaction
// =============================================================================

// compactionWorker periodically merges the files of finished rides.
func (s *Service) compactionWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Compaction.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.RunCompaction()
		}
	}
}

// RunCompaction merges the files of every finished ride. The ride being
// recorded is left alone.
func (s *Service) RunCompaction() []compaction.Result {
	results, err := s.compaction.Run(ingestion.SanitizeRide(s.config.Ride))
	if err != nil {
		log.Warn("compaction", "error", err)
	}
	return results
}

// =============================================================================
// Status
// =============================================================================

// Stats returns combined statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var uptime time.Duration
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime)
	}

	return ServiceStats{
		Running:    s.running.Load(),
		Uptime:     uptime,
		Ingestion:  s.ingestion.Stats(),
		Query:      s.query.Stats(),
		Retention:  s.retention.Stats(),
		Compaction: s.compaction.Stats(),
	}
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Running    bool
	Uptime     time.Duration
	Ingestion  ingestion.ServiceStats
	Query      query.ServiceStats
	Retention  retention.ManagerStats
	Compaction compaction.EngineStats
}

// Config returns the current configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}
