// Package compaction merges the many small files a ride accumulates into
// one file per dataset.
//
// Every flush writes a new file per ride, so a long ride leaves dozens of
// files behind. Once a ride is finished, i.e. it is not the ride currently
// being recorded, its files are read, sorted by time and rewritten as
// <ride>_<first-ms>_0.parquet. The merged file replaces the sources.
package compaction

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/tacho/internal/logging"
	"github.com/xtxerr/tacho/internal/storage/config"
	"github.com/xtxerr/tacho/internal/storage/parquet"
	"github.com/xtxerr/tacho/internal/storage/types"
)

var log = logging.Component("compaction")

// Engine merges ride files.
type Engine struct {
	mu sync.Mutex

	config *config.Config
	opts   parquet.Options

	// Statistics
	stats Stats
}

// Stats holds compaction statistics.
type Stats struct {
	JobsCompleted atomic.Int64
	JobsFailed    atomic.Int64
	FilesRead     atomic.Int64
	FilesWritten  atomic.Int64
	FilesRemoved  atomic.Int64
	RowsProcessed atomic.Int64
}

// Job merges the files of one ride in one dataset.
type Job struct {
	Dataset types.Dataset
	Ride    string

	// Source files, sorted by name
	SourceFiles []string

	// Output file path
	OutputFile string
}

// Result reports one finished job.
type Result struct {
	Job  Job
	Rows int
	Err  error
}

// New creates a new compaction engine.
func New(cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	opts := parquet.DefaultOptions()
	opts.Compression = parquet.ParseCompressionType(cfg.Compression.Algorithm)
	opts.CompressionLevel = cfg.Compression.Level

	return &Engine{
		config: cfg,
		opts:   opts,
	}
}

// =============================================================================
// Planning
// =============================================================================

// Plan lists the jobs for every finished ride with at least MinFiles
// files in a dataset. Files of the active ride are left alone.
func (e *Engine) Plan(active string) ([]Job, error) {
	minFiles := e.config.Compaction.MinFiles
	if minFiles < 2 {
		minFiles = 2
	}

	var jobs []Job
	for _, ds := range types.AllDatasets() {
		byRide, err := e.findFiles(ds)
		if err != nil {
			return nil, err
		}

		for ride, files := range byRide {
			if ride == active || len(files) < minFiles {
				continue
			}
			jobs = append(jobs, Job{
				Dataset:     ds,
				Ride:        ride,
				SourceFiles: files,
				OutputFile:  e.outputPath(ds, ride, files),
			})
		}
	}

	slices.SortFunc(jobs, func(a, b Job) int {
		return cmp.Or(cmp.Compare(a.Ride, b.Ride), cmp.Compare(a.Dataset, b.Dataset))
	})
	return jobs, nil
}

// findFiles groups the parquet files of a dataset by ride prefix.
func (e *Engine) findFiles(ds types.Dataset) (map[string][]string, error) {
	dir := filepath.Join(e.config.DataDir, ds.String())

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	byRide := make(map[string][]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) != ".parquet" {
			continue
		}

		ride, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		byRide[ride] = append(byRide[ride], filepath.Join(dir, name))
	}

	for _, files := range byRide {
		slices.Sort(files)
	}
	return byRide, nil
}

// outputPath names the merged file after the ride and its earliest file
// timestamp so retention still ages it by the ride start.
func (e *Engine) outputPath(ds types.Dataset, ride string, files []string) string {
	first := int64(-1)
	for _, f := range files {
		parts := strings.Split(strings.TrimSuffix(filepath.Base(f), ".parquet"), "_")
		if len(parts) != 3 {
			continue
		}
		ts, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		if first < 0 || ts < first {
			first = ts
		}
	}
	first = max(first, 0)

	return filepath.Join(e.config.DataDir, ds.String(), fmt.Sprintf("%s_%d_0.parquet", ride, first))
}

// =============================================================================
// Execution
// =============================================================================

// Run plans and runs every job. The active ride is skipped.
func (e *Engine) Run(active string) ([]Result, error) {
	jobs, err := e.Plan(active)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(jobs))
	for _, job := range jobs {
		rows, err := e.RunJob(job)
		if err != nil {
			log.Warn("compaction failed", "ride", job.Ride, "dataset", job.Dataset.String(), "error", err)
		}
		results = append(results, Result{Job: job, Rows: rows, Err: err})
	}
	return results, nil
}

// RunJob merges the source files of job into its output file and removes
// the sources. It returns the number of rows written.
func (e *Engine) RunJob(job Job) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(job.SourceFiles) == 0 {
		return 0, nil
	}

	var (
		rows int
		err  error
	)
	tmp := job.OutputFile + ".tmp"

	switch job.Dataset {
	case types.DatasetReadings:
		rows, err = mergeFiles(job.SourceFiles, tmp,
			func(path string) ([]types.Reading, error) {
				r, err := parquet.NewReadingReader(path)
				if err != nil {
					return nil, err
				}
				defer r.Close()
				return r.ReadAll()
			},
			func(a, b types.Reading) int { return cmp.Compare(a.TimestampMs, b.TimestampMs) },
			func(path string, values []types.Reading) error {
				w, err := parquet.NewReadingWriter(path, e.opts)
				if err != nil {
					return err
				}
				if err := w.Write(values); err != nil {
					w.Close()
					return err
				}
				return w.Close()
			})

	case types.DatasetSummaries:
		rows, err = mergeFiles(job.SourceFiles, tmp,
			func(path string) ([]types.Summary, error) {
				r, err := parquet.NewSummaryReader(path)
				if err != nil {
					return nil, err
				}
				defer r.Close()
				return r.ReadAll()
			},
			func(a, b types.Summary) int { return cmp.Compare(a.BucketStart, b.BucketStart) },
			func(path string, values []types.Summary) error {
				w, err := parquet.NewSummaryWriter(path, e.opts)
				if err != nil {
					return err
				}
				if err := w.Write(values); err != nil {
					w.Close()
					return err
				}
				return w.Close()
			})

	default:
		err = fmt.Errorf("unknown dataset %d", job.Dataset)
	}

	if err != nil {
		os.Remove(tmp)
		e.stats.JobsFailed.Add(1)
		return 0, err
	}

	e.stats.FilesRead.Add(int64(len(job.SourceFiles)))
	e.stats.RowsProcessed.Add(int64(rows))

	if err := os.Rename(tmp, job.OutputFile); err != nil {
		os.Remove(tmp)
		e.stats.JobsFailed.Add(1)
		return 0, fmt.Errorf("rename %s: %w", tmp, err)
	}
	e.stats.FilesWritten.Add(1)

	for _, src := range job.SourceFiles {
		if src == job.OutputFile {
			continue
		}
		if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
			log.Warn("remove compacted file", "path", src, "error", err)
			continue
		}
		e.stats.FilesRemoved.Add(1)
	}

	e.stats.JobsCompleted.Add(1)
	log.Info("ride compacted",
		"ride", job.Ride,
		"dataset", job.Dataset.String(),
		"files", len(job.SourceFiles),
		"rows", rows)

	return rows, nil
}

// mergeFiles reads every source, sorts the union and writes it to out.
func mergeFiles[T any](sources []string, out string,
	read func(string) ([]T, error),
	compare func(a, b T) int,
	write func(string, []T) error,
) (int, error) {
	var all []T
	for _, src := range sources {
		values, err := read(src)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", src, err)
		}
		all = append(all, values...)
	}

	slices.SortStableFunc(all, compare)

	if err := write(out, all); err != nil {
		return 0, fmt.Errorf("write %s: %w", out, err)
	}
	return len(all), nil
}

// =============================================================================
// Statistics
// =============================================================================

// Stats returns current statistics.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		JobsCompleted: e.stats.JobsCompleted.Load(),
		JobsFailed:    e.stats.JobsFailed.Load(),
		FilesRead:     e.stats.FilesRead.Load(),
		FilesWritten:  e.stats.FilesWritten.Load(),
		FilesRemoved:  e.stats.FilesRemoved.Load(),
		RowsProcessed: e.stats.RowsProcessed.Load(),
	}
}

// EngineStats holds engine statistics.
type EngineStats struct {
	JobsCompleted int64
	JobsFailed    int64
	FilesRead     int64
	FilesWritten  int64
	FilesRemoved  int64
	RowsProcessed int64
}
