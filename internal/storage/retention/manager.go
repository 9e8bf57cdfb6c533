package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/tacho/internal/storage/config"
	"github.com/xtxerr/tacho/internal/storage/types"
)

// Manager handles automatic cleanup of expired ride files.
type Manager struct {
	mu     sync.RWMutex
	config *config.Config
	now    func() time.Time
	stats  Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime  time.Time
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	Dataset      types.Dataset
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

// New creates a new retention manager.
func New(cfg *config.Config) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	return &Manager{
		config: cfg,
		now:    time.Now,
	}
}

// RunCleanup performs cleanup on all datasets.
func (m *Manager) RunCleanup() []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.LastRunTime = m.now()

	var results []CleanupResult

	for _, ds := range types.AllDatasets() {
		result := m.cleanupDataset(ds, false)
		results = append(results, result)
		m.record(result)
	}

	return results
}

// DryRun simulates cleanup without deleting files.
func (m *Manager) DryRun() []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []CleanupResult

	for _, ds := range types.AllDatasets() {
		results = append(results, m.cleanupDataset(ds, true))
	}

	return results
}

// CleanupDataset cleans a specific dataset.
func (m *Manager) CleanupDataset(ds types.Dataset) CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := m.cleanupDataset(ds, false)
	m.record(result)

	return result
}

func (m *Manager) record(result CleanupResult) {
	m.stats.FilesDeleted += int64(result.FilesDeleted)
	m.stats.BytesFreed += result.BytesFreed
	m.stats.FilesSkipped += int64(result.FilesSkipped)
	m.stats.Errors += int64(len(result.Errors))
}

// cleanupDataset performs cleanup for a single dataset.
// A retention of zero keeps files forever.
func (m *Manager) cleanupDataset(ds types.Dataset, dryRun bool) CleanupResult {
	result := CleanupResult{Dataset: ds}

	dir := filepath.Join(m.config.DataDir, ds.String())
	retention := m.config.Retention.MaxAge

	files, err := listFiles(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("list files: %w", err))
		}
		return result
	}

	if retention <= 0 {
		result.FilesSkipped = len(files)
		return result
	}

	cutoff := m.now().Add(-retention)

	for _, file := range files {
		fileTime, err := ParseFileTime(file.name)
		if err != nil {
			fileTime = file.modTime
		}

		// Check if file is expired
		if fileTime.After(cutoff) {
			result.FilesSkipped++
			continue
		}

		// Delete file
		if !dryRun {
			if err := os.Remove(file.path); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", file.path, err))
				continue
			}
		}

		result.FilesDeleted++
		result.BytesFreed += file.size
	}

	return result
}

// fileInfo holds information about a file.
type fileInfo struct {
	name    string
	path    string
	size    int64
	modTime time.Time
}

// listFiles lists all Parquet files in a directory.
func listFiles(dir string) ([]fileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []fileInfo

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) != ".parquet" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, fileInfo{
			name:    name,
			path:    filepath.Join(dir, name),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].name < files[j].name
	})

	return files, nil
}

// ParseFileTime extracts the first-reading timestamp from a file name of
// the form <ride>_<unix-ms>_<seq>.parquet.
func ParseFileTime(name string) (time.Time, error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))

	parts := strings.Split(base, "_")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("unexpected file name %q", name)
	}

	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp in %q: %w", name, err)
	}

	return time.UnixMilli(ms), nil
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		LastRunTime:  m.stats.LastRunTime,
		FilesDeleted: m.stats.FilesDeleted,
		BytesFreed:   m.stats.BytesFreed,
		FilesSkipped: m.stats.FilesSkipped,
		Errors:       m.stats.Errors,
	}
}

// ManagerStats holds manager statistics.
type ManagerStats struct {
	LastRunTime  time.Time
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// GetDiskUsage returns disk usage for each dataset.
func (m *Manager) GetDiskUsage() map[types.Dataset]DiskUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	usage := make(map[types.Dataset]DiskUsage)

	for _, ds := range types.AllDatasets() {
		files, err := listFiles(filepath.Join(m.config.DataDir, ds.String()))
		if err != nil {
			continue
		}

		var totalSize int64
		for _, f := range files {
			totalSize += f.size
		}

		usage[ds] = DiskUsage{
			FileCount: len(files),
			TotalSize: totalSize,
		}
	}

	return usage
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	FileCount int
	TotalSize int64
}

// FormatDiskUsage returns a formatted string of disk usage.
func (m *Manager) FormatDiskUsage() string {
	usage := m.GetDiskUsage()

	var b strings.Builder
	var totalSize int64
	var totalFiles int

	b.WriteString("Disk Usage:\n")
	for _, ds := range types.AllDatasets() {
		u := usage[ds]
		totalSize += u.TotalSize
		totalFiles += u.FileCount

		fmt.Fprintf(&b, "  %s: %d files, %s\n", ds.String(), u.FileCount, formatBytes(u.TotalSize))
	}
	fmt.Fprintf(&b, "  Total: %d files, %s\n", totalFiles, formatBytes(totalSize))

	return b.String()
}

// formatBytes formats bytes as human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
