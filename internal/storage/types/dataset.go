package types

import (
	"fmt"
	"time"
)

// Dataset identifies a family of parquet files under the data directory.
type Dataset int

const (
	// DatasetReadings holds every published reading.
	DatasetReadings Dataset = iota

	// DatasetSummaries holds per-bucket ride summaries.
	DatasetSummaries
)

// String returns the string representation of the dataset.
// It doubles as the directory name below the data directory.
func (d Dataset) String() string {
	switch d {
	case DatasetReadings:
		return "readings"
	case DatasetSummaries:
		return "summaries"
	default:
		return fmt.Sprintf("unknown(%d)", d)
	}
}

// ParseDataset parses a string into a Dataset.
func ParseDataset(s string) (Dataset, error) {
	switch s {
	case "readings":
		return DatasetReadings, nil
	case "summaries":
		return DatasetSummaries, nil
	default:
		return DatasetReadings, fmt.Errorf("unknown dataset: %s", s)
	}
}

// AllDatasets returns all datasets in order.
func AllDatasets() []Dataset {
	return []Dataset{DatasetReadings, DatasetSummaries}
}

// TruncateToBucket truncates a unix millisecond timestamp to the start of
// its bucket of the given size.
func TruncateToBucket(tsMs int64, size time.Duration) int64 {
	sizeMs := size.Milliseconds()
	if sizeMs <= 0 {
		return tsMs
	}
	bucket := tsMs - tsMs%sizeMs
	if tsMs < 0 && tsMs%sizeMs != 0 {
		bucket -= sizeMs
	}
	return bucket
}
