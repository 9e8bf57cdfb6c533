package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/tacho/internal/storage/types"
)

// rowReader reads rows of type R and converts them to values of type T.
type rowReader[T, R any] struct {
	file    *os.File
	reader  *parquet.GenericReader[R]
	convert func(*R) T
	path    string
}

func newRowReader[T, R any](path string, convert func(*R) T) (*rowReader[T, R], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &rowReader[T, R]{
		file:    f,
		reader:  parquet.NewGenericReader[R](f, parquet.ReadBufferSize(256*1024)),
		convert: convert,
		path:    path,
	}, nil
}

// Read reads up to n values from the file.
// It returns io.EOF once the file is exhausted and nothing was read.
func (r *rowReader[T, R]) Read(n int) ([]T, error) {
	rows := make([]R, n)
	count, err := r.reader.Read(rows)
	if err != nil && !(errors.Is(err, io.EOF) && count > 0) {
		return nil, err
	}

	values := make([]T, count)
	for i := 0; i < count; i++ {
		values[i] = r.convert(&rows[i])
	}

	return values, nil
}

// ReadAll reads all remaining values from the file.
func (r *rowReader[T, R]) ReadAll() ([]T, error) {
	rows := make([]R, r.reader.NumRows())

	total := 0
	for total < len(rows) {
		n, err := r.reader.Read(rows[total:])
		total += n
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
	}

	values := make([]T, total)
	for i := 0; i < total; i++ {
		values[i] = r.convert(&rows[i])
	}

	return values, nil
}

// NumRows returns the total number of rows in the file.
func (r *rowReader[T, R]) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *rowReader[T, R]) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *rowReader[T, R]) Path() string {
	return r.path
}

// ReadingReader reads readings from a Parquet file.
type ReadingReader struct {
	*rowReader[types.Reading, ReadingRow]
}

// NewReadingReader creates a new reading Parquet reader.
func NewReadingReader(path string) (*ReadingReader, error) {
	r, err := newRowReader(path, RowToReading)
	if err != nil {
		return nil, err
	}
	return &ReadingReader{r}, nil
}

// SummaryReader reads ride summaries from a Parquet file.
type SummaryReader struct {
	*rowReader[types.Summary, SummaryRow]
}

// NewSummaryReader creates a new summary Parquet reader.
func NewSummaryReader(path string) (*SummaryReader, error) {
	r, err := newRowReader(path, RowToSummary)
	if err != nil {
		return nil, err
	}
	return &SummaryReader{r}, nil
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
	NumCols int
}

// GetFileInfo returns information about a Parquet file.
func GetFileInfo(path string) (*FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: pf.NumRows(),
		NumCols: len(pf.Schema().Fields()),
	}, nil
}
