// Package parquet implements Parquet file reading and writing for readings and summaries.
//
// The package provides:
//   - ReadingWriter/ReadingReader for published tachometer readings
//   - SummaryWriter/SummaryReader for per-bucket ride summaries
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Type conversion between storage types and Parquet rows
package parquet
