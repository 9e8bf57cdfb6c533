// Package storage records rides as Parquet files and answers history
// queries over them.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Ingestion  │────▶│   Pending   │────▶│   Parquet   │──▶ readings/
//	│   Service   │     │   Buffer    │     │   Writer    │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	       │
//	       ▼
//	┌─────────────┐     ┌─────────────┐
//	│  Aggregate  │────▶│   Parquet   │──▶ summaries/
//	│   Manager   │     │   Writer    │
//	└─────────────┘     └─────────────┘
//
// Every reading published by the reporter is appended to the ride log.
// Readings are also folded into fixed-size summary buckets per ride, with
// speed percentiles from a DDSketch. DuckDB queries both datasets in
// place; readings not yet flushed are served from an in-memory buffer.
// Files older than the retention period are removed periodically.
package storage
