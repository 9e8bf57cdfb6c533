// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Reading: One tachometer reading published by the reporter
//   - Summary: Aggregated ride statistics for a time bucket
//   - Dataset: Which file family a row belongs to (readings, summaries)
package types
