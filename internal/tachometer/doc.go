// Package tachometer turns rotation-pulse timestamps into distance, speed
// and cadence.
//
// A Tachometer keeps the last CAPACITY trigger timestamps in a fixed ring
// (RotationBuffer) plus a monotonic trigger counter. Windowed queries
// (Window, Sample) look only at the ring; TotalDistance looks only at the
// counter, so the odometer survives eviction.
//
// Timestamps are an opaque, non-decreasing int64 axis in a caller-chosen
// unit (Config.TimeUnit, milliseconds by default). Nothing here debounces,
// locks or allocates on the insert path. Callers that share a Tachometer
// between a producer and consumers must serialize access themselves; see
// package meter.
package tachometer
