// Package units defines the physical value types used by the tachometer.
//
// Key types:
//   - Length: stored as meters
//   - Time: stored as seconds
//   - Speed: stored as meters per second
//
// All values are immutable. Every operation returns a new value.
package units
