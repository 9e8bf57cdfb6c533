package units

import (
	"fmt"
	"time"
)

// Time is a span of time stored as seconds.
type Time struct {
	seconds float64
}

// Seconds creates a Time from seconds.
func Seconds(amount float64) Time {
	return Time{seconds: amount}
}

// Milliseconds creates a Time from milliseconds.
func Milliseconds(amount float64) Time {
	return Time{seconds: amount / 1000}
}

// FromDuration converts a time.Duration.
func FromDuration(d time.Duration) Time {
	return Time{seconds: d.Seconds()}
}

// Seconds returns the time in seconds.
func (t Time) Seconds() float64 {
	return t.seconds
}

// Milliseconds returns the time in milliseconds.
func (t Time) Milliseconds() float64 {
	return t.seconds * 1000
}

// Duration converts to a time.Duration, truncated to nanoseconds.
func (t Time) Duration() time.Duration {
	return time.Duration(t.seconds * float64(time.Second))
}

// Scale returns the time multiplied by factor.
func (t Time) Scale(factor float64) Time {
	return Time{seconds: t.seconds * factor}
}

// Div returns the time divided by factor.
func (t Time) Div(factor float64) Time {
	return Time{seconds: t.seconds / factor}
}

func (t Time) String() string {
	return fmt.Sprintf("%gs", t.seconds)
}
