package units

import "fmt"

// Length is a distance stored as meters.
type Length struct {
	meters float64
}

// Meters creates a Length from meters.
func Meters(amount float64) Length {
	return Length{meters: amount}
}

// Centimeters creates a Length from centimeters.
func Centimeters(amount float64) Length {
	return Length{meters: amount / 100}
}

// Kilometers creates a Length from kilometers.
func Kilometers(amount float64) Length {
	return Length{meters: amount * 1000}
}

// Meters returns the length in meters.
func (l Length) Meters() float64 {
	return l.meters
}

// Centimeters returns the length in centimeters.
func (l Length) Centimeters() float64 {
	return l.meters * 100
}

// Kilometers returns the length in kilometers.
func (l Length) Kilometers() float64 {
	return l.meters / 1000
}

// Scale returns the length multiplied by factor.
func (l Length) Scale(factor float64) Length {
	return Length{meters: l.meters * factor}
}

// Div returns the length divided by factor.
func (l Length) Div(factor float64) Length {
	return Length{meters: l.meters / factor}
}

// Add returns the sum of two lengths.
func (l Length) Add(other Length) Length {
	return Length{meters: l.meters + other.meters}
}

// Per returns the speed needed to cover l in t.
// A zero t is not guarded and yields an infinite or NaN speed.
func (l Length) Per(t Time) Speed {
	return MetersPerSecond(l.meters / t.Seconds())
}

// IsZero returns true for a zero length.
func (l Length) IsZero() bool {
	return l.meters == 0
}

// String formats the length with a unit suited to its magnitude.
func (l Length) String() string {
	if l.meters >= 1000 || l.meters <= -1000 {
		return fmt.Sprintf("%.3f km", l.Kilometers())
	}
	return fmt.Sprintf("%.2f m", l.meters)
}
