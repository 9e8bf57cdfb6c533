package units

import "fmt"

// kmhPerMps converts meters per second to kilometers per hour.
const kmhPerMps = 3.6

// Speed is stored as meters per second.
type Speed struct {
	mps float64
}

// MetersPerSecond creates a Speed from meters per second.
func MetersPerSecond(amount float64) Speed {
	return Speed{mps: amount}
}

// KilometersPerHour creates a Speed from kilometers per hour.
func KilometersPerHour(amount float64) Speed {
	return Speed{mps: amount / kmhPerMps}
}

// MetersPerSecond returns the speed in meters per second.
func (s Speed) MetersPerSecond() float64 {
	return s.mps
}

// KilometersPerHour returns the speed in kilometers per hour.
func (s Speed) KilometersPerHour() float64 {
	return s.mps * kmhPerMps
}

// Scale returns the speed multiplied by factor.
func (s Speed) Scale(factor float64) Speed {
	return Speed{mps: s.mps * factor}
}

// Div returns the speed divided by factor.
func (s Speed) Div(factor float64) Speed {
	return Speed{mps: s.mps / factor}
}

// Over returns the distance covered at this speed in t.
func (s Speed) Over(t Time) Length {
	return Meters(s.mps * t.Seconds())
}

func (s Speed) String() string {
	return fmt.Sprintf("%.1f km/h", s.KilometersPerHour())
}
