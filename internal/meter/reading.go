package meter

import (
	"fmt"

	"github.com/xtxerr/tacho/internal/units"
)

// Reading is one snapshot of the meter.
type Reading struct {
	// Timestamp is the query time in meter ticks.
	Timestamp int64

	// Window is the trailing span the windowed values cover.
	Window units.Time

	// Pulses is the number of trigger passes inside the window.
	Pulses int

	// Distance covered inside the window.
	Distance units.Length

	// Speed is the average speed over the window.
	Speed units.Speed

	// Cadence in revolutions per minute.
	Cadence float64

	// TotalDistance since the meter was created.
	TotalDistance units.Length

	// Revolutions is the total number of wheel revolutions.
	Revolutions float64

	// BufferLen and BufferCap describe the rotation buffer fill.
	BufferLen int
	BufferCap int
}

// IsStill returns true when no pulse fell into the window.
func (r Reading) IsStill() bool {
	return r.Pulses == 0
}

// BufferSaturated returns true when the buffer is full and the window may
// be missing older pulses.
func (r Reading) BufferSaturated() bool {
	return r.BufferCap > 0 && r.BufferLen == r.BufferCap && r.Pulses == r.BufferCap
}

func (r Reading) String() string {
	return fmt.Sprintf("%.1f km/h, %.0f rpm, %s in %s, total %s",
		r.Speed.KilometersPerHour(), r.Cadence, r.Distance, r.Window, r.TotalDistance)
}
