package units

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const epsilon = 1e-9

func TestLengthConversions(t *testing.T) {
	l := Centimeters(70)

	assert.InDelta(t, 0.7, l.Meters(), epsilon)
	assert.InDelta(t, 70, l.Centimeters(), epsilon)
	assert.InDelta(t, 0.0007, l.Kilometers(), epsilon)

	assert.InDelta(t, 2500, Kilometers(2.5).Meters(), epsilon)
	assert.InDelta(t, 12, Meters(12).Meters(), epsilon)
}

func TestLengthArithmeticReturnsNewValues(t *testing.T) {
	base := Meters(2)

	scaled := base.Scale(3)
	divided := base.Div(4)
	sum := base.Add(Meters(0.5))

	assert.InDelta(t, 2, base.Meters(), epsilon, "receiver must not change")
	assert.InDelta(t, 6, scaled.Meters(), epsilon)
	assert.InDelta(t, 0.5, divided.Meters(), epsilon)
	assert.InDelta(t, 2.5, sum.Meters(), epsilon)
}

func TestLengthPerTime(t *testing.T) {
	speed := Meters(100).Per(Seconds(10))
	assert.InDelta(t, 10, speed.MetersPerSecond(), epsilon)
	assert.InDelta(t, 36, speed.KilometersPerHour(), epsilon)

	// Zero time is not guarded.
	inf := Meters(1).Per(Seconds(0))
	assert.True(t, math.IsInf(inf.MetersPerSecond(), 1))
}

func TestTimeConversions(t *testing.T) {
	tm := Milliseconds(1500)

	assert.InDelta(t, 1.5, tm.Seconds(), epsilon)
	assert.InDelta(t, 1500, tm.Milliseconds(), epsilon)
	assert.Equal(t, 1500*time.Millisecond, tm.Duration())
	assert.InDelta(t, 3, FromDuration(3*time.Second).Seconds(), epsilon)
	assert.InDelta(t, 3, Seconds(1.5).Scale(2).Seconds(), epsilon)
	assert.InDelta(t, 0.75, Seconds(1.5).Div(2).Seconds(), epsilon)
}

func TestSpeedConversions(t *testing.T) {
	s := KilometersPerHour(36)

	assert.InDelta(t, 10, s.MetersPerSecond(), epsilon)
	assert.InDelta(t, 36, s.KilometersPerHour(), epsilon)
	assert.InDelta(t, 72, s.Scale(2).KilometersPerHour(), epsilon)
	assert.InDelta(t, 18, s.Div(2).KilometersPerHour(), epsilon)
	assert.InDelta(t, 100, s.Over(Seconds(10)).Meters(), epsilon)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "21.99 m", Meters(21.99).String())
	assert.Equal(t, "1.500 km", Kilometers(1.5).String())
	assert.Equal(t, "36.0 km/h", KilometersPerHour(36).String())
	assert.Equal(t, "1.5s", Seconds(1.5).String())
}
