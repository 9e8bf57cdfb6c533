package tachometer

import (
	"fmt"
	"math"
	"strings"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/units"
)

// TireKind tags which measurement a TireDimensions carries.
type TireKind int

const (
	// TireDiameter is the outer diameter of the wheel.
	TireDiameter TireKind = iota
	// TireRadius is half the outer diameter.
	TireRadius
	// TireCircumference is the rolled-out length of one revolution.
	TireCircumference
)

// String returns the config name of the kind.
func (k TireKind) String() string {
	switch k {
	case TireDiameter:
		return "diameter"
	case TireRadius:
		return "radius"
	case TireCircumference:
		return "circumference"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseTireKind parses "diameter", "radius" or "circumference".
func ParseTireKind(s string) (TireKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "diameter", "":
		return TireDiameter, nil
	case "radius":
		return TireRadius, nil
	case "circumference":
		return TireCircumference, nil
	default:
		return 0, errors.NewInvalidValue("tire kind", s, errors.ErrInvalidTire)
	}
}

// TireDimensions describes the wheel by exactly one of its diameter, radius
// or circumference. Build it with Diameter, Radius or Circumference.
type TireDimensions struct {
	kind TireKind
	size units.Length
}

// Diameter describes a wheel by its diameter.
func Diameter(l units.Length) TireDimensions {
	return TireDimensions{kind: TireDiameter, size: l}
}

// Radius describes a wheel by its radius.
func Radius(l units.Length) TireDimensions {
	return TireDimensions{kind: TireRadius, size: l}
}

// Circumference describes a wheel by its circumference.
func Circumference(l units.Length) TireDimensions {
	return TireDimensions{kind: TireCircumference, size: l}
}

// NewTire builds TireDimensions from a parsed kind.
func NewTire(kind TireKind, l units.Length) (TireDimensions, error) {
	switch kind {
	case TireDiameter:
		return Diameter(l), nil
	case TireRadius:
		return Radius(l), nil
	case TireCircumference:
		return Circumference(l), nil
	default:
		return TireDimensions{}, errors.NewInvalidValue("tire kind", kind, errors.ErrInvalidTire)
	}
}

// Kind returns which measurement was given.
func (t TireDimensions) Kind() TireKind {
	return t.kind
}

// Size returns the measurement as given.
func (t TireDimensions) Size() units.Length {
	return t.size
}

// Circumference returns the distance covered by one wheel revolution.
func (t TireDimensions) Circumference() units.Length {
	switch t.kind {
	case TireDiameter:
		return t.size.Scale(math.Pi)
	case TireRadius:
		return t.size.Scale(2 * math.Pi)
	default:
		return t.size
	}
}

// Validate rejects negative or non-finite sizes.
func (t TireDimensions) Validate() error {
	m := t.size.Meters()
	if m < 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		return errors.NewInvalidValue("tire "+t.kind.String(), t.size, errors.ErrInvalidTire)
	}
	return nil
}

func (t TireDimensions) String() string {
	return fmt.Sprintf("%s %s", t.kind, t.size)
}
