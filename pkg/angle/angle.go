package angle

import "math"

// PlusMinusPi is an angle in radians, stored as a value in range (-π, π].
// All operations clamp their output into range.
type PlusMinusPi struct {
	float64
}

func (a PlusMinusPi) Add(b PlusMinusPi) PlusMinusPi {
	return FromFloat(a.float64 + b.float64)
}

func (a PlusMinusPi) Sub(b PlusMinusPi) PlusMinusPi {
	return FromFloat(a.float64 - b.float64)
}

func (a PlusMinusPi) AddFloat(f float64) PlusMinusPi {
	return FromFloat(a.float64 + f)
}

// Float returns the angle in radians, range (-π, π].
func (a PlusMinusPi) Float() float64 {
	return a.float64
}

// Degrees is for log output only; nothing in the control path works in degrees.
func (a PlusMinusPi) Degrees() float64 {
	return a.float64 * 180 / math.Pi
}

// FromFloat converts a float of any magnitude to a PlusMinusPi by calculating
// f mod 2π and shifting into range.
func FromFloat(f float64) PlusMinusPi {
	d := math.Mod(f, 2*math.Pi)
	if d <= -math.Pi {
		d += 2 * math.Pi
	} else if d > math.Pi {
		d -= 2 * math.Pi
	}
	return PlusMinusPi{d}
}

// Normalize maps f into (-π, π].
func Normalize(f float64) float64 {
	return FromFloat(f).float64
}

// Diff returns the signed shortest rotation that takes from to to.
func Diff(to, from float64) float64 {
	return Normalize(to - from)
}

// Lerp interpolates from a to b along the shortest arc; frac 0 gives a, 1 gives b.
func Lerp(a, b, frac float64) float64 {
	return Normalize(a + Diff(b, a)*frac)
}
