// Package units provides angle conversions, sky coordinates and epoch
// parsing shared by the gridder, the exporter and the command line.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Angle unit constants
const (
	Radian    = "rad"
	Degree    = "deg"
	Arcminute = "arcmin"
	Arcsecond = "arcsec"
)

// ValidAngleUnits contains all valid angle unit values
var ValidAngleUnits = []string{Radian, Degree, Arcminute, Arcsecond}

const (
	// ArcsecToRad converts arcseconds to radians.
	ArcsecToRad = math.Pi / (180 * 3600)
	// DegToRad converts degrees to radians.
	DegToRad = math.Pi / 180
)

// IsValidAngleUnit checks if the given unit is in the list of valid angle units
func IsValidAngleUnit(unit string) bool {
	for _, validUnit := range ValidAngleUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ToRadians converts an angle in the given unit to radians.
// Unknown units are treated as radians.
func ToRadians(value float64, unit string) float64 {
	switch unit {
	case Degree:
		return value * DegToRad
	case Arcminute:
		return value * ArcsecToRad * 60
	case Arcsecond:
		return value * ArcsecToRad
	default:
		return value
	}
}

// FromRadians converts an angle in radians to the target unit.
func FromRadians(rad float64, unit string) float64 {
	switch unit {
	case Degree:
		return rad / DegToRad
	case Arcminute:
		return rad / (ArcsecToRad * 60)
	case Arcsecond:
		return rad / ArcsecToRad
	default:
		return rad
	}
}

// SkyCoord is an equatorial position. Both angles are radians.
type SkyCoord struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// ArcsecCoord builds a SkyCoord from arcsecond RA/DEC values, the unit used
// by the command line facet-centre syntax.
func ArcsecCoord(ra, dec float64) SkyCoord {
	return SkyCoord{RA: ra * ArcsecToRad, Dec: dec * ArcsecToRad}
}

// String formats the position in degrees.
func (c SkyCoord) String() string {
	return fmt.Sprintf("(%.6f°, %.6f°)", c.RA/DegToRad, c.Dec/DegToRad)
}

// Validate reports whether the declination lies on the sphere.
func (c SkyCoord) Validate() error {
	if math.IsNaN(c.RA) || math.IsNaN(c.Dec) || math.IsInf(c.RA, 0) || math.IsInf(c.Dec, 0) {
		return fmt.Errorf("coordinate %v is not finite", c)
	}
	if math.Abs(c.Dec) > math.Pi/2 {
		return fmt.Errorf("declination %.6f° outside [-90°, 90°]", c.Dec/DegToRad)
	}
	return nil
}

// AngularSeparation returns the great-circle distance between two positions
// in radians (Vincenty formula, stable at small and antipodal separations).
func AngularSeparation(a, b SkyCoord) float64 {
	dRA := b.RA - a.RA
	sinDec1, cosDec1 := math.Sincos(a.Dec)
	sinDec2, cosDec2 := math.Sincos(b.Dec)
	sinDRA, cosDRA := math.Sincos(dRA)

	num1 := cosDec2 * sinDRA
	num2 := cosDec1*sinDec2 - sinDec1*cosDec2*cosDRA
	den := sinDec1*sinDec2 + cosDec1*cosDec2*cosDRA
	return math.Atan2(math.Hypot(num1, num2), den)
}

// ParseEpoch converts an epoch label such as "J2000", "B1950" or "2000.0"
// to its numeric year. A single leading letter is stripped.
func ParseEpoch(epoch string) (float64, error) {
	s := strings.TrimSpace(epoch)
	if s == "" {
		return 0, fmt.Errorf("empty epoch")
	}
	if c := s[0]; c < '0' || c > '9' {
		s = s[1:]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid epoch %q: %w", epoch, err)
	}
	return v, nil
}

// DirectionCosines returns the (l, m) direction cosines of pos in the
// tangent plane at centre. l grows towards increasing RA, m towards the
// north celestial pole.
func DirectionCosines(centre, pos SkyCoord) (l, m float64) {
	sinDec, cosDec := math.Sincos(pos.Dec)
	sinDec0, cosDec0 := math.Sincos(centre.Dec)
	sinDRA, cosDRA := math.Sincos(pos.RA - centre.RA)
	l = cosDec * sinDRA
	m = sinDec*cosDec0 - cosDec*sinDec0*cosDRA
	return l, m
}
