package gridder

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidMode is returned when a gridding mode asks for correlations the
// dataset does not carry.
var ErrInvalidMode = errors.New("invalid gridding mode")

// ErrInvalidGeometry is returned for non-positive grid dimensions or cell sizes.
var ErrInvalidGeometry = errors.New("invalid grid geometry")

// Geometry describes the uv grid and its image plane. Cell sizes are
// image-plane angular sizes in radians.
type Geometry struct {
	NpixL int
	NpixM int
	CellL float64
	CellM float64
}

// Validate checks that every dimension is positive and finite.
func (g Geometry) Validate() error {
	if g.NpixL <= 0 || g.NpixM <= 0 {
		return fmt.Errorf("%w: image must be at least 1x1, got %dx%d", ErrInvalidGeometry, g.NpixL, g.NpixM)
	}
	if !(g.CellL > 0) || !(g.CellM > 0) || math.IsInf(g.CellL, 0) || math.IsInf(g.CellM, 0) {
		return fmt.Errorf("%w: cell sizes must be positive, got %g x %g rad", ErrInvalidGeometry, g.CellL, g.CellM)
	}
	return nil
}

// UVScale returns the factors mapping u and v in wavelengths to grid cells.
// The v factor is negated so that north ends up at increasing m pixel.
func (g Geometry) UVScale() (su, sv float64) {
	return float64(g.NpixL) * g.CellL, -float64(g.NpixM) * g.CellM
}

// Centre returns the grid cell holding the zero spatial frequency.
func (g Geometry) Centre() (int, int) { return g.NpixL / 2, g.NpixM / 2 }

// Mode selects which correlations are gridded, one plane each.
type Mode struct {
	all         bool
	correlation int
}

// Single grids one correlation index into one plane.
func Single(correlation int) Mode { return Mode{correlation: correlation} }

// AllFour grids XX, XY, YX and YY into four planes.
func AllFour() Mode { return Mode{all: true} }

// Planes returns the number of grid planes the mode produces.
func (m Mode) Planes() int {
	if m.all {
		return 4
	}
	return 1
}

// Correlations returns the dataset correlation index feeding each plane.
func (m Mode) Correlations() []int {
	if m.all {
		return []int{0, 1, 2, 3}
	}
	return []int{m.correlation}
}

// IsAllFour reports whether the mode grids all four correlations.
func (m Mode) IsAllFour() bool { return m.all }

func (m Mode) String() string {
	if m.all {
		return "all-four"
	}
	return fmt.Sprintf("single(%d)", m.correlation)
}

// Validate checks the mode against the dataset's correlation count.
func (m Mode) Validate(correlations int) error {
	if m.all {
		if correlations != 4 {
			return fmt.Errorf("%w: all-four mode needs 4 correlations, dataset has %d", ErrInvalidMode, correlations)
		}
		return nil
	}
	if m.correlation < 0 || m.correlation >= correlations {
		return fmt.Errorf("%w: correlation %d out of range for %d correlations", ErrInvalidMode, m.correlation, correlations)
	}
	return nil
}
