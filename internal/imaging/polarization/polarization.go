// Package polarization selects the correlations to grid for a requested
// polarization and folds the four correlation planes into a Stokes plane.
package polarization

import (
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/bullseye/internal/imaging/gridder"
)

// ErrUnavailable is returned when the requested polarization needs
// correlations the dataset does not carry.
var ErrUnavailable = errors.New("polarization unavailable")

// Pol is a requested image polarization.
type Pol int

const (
	XX Pol = iota
	XY
	YX
	YY
	I
	Q
	U
	V
)

var names = [...]string{"XX", "XY", "YX", "YY", "I", "Q", "U", "V"}

func (p Pol) String() string {
	if p < XX || p > V {
		return fmt.Sprintf("Pol(%d)", int(p))
	}
	return names[p]
}

// Parse resolves a polarization name, case-insensitively.
func Parse(s string) (Pol, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range names {
		if n == up {
			return Pol(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown polarization %q", ErrUnavailable, s)
}

// IsStokes reports whether p is one of I, Q, U, V.
func (p Pol) IsStokes() bool { return p >= I && p <= V }

// CorrelationIndex returns the dataset correlation index of a correlation
// polarization, or -1 for Stokes parameters.
func (p Pol) CorrelationIndex() int {
	if p.IsStokes() || p < XX {
		return -1
	}
	return int(p)
}

// CheckAvailable reports whether a dataset with the given number of
// correlations can produce p.
func CheckAvailable(p Pol, correlations int) error {
	if p < XX || p > V {
		return fmt.Errorf("%w: %v", ErrUnavailable, p)
	}
	if p.IsStokes() {
		if correlations != 4 {
			return fmt.Errorf("%w: Stokes %v needs 4 correlations, dataset has %d", ErrUnavailable, p, correlations)
		}
		return nil
	}
	if idx := p.CorrelationIndex(); idx >= correlations {
		return fmt.Errorf("%w: %v is correlation %d but dataset has %d", ErrUnavailable, p, idx, correlations)
	}
	return nil
}

// Mode returns the gridding mode that produces the planes p is built from.
func Mode(p Pol) gridder.Mode {
	if p.IsStokes() {
		return gridder.AllFour()
	}
	return gridder.Single(p.CorrelationIndex())
}

// Combine reduces gridded planes to the single plane for p. A single plane
// is returned unchanged. Four planes are read as XX, XY, YX, YY and
// combined cell-wise into a new grid:
//
//	I = XX + YY
//	Q = (XX - YY) / i
//	U = XY - YX
//	V = XY - YX
//
// U and V are the same combination.
func Combine(p Pol, planes []*gridder.Grid) (*gridder.Grid, error) {
	switch len(planes) {
	case 1:
		if p.IsStokes() {
			return nil, fmt.Errorf("%w: Stokes %v needs four correlation planes", ErrUnavailable, p)
		}
		return planes[0], nil
	case 4:
	default:
		return nil, fmt.Errorf("%w: expected 1 or 4 planes, got %d", ErrUnavailable, len(planes))
	}
	if !p.IsStokes() {
		return planes[p.CorrelationIndex()], nil
	}

	rows, cols := planes[0].Dims()
	for _, pl := range planes[1:] {
		if r, c := pl.Dims(); r != rows || c != cols {
			return nil, fmt.Errorf("%w: plane shapes differ (%dx%d vs %dx%d)", ErrUnavailable, rows, cols, r, c)
		}
	}

	xx, xy, yx, yy := planes[0].Data(), planes[1].Data(), planes[2].Data(), planes[3].Data()
	out := gridder.NewGrid(rows, cols)
	dst := out.Data()
	for n := range dst {
		switch p {
		case I:
			dst[n] = xx[n] + yy[n]
		case Q:
			dst[n] = (xx[n] - yy[n]) / 1i
		case U, V:
			dst[n] = xy[n] - yx[n]
		}
	}
	return out, nil
}
