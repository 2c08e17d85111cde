// Package kernel builds the oversampled convolution kernel used to grid
// visibilities and the matching image-domain amplitude correction
// (the detaper).
//
// The kernel is separable: one 1-D table is applied along both grid axes.
// A kernel with half-support S touches (2S+1) cells per axis. The table is
// sampled every 1/O cell over [-(S+1), +(S+1)] so that the nearest-phase
// lookup for a fractional offset in [-½, ½] never leaves the table.
//
// Both values are immutable once built and are shared read-only by every
// facet and correlation plane.
package kernel

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// ErrInvalidKernel is returned for unknown kernel kinds and non-positive
// kernel or grid parameters.
var ErrInvalidKernel = errors.New("invalid convolution kernel")

// Kind selects the closed-form kernel function.
type Kind int

const (
	// Box is a one-cell top hat, equivalent to nearest-neighbour gridding.
	Box Kind = iota
	// Gaussian is a truncated Gaussian taper.
	Gaussian
	// KeiserBessel is the Kaiser-Bessel window.
	KeiserBessel
)

func (k Kind) String() string {
	switch k {
	case Box:
		return "box"
	case Gaussian:
		return "gaussian"
	case KeiserBessel:
		return "keiser_bessel"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind resolves a kernel name once at configuration time.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "box", "nn", "nearest":
		return Box, nil
	case "gaussian", "gausian":
		return Gaussian, nil
	case "keiser_bessel", "keiser bessel", "kaiser_bessel", "kaiser bessel":
		return KeiserBessel, nil
	}
	return 0, fmt.Errorf("%w: unknown kind %q (want box, gaussian or keiser_bessel)", ErrInvalidKernel, s)
}

// Kernel is an oversampled, unit-area 1-D convolution table.
type Kernel struct {
	kind       Kind
	support    int
	oversample int
	taps       []float64
}

// New tabulates the kernel function. support is the half-support S,
// oversample the number of sub-cell phases O.
func New(kind Kind, support, oversample int) (*Kernel, error) {
	if kind < Box || kind > KeiserBessel {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidKernel, int(kind))
	}
	if support <= 0 {
		return nil, fmt.Errorf("%w: support must be positive, got %d", ErrInvalidKernel, support)
	}
	if oversample <= 0 {
		return nil, fmt.Errorf("%w: oversampling factor must be positive, got %d", ErrInvalidKernel, oversample)
	}

	k := &Kernel{kind: kind, support: support, oversample: oversample}
	n := (2*support+2)*oversample + 1
	k.taps = make([]float64, n)
	for i := range k.taps {
		k.taps[i] = k.eval(k.offset(i))
	}

	// Scale so the taps hit by a sample sitting exactly on a cell sum to 1.
	zero := make([]float64, 0, 2*support+1)
	for off := -support; off <= support; off++ {
		zero = append(zero, k.Weight(off, 0))
	}
	sum := floats.Sum(zero)
	if sum <= 0 {
		return nil, fmt.Errorf("%w: %s kernel has no weight at zero phase", ErrInvalidKernel, kind)
	}
	floats.Scale(1/sum, k.taps)
	return k, nil
}

// Kind returns the kernel function.
func (k *Kernel) Kind() Kind { return k.kind }

// Support returns the half-support S.
func (k *Kernel) Support() int { return k.support }

// Width returns the footprint in cells along one axis, 2S+1.
func (k *Kernel) Width() int { return 2*k.support + 1 }

// Oversample returns the number of sub-cell phases.
func (k *Kernel) Oversample() int { return k.oversample }

// Taps returns a copy of the oversampled table.
func (k *Kernel) Taps() []float64 {
	out := make([]float64, len(k.taps))
	copy(out, k.taps)
	return out
}

// Phase returns the oversampled phase nearest to frac, where frac is the
// signed distance in cells from the nearest grid cell (|frac| <= ½).
func (k *Kernel) Phase(frac float64) int {
	return int(math.Round(frac * float64(k.oversample)))
}

// Weight returns the tabulated value at cell offset off ∈ [-S, S] from the
// nearest cell for the given phase, i.e. K(off - phase/O).
func (k *Kernel) Weight(off, phase int) float64 {
	return k.taps[(off+k.support+1)*k.oversample-phase]
}

// offset returns the kernel argument, in cells, of table index i.
func (k *Kernel) offset(i int) float64 {
	return float64(i)/float64(k.oversample) - float64(k.support+1)
}

func (k *Kernel) eval(x float64) float64 {
	w := float64(k.Width())
	switch k.kind {
	case Box:
		if x >= -0.5 && x < 0.5 {
			return 1
		}
		return 0
	case Gaussian:
		if math.Abs(x) > w/2 {
			return 0
		}
		sigma := 0.0349*w + 0.37175
		r := x / sigma
		return math.Exp(-0.5 * r * r)
	case KeiserBessel:
		if math.Abs(x) > w/2 {
			return 0
		}
		beta := 1.6789*w - 0.9644
		r := 2 * x / w
		return besselI0(beta*math.Sqrt(1-r*r)) / besselI0(beta)
	}
	return 0
}

// besselI0 evaluates the modified Bessel function of the first kind,
// order zero, by its power series.
func besselI0(x float64) float64 {
	sum, term := 1.0, 1.0
	q := x * x / 4
	for k := 1; k < 500; k++ {
		term *= q / float64(k*k)
		sum += term
		if term < sum*1e-17 {
			break
		}
	}
	return sum
}
