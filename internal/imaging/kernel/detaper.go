package kernel

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Layout records where the zero spatial frequency sits in an image-domain
// array. The synthesizer refuses to divide by a detaper whose layout does
// not match its own transform convention.
type Layout int

const (
	// Centered places the zero frequency at index npix/2 on each axis.
	Centered Layout = iota
	// Corner places the zero frequency at index 0 on each axis.
	Corner
)

func (l Layout) String() string {
	if l == Corner {
		return "corner"
	}
	return "centered"
}

// Detaper is the image-domain response of a kernel, normalised to 1 at the
// DC pixel. Rows follow the l axis, columns the m axis.
type Detaper struct {
	data   *mat.Dense
	layout Layout
}

// NewDetaper evaluates the Fourier transform of the tabulated kernel
// function at every pixel of an npixL × npixM image. Pixel i on an axis of
// length n sits (i - n/2)/n cycles per grid cell from the image centre.
func NewDetaper(k *Kernel, npixL, npixM int) (*Detaper, error) {
	if k == nil {
		return nil, fmt.Errorf("%w: nil kernel", ErrInvalidKernel)
	}
	if npixL <= 0 || npixM <= 0 {
		return nil, fmt.Errorf("%w: grid dimensions must be positive, got %dx%d", ErrInvalidKernel, npixL, npixM)
	}

	rl := k.imageResponse(npixL)
	rm := k.imageResponse(npixM)

	data := mat.NewDense(npixL, npixM, nil)
	for i, a := range rl {
		for j, b := range rm {
			data.Set(i, j, a*b)
		}
	}
	return &Detaper{data: data, layout: Centered}, nil
}

// imageResponse is the cosine transform of the table by direct quadrature.
// The table is symmetric about zero offset so the sine part vanishes.
func (k *Kernel) imageResponse(n int) []float64 {
	var dc float64
	for _, w := range k.taps {
		dc += w
	}

	out := make([]float64, n)
	for i := range out {
		f := float64(i-n/2) / float64(n)
		var s float64
		for t, w := range k.taps {
			if w == 0 {
				continue
			}
			s += w * math.Cos(2*math.Pi*f*k.offset(t))
		}
		out[i] = s / dc
	}
	return out
}

// FromMatrix wraps precomputed correction values with the layout they were
// derived in. The detaper takes ownership of m.
func FromMatrix(m *mat.Dense, layout Layout) *Detaper {
	return &Detaper{data: m, layout: layout}
}

// Dims returns the detaper shape (npixL, npixM).
func (d *Detaper) Dims() (int, int) { return d.data.Dims() }

// At returns the correction for image pixel (l, m).
func (d *Detaper) At(l, m int) float64 { return d.data.At(l, m) }

// Layout returns the zero-frequency placement the detaper was derived with.
func (d *Detaper) Layout() Layout { return d.layout }

// Matrix returns a read-only view of the detaper values.
func (d *Detaper) Matrix() mat.Matrix { return d.data }

// Build validates the configuration and returns the shared kernel and
// detaper for an npixL × npixM grid.
func Build(kind Kind, support, oversample, npixL, npixM int) (*Kernel, *Detaper, error) {
	if npixL <= 0 || npixM <= 0 {
		return nil, nil, fmt.Errorf("%w: grid dimensions must be positive, got %dx%d", ErrInvalidKernel, npixL, npixM)
	}
	k, err := New(kind, support, oversample)
	if err != nil {
		return nil, nil, err
	}
	d, err := NewDetaper(k, npixL, npixM)
	if err != nil {
		return nil, nil, err
	}
	return k, d, nil
}
