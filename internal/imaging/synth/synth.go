// Package synth turns a uv grid into a real-valued sky image: an inverse
// 2-D Fourier transform followed by division by the kernel detaper.
package synth

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/bullseye/internal/imaging/gridder"
	"github.com/banshee-data/bullseye/internal/imaging/kernel"
)

// ErrLayoutMismatch is returned when the detaper does not share the grid's
// shape or zero-frequency placement.
var ErrLayoutMismatch = errors.New("detaper layout does not match grid")

// DetaperFloor is the smallest detaper magnitude divided by. Pixels below
// it are set to zero.
const DetaperFloor = 1e-6

// Image is a real-valued sky image. Rows follow l, columns m; the phase
// centre sits at (npix_l/2, npix_m/2).
type Image struct {
	data *mat.Dense
	// ClampedPixels counts pixels zeroed because the detaper fell below
	// DetaperFloor.
	ClampedPixels int
}

// NewImage allocates a zero image.
func NewImage(npixL, npixM int) *Image {
	return &Image{data: mat.NewDense(npixL, npixM, nil)}
}

// Dims returns (npix_l, npix_m).
func (im *Image) Dims() (int, int) { return im.data.Dims() }

// At returns pixel (l, m).
func (im *Image) At(l, m int) float64 { return im.data.At(l, m) }

// Matrix exposes the pixels as a gonum matrix sharing storage.
func (im *Image) Matrix() *mat.Dense { return im.data }

// Data returns the row-major pixel slice.
func (im *Image) Data() []float64 { return im.data.RawMatrix().Data }

// Stats summarises pixel values.
type Stats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Stats returns min, max, mean and standard deviation over every pixel.
func (im *Image) Stats() Stats {
	d := im.Data()
	if len(d) == 0 {
		return Stats{}
	}
	mean, std := stat.MeanStdDev(d, nil)
	if len(d) == 1 {
		std = 0
	}
	return Stats{Min: floats.Min(d), Max: floats.Max(d), Mean: mean, StdDev: std}
}

// Peak returns the largest pixel value and its position.
func (im *Image) Peak() (v float64, l, m int) {
	d := im.Data()
	i := floats.MaxIdx(d)
	_, cols := im.Dims()
	return d[i], i / cols, i % cols
}

// IsZero reports whether every pixel is exactly zero.
func (im *Image) IsZero() bool {
	for _, v := range im.Data() {
		if v != 0 {
			return false
		}
	}
	return true
}

// Normalize scales the image so its peak is 1 and returns the old peak.
// An image with no positive peak is left alone.
func (im *Image) Normalize() float64 {
	peak, _, _ := im.Peak()
	if peak > 0 {
		floats.Scale(1/peak, im.Data())
	}
	return peak
}

// Synthesize transforms grid to the image domain. The grid is not
// modified. Zero frequency at (npix_l/2, npix_m/2) is moved to the corner,
// inverse-transformed along rows then columns, scaled by 1/(npix_l·npix_m),
// moved back to the centre and divided by the detaper.
func Synthesize(grid *gridder.Grid, d *kernel.Detaper) (*Image, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil detaper", ErrLayoutMismatch)
	}
	rows, cols := grid.Dims()
	if dr, dc := d.Dims(); dr != rows || dc != cols {
		return nil, fmt.Errorf("%w: detaper is %dx%d, grid is %dx%d", ErrLayoutMismatch, dr, dc, rows, cols)
	}
	if d.Layout() != kernel.Centered {
		return nil, fmt.Errorf("%w: detaper layout %v, synthesis expects %v", ErrLayoutMismatch, d.Layout(), kernel.Centered)
	}

	work := make([]complex128, rows*cols)
	shift(work, grid.Data(), rows, cols, rows-rows/2, cols-cols/2)

	rowFFT := fourier.NewCmplxFFT(cols)
	for i := 0; i < rows; i++ {
		r := work[i*cols : (i+1)*cols]
		rowFFT.Sequence(r, r)
	}

	colFFT := fourier.NewCmplxFFT(rows)
	col := make([]complex128, rows)
	for j := 0; j < cols; j++ {
		for i := range col {
			col[i] = work[i*cols+j]
		}
		colFFT.Sequence(col, col)
		for i, v := range col {
			work[i*cols+j] = v
		}
	}

	centred := make([]complex128, rows*cols)
	shift(centred, work, rows, cols, rows/2, cols/2)

	scale := 1 / float64(rows*cols)
	im := NewImage(rows, cols)
	px := im.Data()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			n := i*cols + j
			taper := d.At(i, j)
			if math.Abs(taper) < DetaperFloor {
				im.ClampedPixels++
				continue
			}
			px[n] = real(centred[n]) * scale / taper
		}
	}
	return im, nil
}

// shift circularly moves src by (dr, dc) into dst: dst[(i+dr)%rows][(j+dc)%cols] = src[i][j].
// (n/2, n/2) is fftshift; (n-n/2, n-n/2) is its inverse.
func shift(dst, src []complex128, rows, cols, dr, dc int) {
	for i := 0; i < rows; i++ {
		ti := (i + dr) % rows
		for j := 0; j < cols; j++ {
			dst[ti*cols+(j+dc)%cols] = src[i*cols+j]
		}
	}
}
