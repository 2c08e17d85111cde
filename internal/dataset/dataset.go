// Package dataset defines the visibility data handed to the imager by the
// loading collaborator: flattened visibility, flag and weight arrays
// indexed by (time, baseline, channel, correlation), one UVW coordinate per
// (time, baseline) row, per-channel wavelengths, the phase centre and the
// epoch.
package dataset

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/bullseye/internal/units"
)

// ErrInvalidDataset is returned when the arrays disagree with the declared
// dimensions or hold values the gridder cannot use.
var ErrInvalidDataset = errors.New("invalid dataset")

// UVW is a baseline coordinate in metres.
type UVW struct {
	U float64 `json:"u"`
	V float64 `json:"v"`
	W float64 `json:"w"`
}

// Dataset holds flattened visibility arrays. Sample arrays (Visibilities,
// Flags, Weights) are row-major over [time][baseline][channel][correlation];
// row arrays (UVW, RowFlags) over [time][baseline].
type Dataset struct {
	Timestamps   int
	Baselines    int
	Channels     int
	Correlations int

	Visibilities []complex128
	Flags        []bool
	Weights      []float64

	UVW      []UVW
	RowFlags []bool

	// Wavelengths holds one wavelength in metres per channel.
	Wavelengths []float64

	PhaseCentre units.SkyCoord
	Epoch       string
}

// Rows returns the number of (time, baseline) rows.
func (d *Dataset) Rows() int { return d.Timestamps * d.Baselines }

// Samples returns the number of (time, baseline, channel, correlation) samples.
func (d *Dataset) Samples() int { return d.Rows() * d.Channels * d.Correlations }

// RowIndex returns the flat row index of (t, b).
func (d *Dataset) RowIndex(t, b int) int { return t*d.Baselines + b }

// Index returns the flat sample index of (t, b, c, p).
func (d *Dataset) Index(t, b, c, p int) int {
	return d.SampleIndex(d.RowIndex(t, b), c, p)
}

// SampleIndex returns the flat sample index of channel c, correlation p
// within flat row.
func (d *Dataset) SampleIndex(row, c, p int) int {
	return (row*d.Channels+c)*d.Correlations + p
}

// Validate checks that every array matches the declared dimensions and that
// wavelengths are positive and weights non-negative.
func (d *Dataset) Validate() error {
	if d.Timestamps < 0 || d.Baselines < 0 || d.Channels < 0 {
		return fmt.Errorf("%w: negative dimension (%d timestamps, %d baselines, %d channels)",
			ErrInvalidDataset, d.Timestamps, d.Baselines, d.Channels)
	}
	if d.Correlations != 1 && d.Correlations != 2 && d.Correlations != 4 {
		return fmt.Errorf("%w: correlation count must be 1, 2 or 4, got %d", ErrInvalidDataset, d.Correlations)
	}

	rows, samples := d.Rows(), d.Samples()
	checks := []struct {
		name      string
		got, want int
	}{
		{"visibilities", len(d.Visibilities), samples},
		{"flags", len(d.Flags), samples},
		{"weights", len(d.Weights), samples},
		{"uvw", len(d.UVW), rows},
		{"row flags", len(d.RowFlags), rows},
		{"wavelengths", len(d.Wavelengths), d.Channels},
	}
	for _, c := range checks {
		if c.got != c.want {
			return fmt.Errorf("%w: %s has %d entries, want %d", ErrInvalidDataset, c.name, c.got, c.want)
		}
	}

	for c, lambda := range d.Wavelengths {
		if !(lambda > 0) || math.IsInf(lambda, 0) {
			return fmt.Errorf("%w: channel %d wavelength %g must be positive", ErrInvalidDataset, c, lambda)
		}
	}
	for i, w := range d.Weights {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("%w: sample %d weight %g must be non-negative", ErrInvalidDataset, i, w)
		}
	}
	if err := d.PhaseCentre.Validate(); err != nil {
		return fmt.Errorf("%w: phase centre: %v", ErrInvalidDataset, err)
	}
	return nil
}

// New allocates an unflagged dataset with unit weights and zero visibilities.
func New(timestamps, baselines, channels, correlations int) *Dataset {
	rows := timestamps * baselines
	samples := rows * channels * correlations
	d := &Dataset{
		Timestamps:   timestamps,
		Baselines:    baselines,
		Channels:     channels,
		Correlations: correlations,
		Visibilities: make([]complex128, samples),
		Flags:        make([]bool, samples),
		Weights:      make([]float64, samples),
		UVW:          make([]UVW, rows),
		RowFlags:     make([]bool, rows),
		Wavelengths:  make([]float64, channels),
		Epoch:        "J2000",
	}
	for i := range d.Weights {
		d.Weights[i] = 1
	}
	for i := range d.Wavelengths {
		d.Wavelengths[i] = 1
	}
	return d
}

// Clone returns a deep copy.
func (d *Dataset) Clone() *Dataset {
	c := *d
	c.Visibilities = append([]complex128(nil), d.Visibilities...)
	c.Flags = append([]bool(nil), d.Flags...)
	c.Weights = append([]float64(nil), d.Weights...)
	c.UVW = append([]UVW(nil), d.UVW...)
	c.RowFlags = append([]bool(nil), d.RowFlags...)
	c.Wavelengths = append([]float64(nil), d.Wavelengths...)
	return &c
}

// FlaggedFraction returns the fraction of samples excluded by either flag.
func (d *Dataset) FlaggedFraction() float64 {
	n := d.Samples()
	if n == 0 {
		return 0
	}
	flagged := 0
	per := d.Channels * d.Correlations
	for row, rf := range d.RowFlags {
		for i := row * per; i < (row+1)*per; i++ {
			if rf || d.Flags[i] {
				flagged++
			}
		}
	}
	return float64(flagged) / float64(n)
}
