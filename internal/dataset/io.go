package dataset

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/banshee-data/bullseye/internal/fsutil"
	"github.com/banshee-data/bullseye/internal/units"
)

// fileDataset is the on-disk JSON layout. Complex visibilities are split
// into parallel real and imaginary arrays.
type fileDataset struct {
	Timestamps   int            `json:"timestamps"`
	Baselines    int            `json:"baselines"`
	Channels     int            `json:"channels"`
	Correlations int            `json:"correlations"`
	VisReal      []float64      `json:"vis_real"`
	VisImag      []float64      `json:"vis_imag"`
	Flags        []bool         `json:"flags"`
	Weights      []float64      `json:"weights"`
	UVW          []UVW          `json:"uvw"`
	RowFlags     []bool         `json:"row_flags"`
	Wavelengths  []float64      `json:"wavelengths"`
	PhaseCentre  units.SkyCoord `json:"phase_centre"`
	Epoch        string         `json:"epoch"`
}

// Decode reads a JSON dataset and validates it.
func Decode(r io.Reader) (*Dataset, error) {
	var f fileDataset
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}
	if len(f.VisReal) != len(f.VisImag) {
		return nil, fmt.Errorf("%w: vis_real has %d entries but vis_imag has %d",
			ErrInvalidDataset, len(f.VisReal), len(f.VisImag))
	}

	d := &Dataset{
		Timestamps:   f.Timestamps,
		Baselines:    f.Baselines,
		Channels:     f.Channels,
		Correlations: f.Correlations,
		Visibilities: make([]complex128, len(f.VisReal)),
		Flags:        f.Flags,
		Weights:      f.Weights,
		UVW:          f.UVW,
		RowFlags:     f.RowFlags,
		Wavelengths:  f.Wavelengths,
		PhaseCentre:  f.PhaseCentre,
		Epoch:        f.Epoch,
	}
	for i := range f.VisReal {
		d.Visibilities[i] = complex(f.VisReal[i], f.VisImag[i])
	}
	// Omitted flag and weight arrays mean "nothing flagged" and unit weights.
	if d.Flags == nil {
		d.Flags = make([]bool, d.Samples())
	}
	if d.RowFlags == nil {
		d.RowFlags = make([]bool, d.Rows())
	}
	if d.Weights == nil {
		d.Weights = make([]float64, d.Samples())
		for i := range d.Weights {
			d.Weights[i] = 1
		}
	}
	if d.Epoch == "" {
		d.Epoch = "J2000"
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Encode writes d as indented JSON.
func Encode(w io.Writer, d *Dataset) error {
	f := fileDataset{
		Timestamps:   d.Timestamps,
		Baselines:    d.Baselines,
		Channels:     d.Channels,
		Correlations: d.Correlations,
		VisReal:      make([]float64, len(d.Visibilities)),
		VisImag:      make([]float64, len(d.Visibilities)),
		Flags:        d.Flags,
		Weights:      d.Weights,
		UVW:          d.UVW,
		RowFlags:     d.RowFlags,
		Wavelengths:  d.Wavelengths,
		PhaseCentre:  d.PhaseCentre,
		Epoch:        d.Epoch,
	}
	for i, v := range d.Visibilities {
		f.VisReal[i] = real(v)
		f.VisImag[i] = imag(v)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&f); err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	return nil
}

// Load reads a dataset file. Paths ending in .gz are gunzipped first.
func Load(fs fsutil.FileSystem, path string) (*Dataset, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}
	var r io.Reader = bytes.NewReader(data)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader for %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	d, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Save writes a dataset file, gzipped when path ends in .gz.
func Save(fs fsutil.FileSystem, path string, d *Dataset) (err error) {
	w, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	if !strings.HasSuffix(path, ".gz") {
		return Encode(w, d)
	}
	gz := gzip.NewWriter(w)
	if err := Encode(gz, d); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}
