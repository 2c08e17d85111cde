// Package export writes synthesised images to disk as FITS, PNG heat maps
// or self-contained HTML previews.
package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/bullseye/internal/fsutil"
	"github.com/banshee-data/bullseye/internal/imaging/pipeline"
	"github.com/banshee-data/bullseye/internal/imaging/synth"
	"github.com/banshee-data/bullseye/internal/monitoring"
	"github.com/banshee-data/bullseye/internal/units"
)

// ErrUnknownFormat is returned for an output format with no writer.
var ErrUnknownFormat = errors.New("unknown output format")

// Format selects the image file type.
type Format int

const (
	FITS Format = iota
	PNG
	HTML
)

func (f Format) String() string {
	switch f {
	case FITS:
		return "fits"
	case PNG:
		return "png"
	case HTML:
		return "html"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string { return f.String() }

// ParseFormat resolves an output format name. "fit" is accepted for FITS.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fits", "fit":
		return FITS, nil
	case "png":
		return PNG, nil
	case "html", "htm":
		return HTML, nil
	}
	return 0, fmt.Errorf("%w %q (want fits, png or html)", ErrUnknownFormat, s)
}

// Metadata describes the sky geometry of an image.
type Metadata struct {
	NpixL, NpixM int
	// CellL and CellM are pixel sizes in radians.
	CellL, CellM float64
	// Centre is the sky position of pixel (npix_l/2, npix_m/2).
	Centre units.SkyCoord
	Pol    string
	Epoch  string
	// Label names the image, e.g. "image" or "psf".
	Label string
}

// Filename returns the output path of one facet image: prefix.ext for a
// single facet and prefix_<n>.ext otherwise. PSF images carry a _psf tag.
func Filename(prefix string, facet, facets int, psf bool, f Format) string {
	name := prefix
	if psf {
		name += "_psf"
	}
	if facets > 1 {
		name += fmt.Sprintf("_%d", facet)
	}
	return name + "." + f.Ext()
}

// Exporter writes images through a filesystem.
type Exporter struct {
	FS fsutil.FileSystem
}

// New returns an Exporter on the real filesystem.
func New() *Exporter { return &Exporter{FS: fsutil.OSFileSystem{}} }

// Write encodes im to path.
func (e *Exporter) Write(path string, im *synth.Image, meta Metadata, f Format) (err error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := e.FS.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	w, err := e.FS.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	switch f {
	case FITS:
		err = WriteFITS(w, im, meta)
	case PNG:
		err = WritePNG(w, im, meta)
	case HTML:
		err = WriteHTML(w, im, meta)
	default:
		err = fmt.Errorf("%w: %v", ErrUnknownFormat, f)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// WriteResult writes every facet image, and PSF when present, of res. base
// supplies the shared metadata; each facet's centre is filled in. It returns
// the written paths in facet order.
func (e *Exporter) WriteResult(prefix string, res *pipeline.Result, base Metadata, f Format) ([]string, error) {
	var paths []string
	n := len(res.Facets)
	for i, fi := range res.Facets {
		meta := base
		meta.Centre = fi.Facet.Centre
		meta.Label = "image"

		path := Filename(prefix, i, n, false, f)
		if err := e.Write(path, fi.Image, meta, f); err != nil {
			return paths, err
		}
		paths = append(paths, path)
		monitoring.Logf("wrote %s (facet %d, peak %.4g, rms %.4g)", path, i, fi.ImageStats.Max, fi.ImageStats.StdDev)

		if fi.PSF != nil {
			meta.Label = "psf"
			path := Filename(prefix, i, n, true, f)
			if err := e.Write(path, fi.PSF, meta, f); err != nil {
				return paths, err
			}
			paths = append(paths, path)
			monitoring.Logf("wrote %s (facet %d PSF)", path, i)
		}
	}
	return paths, nil
}
