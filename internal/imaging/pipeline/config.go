package pipeline

import (
	"fmt"
	"math"

	"github.com/banshee-data/bullseye/internal/config"
	"github.com/banshee-data/bullseye/internal/dataset"
	"github.com/banshee-data/bullseye/internal/imaging/gridder"
	"github.com/banshee-data/bullseye/internal/imaging/kernel"
	"github.com/banshee-data/bullseye/internal/imaging/polarization"
	"github.com/banshee-data/bullseye/internal/timeutil"
	"github.com/banshee-data/bullseye/internal/units"
)

// Config is a fully resolved imaging configuration.
type Config struct {
	Geometry gridder.Geometry
	Pol      polarization.Pol

	Kernel     kernel.Kind
	Support    int
	Oversample int

	// FacetCentres lists facet centres in radians. Empty means image the
	// phase centre.
	FacetCentres []units.SkyCoord

	Workers   int
	Weighting gridder.Weighting
	// PSF also synthesises a peak-normalised point spread function per facet.
	PSF bool

	// Clock times the stages. Nil uses the wall clock.
	Clock timeutil.Clock
}

// FromImagingConfig resolves the enumerated strings of a file/flag config.
func FromImagingConfig(ic *config.ImagingConfig) (Config, error) {
	if err := ic.Validate(); err != nil {
		return Config{}, err
	}
	pol, err := polarization.Parse(ic.GetPol())
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	kind, err := kernel.ParseKind(ic.GetConv())
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	weighting, err := gridder.ParseWeighting(ic.GetWeighting())
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	return Config{
		Geometry: gridder.Geometry{
			NpixL: ic.GetNpixL(),
			NpixM: ic.GetNpixM(),
			CellL: ic.GetCellLArcsec() * units.ArcsecToRad,
			CellM: ic.GetCellMArcsec() * units.ArcsecToRad,
		},
		Pol:          pol,
		Kernel:       kind,
		Support:      ic.GetConvSupport(),
		Oversample:   ic.GetConvOversample(),
		FacetCentres: ic.GetFacetCentres(),
		Workers:      ic.GetWorkers(),
		Weighting:    weighting,
		PSF:          ic.GetPSF(),
	}, nil
}

// Validate reports every configuration problem that can be detected before
// allocating grids. All errors wrap config.ErrInvalidConfig; a polarization
// the dataset cannot produce also wraps polarization.ErrUnavailable.
func (c Config) Validate(ds *dataset.Dataset) error {
	if err := c.Geometry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	if c.Support <= 0 || c.Oversample <= 0 {
		return fmt.Errorf("%w: kernel support %d and oversampling %d must be positive",
			config.ErrInvalidConfig, c.Support, c.Oversample)
	}
	if c.Kernel < kernel.Box || c.Kernel > kernel.KeiserBessel {
		return fmt.Errorf("%w: unknown kernel %v", config.ErrInvalidConfig, c.Kernel)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative, got %d", config.ErrInvalidConfig, c.Workers)
	}

	if ds == nil {
		return fmt.Errorf("%w: no dataset", config.ErrInvalidConfig)
	}
	if err := ds.Validate(); err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	if ds.Samples() == 0 {
		return fmt.Errorf("%w: dataset has no visibilities", config.ErrInvalidConfig)
	}
	if err := polarization.CheckAvailable(c.Pol, ds.Correlations); err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	for i, fc := range c.FacetCentres {
		if err := fc.Validate(); err != nil {
			return fmt.Errorf("%w: facet centre %d: %v", config.ErrInvalidConfig, i, err)
		}
		if sep := units.AngularSeparation(ds.PhaseCentre, fc); sep >= math.Pi/2 {
			return fmt.Errorf("%w: facet centre %d is %.2f° from the phase centre (must be under 90°)",
				config.ErrInvalidConfig, i, sep/units.DegToRad)
		}
	}
	return nil
}
