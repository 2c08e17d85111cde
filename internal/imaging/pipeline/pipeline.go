// Package pipeline runs the imaging stages in order: build the shared
// kernel and detaper, grid every facet, combine correlations into the
// requested polarization, and synthesise one image per facet.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/bullseye/internal/dataset"
	"github.com/banshee-data/bullseye/internal/imaging/gridder"
	"github.com/banshee-data/bullseye/internal/imaging/kernel"
	"github.com/banshee-data/bullseye/internal/imaging/polarization"
	"github.com/banshee-data/bullseye/internal/imaging/synth"
	"github.com/banshee-data/bullseye/internal/monitoring"
	"github.com/banshee-data/bullseye/internal/timeutil"
)

// ErrDegenerateImage is returned alongside a result whose images carry no
// data because no sample deposited any weight on the grid: every sample was
// flagged, fell outside the grid, or carried zero weight.
var ErrDegenerateImage = errors.New("degenerate image: no visibility weight reached the grid")

// FacetImage is the output for one facet.
type FacetImage struct {
	Facet gridder.Facet
	Image *synth.Image
	// PSF is nil unless Config.PSF was set.
	PSF        *synth.Image
	Grid       gridder.Stats
	ImageStats synth.Stats
}

// Stats summarise a run.
type Stats struct {
	Facets        int
	Gridded       int64
	Flagged       int64
	Clipped       int64
	Outside       int64
	Weight        float64
	ClampedPixels int

	KernelDuration time.Duration
	GridDuration   time.Duration
	SynthDuration  time.Duration
}

// Result holds every facet image in facet order.
type Result struct {
	Facets     []FacetImage
	Stats      Stats
	Degenerate bool
}

// Run images ds. Configuration errors are returned before anything is
// allocated. A degenerate run returns its all-zero images together with an
// error wrapping ErrDegenerateImage.
func Run(ctx context.Context, ds *dataset.Dataset, cfg Config) (*Result, error) {
	if err := cfg.Validate(ds); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	var stats Stats
	start := clock.Now()
	k, detaper, err := kernel.Build(cfg.Kernel, cfg.Support, cfg.Oversample, cfg.Geometry.NpixL, cfg.Geometry.NpixM)
	if err != nil {
		return nil, err
	}
	stats.KernelDuration = clock.Since(start)
	monitoring.Stagef("kernel", "%s support %d oversampling %d, %dx%d detaper built in %v",
		k.Kind(), k.Support(), k.Oversample(), cfg.Geometry.NpixL, cfg.Geometry.NpixM, stats.KernelDuration)

	g, err := gridder.New(cfg.Geometry, k, polarization.Mode(cfg.Pol), gridder.Options{
		Weighting:        cfg.Weighting,
		Workers:          cfg.Workers,
		SamplingFunction: cfg.PSF,
	})
	if err != nil {
		return nil, err
	}

	facets := gridder.Facets(ds.PhaseCentre, cfg.FacetCentres)
	start = clock.Now()
	grids, err := g.Grid(ctx, ds, facets)
	if err != nil {
		return nil, err
	}
	stats.GridDuration = clock.Since(start)

	start = clock.Now()
	images, err := synthesizeAll(ctx, cfg, grids, detaper)
	if err != nil {
		return nil, err
	}
	stats.SynthDuration = clock.Since(start)

	res := &Result{Facets: images}
	stats.Facets = len(images)
	for _, fi := range images {
		stats.ClampedPixels += fi.Image.ClampedPixels
	}
	// Every facet sees the same uv coverage, so facet 0 speaks for all.
	if len(images) > 0 {
		st := images[0].Grid
		stats.Gridded, stats.Flagged, stats.Clipped, stats.Outside = st.Gridded, st.Flagged, st.Clipped, st.Outside
		stats.Weight = st.Weight
	}
	res.Stats = stats
	if stats.ClampedPixels > 0 {
		monitoring.Warnf("%d pixel(s) zeroed where the detaper fell below %g", stats.ClampedPixels, synth.DetaperFloor)
	}
	monitoring.Stagef("pipeline", "%d facet(s) of %v: %d gridded, %d flagged, %d clipped, %d outside; grid %v, synth %v",
		stats.Facets, cfg.Pol, stats.Gridded, stats.Flagged, stats.Clipped, stats.Outside,
		stats.GridDuration, stats.SynthDuration)

	// Counts alone miss zero-weight samples, so decide on deposited weight.
	if stats.Weight == 0 {
		res.Degenerate = true
		monitoring.Warnf("no visibility weight reached the grid (%d gridded, %d flagged, %d outside the grid)",
			stats.Gridded, stats.Flagged, stats.Outside)
		return res, fmt.Errorf("%w (%d gridded, %d flagged, %d outside the grid)",
			ErrDegenerateImage, stats.Gridded, stats.Flagged, stats.Outside)
	}
	return res, nil
}

// synthesizeAll combines and transforms every facet concurrently. The
// detaper is shared read-only.
func synthesizeAll(ctx context.Context, cfg Config, grids []gridder.FacetGrids, detaper *kernel.Detaper) ([]FacetImage, error) {
	out := make([]FacetImage, len(grids))
	eg, gctx := errgroup.WithContext(ctx)
	if cfg.Workers > 0 {
		eg.SetLimit(cfg.Workers)
	}
	for i, fg := range grids {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			plane, err := polarization.Combine(cfg.Pol, fg.Planes)
			if err != nil {
				return err
			}
			im, err := synth.Synthesize(plane, detaper)
			if err != nil {
				return fmt.Errorf("facet %d: %w", i, err)
			}
			fi := FacetImage{Facet: fg.Facet, Image: im, Grid: fg.Stats, ImageStats: im.Stats()}

			if fg.Sampling != nil {
				psf, err := synth.Synthesize(fg.Sampling, detaper)
				if err != nil {
					return fmt.Errorf("facet %d PSF: %w", i, err)
				}
				psf.Normalize()
				fi.PSF = psf
			}
			out[i] = fi
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
