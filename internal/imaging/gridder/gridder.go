// Package gridder convolves visibility samples onto regular complex uv
// planes, one set of planes per facet.
//
// The grid is split into contiguous bands of u rows, one per worker. Every
// worker walks all samples in dataset order and writes only the cells of
// its own band, so each cell accumulates its contributions in sample order
// whatever the worker count.
package gridder

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/bullseye/internal/dataset"
	"github.com/banshee-data/bullseye/internal/imaging/kernel"
	"github.com/banshee-data/bullseye/internal/monitoring"
)

// Weighting selects the per-sample weight applied while gridding.
type Weighting int

const (
	// Natural multiplies each sample by its dataset weight.
	Natural Weighting = iota
	// Unweighted grids every unflagged sample with weight 1.
	Unweighted
)

func (w Weighting) String() string {
	if w == Unweighted {
		return "unweighted"
	}
	return "natural"
}

// ParseWeighting resolves "natural" or "unweighted".
func ParseWeighting(s string) (Weighting, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "natural", "":
		return Natural, nil
	case "unweighted", "none":
		return Unweighted, nil
	}
	return 0, fmt.Errorf("unknown weighting %q (want natural or unweighted)", s)
}

// Options tune a gridding run.
type Options struct {
	Weighting Weighting
	// Workers bounds concurrent tasks and sets the number of grid row bands.
	// Zero means runtime.NumCPU().
	Workers int
	// SamplingFunction also grids the sample weights into a real plane, from
	// which the point spread function is synthesised.
	SamplingFunction bool
}

// Stats summarise one facet's gridding. UV placement does not depend on the
// facet, so every facet reports the same counts.
type Stats struct {
	// Samples is the number of (sample, plane) pairs considered.
	Samples int64
	// Gridded counts pairs that reached the grid.
	Gridded int64
	// Flagged counts pairs excluded by a sample or row flag.
	Flagged int64
	// Clipped counts gridded pairs whose footprint left the grid.
	Clipped int64
	// Outside counts pairs whose footprint missed the grid entirely.
	Outside int64
	// Weight is the total footprint weight deposited on the grid.
	Weight float64
	// ClippedWeight is the footprint weight that fell outside the grid.
	ClippedWeight float64
}

func (s *Stats) merge(o Stats) {
	s.Samples += o.Samples
	s.Gridded += o.Gridded
	s.Flagged += o.Flagged
	s.Clipped += o.Clipped
	s.Outside += o.Outside
	s.Weight += o.Weight
	s.ClippedWeight += o.ClippedWeight
}

// FacetGrids holds the planes produced for one facet.
type FacetGrids struct {
	Facet Facet
	// Planes holds one grid per gridded correlation, in Mode.Correlations order.
	Planes []*Grid
	// Sampling is nil unless Options.SamplingFunction was set.
	Sampling *Grid
	Stats    Stats
}

// Gridder places visibilities of one dataset shape onto grids.
type Gridder struct {
	geom Geometry
	kern *kernel.Kernel
	mode Mode
	opts Options
}

// New validates the geometry and returns a gridder sharing k read-only.
func New(geom Geometry, k *kernel.Kernel, mode Mode, opts Options) (*Gridder, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	if k == nil {
		return nil, fmt.Errorf("%w: nil kernel", kernel.ErrInvalidKernel)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Gridder{geom: geom, kern: k, mode: mode, opts: opts}, nil
}

// Geometry returns the grid geometry.
func (g *Gridder) Geometry() Geometry { return g.geom }

// Mode returns the gridding mode.
func (g *Gridder) Mode() Mode { return g.mode }

// Grid grids ds once per facet. Facets are processed one after another with
// every worker on the current facet.
func (g *Gridder) Grid(ctx context.Context, ds *dataset.Dataset, facets []Facet) ([]FacetGrids, error) {
	if err := g.mode.Validate(ds.Correlations); err != nil {
		return nil, err
	}
	if len(facets) == 0 {
		facets = Facets(ds.PhaseCentre, nil)
	}

	bands := splitBands(g.geom.NpixL, g.opts.Workers)
	planes := g.mode.Planes()
	if g.opts.SamplingFunction {
		planes++
	}

	out := make([]FacetGrids, len(facets))
	for fi, facet := range facets {
		grids := g.newPlanes(planes)
		var stats Stats

		eg, gctx := errgroup.WithContext(ctx)
		eg.SetLimit(g.opts.Workers)
		for b, band := range bands {
			// Band 0 keeps the per-sample counts for the whole facet.
			var st *Stats
			if b == 0 {
				st = &stats
			}
			eg.Go(func() error {
				return g.gridBand(gctx, ds, facet, band, grids, st)
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, fmt.Errorf("gridding %v: %w", facet, err)
		}

		result := FacetGrids{Facet: facet, Planes: grids[:g.mode.Planes()], Stats: stats}
		if g.opts.SamplingFunction {
			result.Sampling = grids[g.mode.Planes()]
		}
		out[fi] = result

		monitoring.Stagef("grid", "%v: %d gridded, %d flagged, %d clipped, %d outside",
			facet, stats.Gridded, stats.Flagged, stats.Clipped, stats.Outside)
	}
	return out, nil
}

func (g *Gridder) newPlanes(n int) []*Grid {
	out := make([]*Grid, n)
	for i := range out {
		out[i] = NewGrid(g.geom.NpixL, g.geom.NpixM)
	}
	return out
}

// rowRange is a half-open range of grid rows.
type rowRange struct{ lo, hi int }

// splitBands splits [0, rows) into at most n contiguous, near-equal bands.
func splitBands(rows, n int) []rowRange {
	if n > rows {
		n = rows
	}
	if n < 1 {
		n = 1
	}
	out := make([]rowRange, n)
	for i := range out {
		out[i] = rowRange{lo: rows * i / n, hi: rows * (i + 1) / n}
	}
	return out
}

const cancelCheckRows = 256

// gridBand grids every sample of ds into the rows of band. The last plane
// is the sampling function when enabled. When st is non-nil it receives
// the counts for every sample, independent of the band.
func (g *Gridder) gridBand(ctx context.Context, ds *dataset.Dataset, facet Facet, band rowRange, planes []*Grid, st *Stats) error {
	corrs := g.mode.Correlations()
	var sampling *Grid
	if g.opts.SamplingFunction {
		sampling = planes[len(corrs)]
	}

	s := g.kern.Support()
	width := g.kern.Width()
	wu := make([]float64, width)
	wv := make([]float64, width)
	su, sv := g.geom.UVScale()
	cu, cv := g.geom.Centre()
	dl, dm := facet.Offset()

	for row := 0; row < ds.Rows(); row++ {
		if row%cancelCheckRows == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		uvw := ds.UVW[row]
		rowFlagged := ds.RowFlags[row]

		for c, lambda := range ds.Wavelengths {
			u, v := uvw.U/lambda, uvw.V/lambda
			nu, okU := footprintCell(u*su+float64(cu), s, g.geom.NpixL)
			nv, okV := footprintCell(v*sv+float64(cv), s, g.geom.NpixM)
			mine := okU && okV && nu+s >= band.lo && nu-s < band.hi
			if !mine && st == nil {
				continue
			}

			var inside, full float64
			var clipped bool
			if okU && okV {
				pu := u*su + float64(cu)
				pv := v*sv + float64(cv)
				phu := g.kern.Phase(pu - float64(nu))
				phv := g.kern.Phase(pv - float64(nv))
				for off := -s; off <= s; off++ {
					wu[off+s] = g.kern.Weight(off, phu)
					wv[off+s] = g.kern.Weight(off, phv)
				}
				inU, fullU, clipU := axisCoverage(nu, wu, g.geom.NpixL)
				inV, fullV, clipV := axisCoverage(nv, wv, g.geom.NpixM)
				inside, full = inU*inV, fullU*fullV
				clipped = clipU || clipV
			}
			// A footprint whose in-grid cells all carry zero kernel weight
			// deposits nothing and counts as outside.
			outside := inside == 0

			rot := complex(1, 0)
			if facet.Rotate && !outside {
				rot = cmplx.Rect(1, 2*math.Pi*(u*dl+v*dm))
			}

			for p, corr := range corrs {
				idx := ds.SampleIndex(row, c, corr)
				flagged := rowFlagged || ds.Flags[idx]
				if st != nil {
					st.Samples++
					switch {
					case flagged:
						st.Flagged++
					case outside:
						st.Outside++
					}
				}
				if flagged || outside {
					continue
				}
				w := 1.0
				if g.opts.Weighting == Natural {
					w = ds.Weights[idx]
				}
				if st != nil {
					st.Gridded++
					st.Weight += inside * w
					if clipped {
						st.Clipped++
						st.ClippedWeight += (full - inside) * w
					}
				}
				if !mine {
					continue
				}
				val := ds.Visibilities[idx] * rot * complex(w, 0)
				planes[p].spread(nu, nv, wu, wv, val, band)
				if p == 0 && sampling != nil {
					sampling.spread(nu, nv, wu, wv, complex(w, 0), band)
				}
			}
		}
	}
	return nil
}

// footprintCell rounds the pixel coordinate x to its nearest cell on an
// axis of n cells and reports whether a footprint of half-support s
// centred there touches the axis. NaN and infinite coordinates never do.
func footprintCell(x float64, s, n int) (int, bool) {
	if !(x > -float64(s)-2 && x < float64(n+s)+1) {
		return 0, false
	}
	nc := int(math.Round(x))
	return nc, nc+s >= 0 && nc-s <= n-1
}

// axisCoverage sums the footprint weights w centred on cell c that land
// inside an axis of n cells, the full footprint weight, and whether any
// non-zero weight falls off the axis.
func axisCoverage(c int, w []float64, n int) (inside, full float64, clipped bool) {
	s := (len(w) - 1) / 2
	for a, k := range w {
		full += k
		if i := c - s + a; i < 0 || i >= n {
			clipped = clipped || k != 0
			continue
		}
		inside += k
	}
	return inside, full, clipped
}
