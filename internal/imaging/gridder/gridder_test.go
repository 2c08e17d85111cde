package gridder

import (
	"context"
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bullseye/internal/dataset"
	"github.com/banshee-data/bullseye/internal/imaging/kernel"
	"github.com/banshee-data/bullseye/internal/monitoring"
	"github.com/banshee-data/bullseye/internal/units"
)

func init() {
	monitoring.SetLogger(nil)
}

func simulated(t *testing.T) *dataset.Dataset {
	t.Helper()
	cfg := dataset.DefaultSimConfig()
	cfg.Antennas, cfg.Timestamps, cfg.Channels = 6, 10, 2
	off := units.SkyCoord{RA: cfg.PhaseCentre.RA + 1e-4, Dec: cfg.PhaseCentre.Dec + 2e-4}
	cfg.Sources = append(cfg.Sources, dataset.Source{Position: off, I: 0.5, Q: 0.1})
	ds, err := dataset.Simulate(cfg)
	require.NoError(t, err)
	return ds
}

func simGeometry() Geometry {
	cell := 10 * units.ArcsecToRad
	return Geometry{NpixL: 64, NpixM: 64, CellL: cell, CellM: cell}
}

func newGridder(t *testing.T, geom Geometry, kind kernel.Kind, support, oversample int, mode Mode, opts Options) *Gridder {
	t.Helper()
	k, err := kernel.New(kind, support, oversample)
	require.NoError(t, err)
	g, err := New(geom, k, mode, opts)
	require.NoError(t, err)
	return g
}

// singleSample builds a one-row, one-channel dataset with unit wavelength.
func singleSample(correlations int, u, v float64, vis ...complex128) *dataset.Dataset {
	ds := dataset.New(1, 1, 1, correlations)
	ds.UVW[0] = dataset.UVW{U: u, V: v}
	copy(ds.Visibilities, vis)
	return ds
}

func TestGrid_EndToEndCentreCell(t *testing.T) {
	geom := Geometry{NpixL: 4, NpixM: 4, CellL: units.ArcsecToRad, CellM: units.ArcsecToRad}
	g := newGridder(t, geom, kernel.Box, 1, 1, AllFour(), Options{Workers: 1})
	ds := singleSample(4, 0, 0, 1, 0, 0, 1)

	out, err := g.Grid(context.Background(), ds, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, out[0].Facet.Rotate)
	require.Len(t, out[0].Planes, 4)
	assert.Nil(t, out[0].Sampling)

	wantCentre := []complex128{1, 0, 0, 1}
	for p, plane := range out[0].Planes {
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				want := complex128(0)
				if i == 2 && j == 2 {
					want = wantCentre[p]
				}
				assert.Equal(t, want, plane.At(i, j), "plane %d cell (%d,%d)", p, i, j)
			}
		}
	}

	st := out[0].Stats
	assert.Equal(t, int64(4), st.Samples)
	assert.Equal(t, int64(4), st.Gridded)
	assert.Equal(t, int64(0), st.Clipped)
	assert.InDelta(t, 4.0, st.Weight, 1e-15)
}

func TestGrid_FlagExclusion(t *testing.T) {
	g := newGridder(t, simGeometry(), kernel.KeiserBessel, 3, 8, AllFour(), Options{Workers: 4})

	t.Run("sample flag", func(t *testing.T) {
		flagged := simulated(t)
		reference := flagged.Clone()
		for _, i := range []int{3, 17, 40, 41, 200} {
			flagged.Flags[i] = true
			flagged.Visibilities[i] = complex(1e30, -1e30)
			reference.Visibilities[i] = 0
			reference.Weights[i] = 0
		}

		a, err := g.Grid(context.Background(), flagged, nil)
		require.NoError(t, err)
		b, err := g.Grid(context.Background(), reference, nil)
		require.NoError(t, err)
		for p := range a[0].Planes {
			assert.True(t, a[0].Planes[p].Equal(b[0].Planes[p]), "plane %d differs", p)
		}
		assert.Equal(t, int64(5), a[0].Stats.Flagged)
	})

	t.Run("row flag", func(t *testing.T) {
		flagged := simulated(t)
		const row = 7
		flagged.RowFlags[row] = true

		// The same data with the row physically removed.
		removed := dataset.New(1, flagged.Rows()-1, flagged.Channels, flagged.Correlations)
		removed.Wavelengths = flagged.Wavelengths
		removed.PhaseCentre = flagged.PhaseCentre
		per := flagged.Channels * flagged.Correlations
		dst := 0
		for r := 0; r < flagged.Rows(); r++ {
			if r == row {
				continue
			}
			removed.UVW[dst] = flagged.UVW[r]
			copy(removed.Visibilities[dst*per:(dst+1)*per], flagged.Visibilities[r*per:(r+1)*per])
			copy(removed.Weights[dst*per:(dst+1)*per], flagged.Weights[r*per:(r+1)*per])
			dst++
		}
		require.NoError(t, removed.Validate())

		a, err := g.Grid(context.Background(), flagged, nil)
		require.NoError(t, err)
		b, err := g.Grid(context.Background(), removed, nil)
		require.NoError(t, err)
		for p := range a[0].Planes {
			assert.True(t, a[0].Planes[p].Equal(b[0].Planes[p]), "plane %d differs", p)
		}
		assert.Equal(t, int64(per), a[0].Stats.Flagged)
	})
}

func TestGrid_FacetIndependence(t *testing.T) {
	ds := simulated(t)
	g := newGridder(t, simGeometry(), kernel.Gaussian, 2, 16, Single(0), Options{Workers: 3})

	pc := ds.PhaseCentre
	fa := NewFacet(pc, units.SkyCoord{RA: pc.RA + 1e-4, Dec: pc.Dec})
	fb := NewFacet(pc, units.SkyCoord{RA: pc.RA, Dec: pc.Dec - 3e-4})

	both, err := g.Grid(context.Background(), ds, []Facet{fa, fb})
	require.NoError(t, err)
	onlyA, err := g.Grid(context.Background(), ds, []Facet{fa})
	require.NoError(t, err)
	onlyB, err := g.Grid(context.Background(), ds, []Facet{fb})
	require.NoError(t, err)

	require.Len(t, both, 2)
	assert.True(t, both[0].Planes[0].Equal(onlyA[0].Planes[0]), "facet A changed when gridded with B")
	assert.True(t, both[1].Planes[0].Equal(onlyB[0].Planes[0]), "facet B changed when gridded with A")
	assert.False(t, both[0].Planes[0].Equal(both[1].Planes[0]), "distinct facets produced identical grids")
	assert.Equal(t, both[0].Stats, both[1].Stats)
}

func TestGrid_Idempotent(t *testing.T) {
	ds := simulated(t)
	g := newGridder(t, simGeometry(), kernel.KeiserBessel, 3, 63, AllFour(), Options{Workers: 4, SamplingFunction: true})

	a, err := g.Grid(context.Background(), ds, nil)
	require.NoError(t, err)
	b, err := g.Grid(context.Background(), ds, nil)
	require.NoError(t, err)
	for p := range a[0].Planes {
		assert.True(t, a[0].Planes[p].Equal(b[0].Planes[p]), "plane %d differs between runs", p)
	}
	assert.True(t, a[0].Sampling.Equal(b[0].Sampling))
}

func TestGrid_WorkerCountIsBitExact(t *testing.T) {
	ds := simulated(t)
	geom := simGeometry()
	opts := Options{Workers: 1, SamplingFunction: true}
	one := newGridder(t, geom, kernel.Gaussian, 2, 8, AllFour(), opts)

	a, err := one.Grid(context.Background(), ds, nil)
	require.NoError(t, err)
	for _, workers := range []int{2, 7, 64, 200} {
		opts.Workers = workers
		many := newGridder(t, geom, kernel.Gaussian, 2, 8, AllFour(), opts)
		b, err := many.Grid(context.Background(), ds, nil)
		require.NoError(t, err)
		for p := range a[0].Planes {
			assert.True(t, a[0].Planes[p].Equal(b[0].Planes[p]), "%d workers: plane %d differs", workers, p)
		}
		assert.True(t, a[0].Sampling.Equal(b[0].Sampling), "%d workers: sampling plane differs", workers)
		assert.Equal(t, a[0].Stats, b[0].Stats, "%d workers", workers)
	}
}

func TestGrid_BoundaryClippingEnergy(t *testing.T) {
	// su = 1 cell per wavelength so u maps directly onto pixel offsets.
	geom := Geometry{NpixL: 8, NpixM: 8, CellL: 1.0 / 8, CellM: 1.0 / 8}
	g := newGridder(t, geom, kernel.Gaussian, 2, 4, Single(0), Options{Workers: 1})
	k, err := kernel.New(kernel.Gaussian, 2, 4)
	require.NoError(t, err)

	// pu = -3.7 + 4 = 0.3: nearest cell 0, cells -2 and -1 fall off the grid.
	val := complex(2, -1)
	ds := singleSample(1, -3.7, 0, val)
	out, err := g.Grid(context.Background(), ds, nil)
	require.NoError(t, err)

	phu := k.Phase(0.3)
	var fullU, insideU, fullV float64
	for off := -2; off <= 2; off++ {
		fullU += k.Weight(off, phu)
		fullV += k.Weight(off, 0)
		if off >= 0 {
			insideU += k.Weight(off, phu)
		}
	}
	full := fullU * fullV
	inside := insideU * fullV

	st := out[0].Stats
	assert.Equal(t, int64(1), st.Gridded)
	assert.Equal(t, int64(1), st.Clipped)
	assert.InDelta(t, inside, st.Weight, 1e-12)
	assert.InDelta(t, full-inside, st.ClippedWeight, 1e-12)

	sum := out[0].Planes[0].Sum()
	assert.InDelta(t, real(val)*inside, real(sum), 1e-12)
	assert.InDelta(t, imag(val)*inside, imag(sum), 1e-12)
}

func TestGrid_FootprintOutsideGrid(t *testing.T) {
	// su = 1 cell per wavelength and the centre cell is 4, so pu = u + 4.
	geom := Geometry{NpixL: 8, NpixM: 8, CellL: 1.0 / 8, CellM: 1.0 / 8}

	tests := []struct {
		name    string
		kind    kernel.Kind
		u       float64
		outside bool
	}{
		{"far above", kernel.Gaussian, 100, true},
		{"far below", kernel.Gaussian, -100, true},
		{"infinite", kernel.Gaussian, math.Inf(1), true},
		{"nan", kernel.Gaussian, math.NaN(), true},
		// pu = n+s: the footprint's lowest cell is n, one past the last row.
		{"one past upper reach", kernel.Gaussian, 5, true},
		{"last upper reach", kernel.Gaussian, 4, false},
		// pu = -s-0.5 rounds away from zero to -s-1.
		{"half cell past lower reach", kernel.Gaussian, -5.5, true},
		{"last lower reach", kernel.Gaussian, -5, false},
		// The box only weights its centre cell, here -1.
		{"box centre off grid", kernel.Box, -5, true},
		{"box centre on edge", kernel.Box, -4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGridder(t, geom, tt.kind, 1, 4, Single(0), Options{Workers: 3})
			ds := singleSample(1, tt.u, 0, 1)
			out, err := g.Grid(context.Background(), ds, nil)
			require.NoError(t, err)

			st := out[0].Stats
			if tt.outside {
				assert.Equal(t, int64(1), st.Outside)
				assert.Equal(t, int64(0), st.Gridded)
				assert.Equal(t, int64(0), st.Clipped)
				assert.Zero(t, st.Weight)
				assert.Equal(t, complex128(0), out[0].Planes[0].Sum())
				return
			}
			assert.Equal(t, int64(0), st.Outside)
			assert.Equal(t, int64(1), st.Gridded)
			assert.Greater(t, st.Weight, 0.0)
			assert.InDelta(t, st.Weight, real(out[0].Planes[0].Sum()), 1e-12)
		})
	}
}

func TestGrid_FacetRotationCentresSource(t *testing.T) {
	phase := units.SkyCoord{RA: 0.3, Dec: 0.6}
	src := units.SkyCoord{RA: 0.3005, Dec: 0.5993}
	l, m := units.DirectionCosines(phase, src)

	geom := Geometry{NpixL: 16, NpixM: 16, CellL: 1e-4, CellM: 1e-4}
	g := newGridder(t, geom, kernel.Box, 1, 1, Single(0), Options{Workers: 1})

	u, v := 1500.0, -2200.0
	ds := singleSample(1, u, v, cmplx.Rect(3, 2*math.Pi*(u*l+v*m)))
	ds.PhaseCentre = phase

	out, err := g.Grid(context.Background(), ds, []Facet{NewFacet(phase, src)})
	require.NoError(t, err)
	got := out[0].Planes[0].Sum()
	assert.InDelta(t, 3.0, real(got), 1e-9)
	assert.InDelta(t, 0.0, imag(got), 1e-9)
}

func TestGrid_Weighting(t *testing.T) {
	geom := Geometry{NpixL: 4, NpixM: 4, CellL: 1, CellM: 1}
	ds := singleSample(1, 0, 0, 1)
	ds.Weights[0] = 2.5

	natural := newGridder(t, geom, kernel.Box, 1, 1, Single(0), Options{Weighting: Natural, Workers: 1})
	out, err := natural.Grid(context.Background(), ds, nil)
	require.NoError(t, err)
	assert.Equal(t, complex(2.5, 0), out[0].Planes[0].At(2, 2))

	unweighted := newGridder(t, geom, kernel.Box, 1, 1, Single(0), Options{Weighting: Unweighted, Workers: 1})
	out, err = unweighted.Grid(context.Background(), ds, nil)
	require.NoError(t, err)
	assert.Equal(t, complex(1, 0), out[0].Planes[0].At(2, 2))
}

func TestGrid_SamplingFunction(t *testing.T) {
	ds := simulated(t)
	g := newGridder(t, simGeometry(), kernel.Gaussian, 2, 8, Single(3), Options{Workers: 2, SamplingFunction: true})
	out, err := g.Grid(context.Background(), ds, nil)
	require.NoError(t, err)
	require.NotNil(t, out[0].Sampling)

	// Every footprint lands inside the grid, so the sampling plane holds the
	// summed footprint weight of every unflagged sample.
	sum := out[0].Sampling.Sum()
	assert.Equal(t, int64(0), out[0].Stats.Clipped)
	assert.InDelta(t, out[0].Stats.Weight, real(sum), 1e-9)
	assert.InDelta(t, 0.0, imag(sum), 1e-12)
}

func TestGrid_ModeValidation(t *testing.T) {
	geom := Geometry{NpixL: 4, NpixM: 4, CellL: 1, CellM: 1}
	two := dataset.New(1, 1, 1, 2)

	tests := []struct {
		name    string
		mode    Mode
		wantErr bool
	}{
		{"all four on two correlations", AllFour(), true},
		{"single index past end", Single(2), true},
		{"negative index", Single(-1), true},
		{"single in range", Single(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGridder(t, geom, kernel.Box, 1, 1, tt.mode, Options{Workers: 1})
			_, err := g.Grid(context.Background(), two, nil)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidMode), "err = %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGrid_Cancelled(t *testing.T) {
	ds := simulated(t)
	g := newGridder(t, simGeometry(), kernel.Box, 1, 1, Single(0), Options{Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Grid(ctx, ds, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_RejectsBadGeometry(t *testing.T) {
	k, err := kernel.New(kernel.Box, 1, 1)
	require.NoError(t, err)

	for _, geom := range []Geometry{
		{NpixL: 0, NpixM: 4, CellL: 1, CellM: 1},
		{NpixL: 4, NpixM: 4, CellL: 0, CellM: 1},
		{NpixL: 4, NpixM: 4, CellL: 1, CellM: math.NaN()},
	} {
		_, err := New(geom, k, Single(0), Options{})
		assert.ErrorIs(t, err, ErrInvalidGeometry, "%+v", geom)
	}

	_, err = New(Geometry{NpixL: 4, NpixM: 4, CellL: 1, CellM: 1}, nil, Single(0), Options{})
	assert.ErrorIs(t, err, kernel.ErrInvalidKernel)
}

func TestSplitBands(t *testing.T) {
	tests := []struct {
		rows, n, want int
	}{
		{10, 3, 3},
		{2, 8, 2},
		{0, 4, 1},
		{100, 1, 1},
	}
	for _, tt := range tests {
		bands := splitBands(tt.rows, tt.n)
		assert.Len(t, bands, tt.want)
		next := 0
		for _, c := range bands {
			assert.Equal(t, next, c.lo)
			assert.GreaterOrEqual(t, c.hi, c.lo)
			next = c.hi
		}
		assert.Equal(t, tt.rows, next)
	}
}

func TestFacets(t *testing.T) {
	pc := units.SkyCoord{RA: 1, Dec: -0.4}

	implicit := Facets(pc, nil)
	require.Len(t, implicit, 1)
	assert.False(t, implicit[0].Rotate)
	assert.Equal(t, pc, implicit[0].Centre)

	explicit := Facets(pc, []units.SkyCoord{pc, {RA: 1.01, Dec: -0.4}})
	require.Len(t, explicit, 2)
	assert.True(t, explicit[0].Rotate)
	dl, dm := explicit[0].Offset()
	assert.InDelta(t, 0.0, dl, 1e-15)
	assert.InDelta(t, 0.0, dm, 1e-15)

	dl, _ = explicit[1].Offset()
	assert.Less(t, dl, 0.0)
}

func TestGeometry(t *testing.T) {
	g := Geometry{NpixL: 256, NpixM: 128, CellL: 1e-5, CellM: 2e-5}
	su, sv := g.UVScale()
	assert.InDelta(t, 256e-5, su, 1e-18)
	assert.InDelta(t, -256e-5, sv, 1e-18)
	cu, cv := g.Centre()
	assert.Equal(t, 128, cu)
	assert.Equal(t, 64, cv)

	assert.Equal(t, 4, AllFour().Planes())
	assert.Equal(t, 1, Single(2).Planes())
	assert.Equal(t, []int{2}, Single(2).Correlations())
	assert.Equal(t, "all-four", AllFour().String())
}

func TestParseWeighting(t *testing.T) {
	w, err := ParseWeighting("Natural")
	require.NoError(t, err)
	assert.Equal(t, Natural, w)

	w, err = ParseWeighting("unweighted")
	require.NoError(t, err)
	assert.Equal(t, Unweighted, w)
	assert.Equal(t, "unweighted", w.String())

	_, err = ParseWeighting("briggs")
	assert.Error(t, err)
}
