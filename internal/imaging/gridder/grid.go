package gridder

import (
	"gonum.org/v1/gonum/mat"
)

// Grid is one complex uv plane. Rows run along the u axis (npix_l), columns
// along v (npix_m). The zero spatial frequency sits at (npix_l/2, npix_m/2).
type Grid struct {
	rows, cols int
	data       []complex128
	m          *mat.CDense
}

// NewGrid allocates a zeroed rows × cols plane.
func NewGrid(rows, cols int) *Grid {
	data := make([]complex128, rows*cols)
	return &Grid{rows: rows, cols: cols, data: data, m: mat.NewCDense(rows, cols, data)}
}

// Dims returns (rows, cols).
func (g *Grid) Dims() (int, int) { return g.rows, g.cols }

// At returns the value of cell (i, j).
func (g *Grid) At(i, j int) complex128 { return g.data[i*g.cols+j] }

// Set overwrites cell (i, j).
func (g *Grid) Set(i, j int, v complex128) { g.data[i*g.cols+j] = v }

// Data returns the row-major backing slice. Callers own the grid once
// gridding has finished and may transform it in place.
func (g *Grid) Data() []complex128 { return g.data }

// Matrix exposes the plane as a gonum complex matrix sharing storage.
func (g *Grid) Matrix() *mat.CDense { return g.m }

// Sum returns the total of every cell.
func (g *Grid) Sum() complex128 {
	var s complex128
	for _, v := range g.data {
		s += v
	}
	return s
}

// Clone returns an independent copy.
func (g *Grid) Clone() *Grid {
	c := NewGrid(g.rows, g.cols)
	copy(c.data, g.data)
	return c
}

// Equal reports whether two grids have the same shape and identical cells.
func (g *Grid) Equal(o *Grid) bool {
	if g.rows != o.rows || g.cols != o.cols {
		return false
	}
	for i, v := range g.data {
		if o.data[i] != v {
			return false
		}
	}
	return true
}

// spread adds val weighted by the separable footprint wu ⊗ wv centred on
// cell (nu, nv), writing only rows inside band. Cells outside the plane are
// skipped.
func (g *Grid) spread(nu, nv int, wu, wv []float64, val complex128, band rowRange) {
	su := (len(wu) - 1) / 2
	sv := (len(wv) - 1) / 2
	lo, hi := max(nu-su, band.lo, 0), min(nu+su+1, band.hi, g.rows)
	for iu := lo; iu < hi; iu++ {
		ku := wu[iu-nu+su]
		row := g.data[iu*g.cols : (iu+1)*g.cols]
		for b, kv := range wv {
			iv := nv - sv + b
			if iv < 0 || iv >= g.cols {
				continue
			}
			row[iv] += val * complex(ku*kv, 0)
		}
	}
}
