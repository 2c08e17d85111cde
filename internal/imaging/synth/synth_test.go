package synth

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/bullseye/internal/imaging/gridder"
	"github.com/banshee-data/bullseye/internal/imaging/kernel"
	"github.com/banshee-data/bullseye/internal/testutil"
)

func flatDetaper(rows, cols int) *kernel.Detaper {
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, 1)
		}
	}
	return kernel.FromMatrix(m, kernel.Centered)
}

// directImage evaluates the centred inverse DFT of g pixel by pixel.
func directImage(g *gridder.Grid) [][]float64 {
	rows, cols := g.Dims()
	out := make([][]float64, rows)
	for x := 0; x < rows; x++ {
		out[x] = make([]float64, cols)
		for y := 0; y < cols; y++ {
			var s complex128
			for i := 0; i < rows; i++ {
				for j := 0; j < cols; j++ {
					ku, kv := float64(i-rows/2), float64(j-cols/2)
					X, Y := float64(x-rows/2), float64(y-cols/2)
					s += g.At(i, j) * cmplx.Rect(1, 2*math.Pi*(ku*X/float64(rows)+kv*Y/float64(cols)))
				}
			}
			out[x][y] = real(s) / float64(rows*cols)
		}
	}
	return out
}

func TestSynthesize_EndToEndConstant(t *testing.T) {
	_, d, err := kernel.Build(kernel.Box, 1, 1, 4, 4)
	require.NoError(t, err)

	g := gridder.NewGrid(4, 4)
	g.Set(2, 2, 2)
	im, err := Synthesize(g, d)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			testutil.AssertClose(t, "pixel", im.At(i, j), 0.125, 1e-15)
		}
	}
	assert.Equal(t, 0, im.ClampedPixels)
}

func TestSynthesize_MatchesDirectTransform(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, dims := range [][2]int{{4, 6}, {5, 7}, {8, 8}, {2, 3}} {
		rows, cols := dims[0], dims[1]
		g := gridder.NewGrid(rows, cols)
		for n := range g.Data() {
			g.Data()[n] = complex(rng.NormFloat64(), rng.NormFloat64())
		}
		before := g.Clone()

		im, err := Synthesize(g, flatDetaper(rows, cols))
		require.NoError(t, err)
		assert.True(t, g.Equal(before), "%dx%d grid modified", rows, cols)

		want := directImage(g)
		for x := 0; x < rows; x++ {
			for y := 0; y < cols; y++ {
				if math.Abs(im.At(x, y)-want[x][y]) > 1e-12 {
					t.Fatalf("%dx%d pixel (%d,%d) = %g, want %g", rows, cols, x, y, im.At(x, y), want[x][y])
				}
			}
		}
	}
}

// A single off-centre cell images to a cosine fringe.
func TestSynthesize_Fringe(t *testing.T) {
	const rows, cols = 8, 6
	g := gridder.NewGrid(rows, cols)
	g.Set(rows/2+1, cols/2, 1)

	im, err := Synthesize(g, flatDetaper(rows, cols))
	require.NoError(t, err)
	for x := 0; x < rows; x++ {
		want := math.Cos(2*math.Pi*float64(x-rows/2)/rows) / (rows * cols)
		for y := 0; y < cols; y++ {
			testutil.AssertClose(t, "fringe", im.At(x, y), want, 1e-15)
		}
	}
}

func TestSynthesize_DividesByDetaper(t *testing.T) {
	_, d, err := kernel.Build(kernel.Gaussian, 2, 8, 8, 8)
	require.NoError(t, err)

	g := gridder.NewGrid(8, 8)
	g.Set(4, 4, 64)
	im, err := Synthesize(g, d)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			testutil.AssertClose(t, "detapered", im.At(i, j), 1/d.At(i, j), 1e-12)
		}
	}
}

func TestSynthesize_LayoutMismatch(t *testing.T) {
	g := gridder.NewGrid(4, 4)

	corner := kernel.FromMatrix(mat.NewDense(4, 4, nil), kernel.Corner)
	_, err := Synthesize(g, corner)
	assert.ErrorIs(t, err, ErrLayoutMismatch)

	_, err = Synthesize(g, flatDetaper(4, 5))
	assert.ErrorIs(t, err, ErrLayoutMismatch)

	_, err = Synthesize(g, nil)
	assert.ErrorIs(t, err, ErrLayoutMismatch)
}

func TestSynthesize_ClampsSmallDetaper(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 1e-9, 0, -1e-7})
	d := kernel.FromMatrix(m, kernel.Centered)

	g := gridder.NewGrid(2, 2)
	g.Set(1, 1, 4)
	im, err := Synthesize(g, d)
	require.NoError(t, err)

	assert.Equal(t, 3, im.ClampedPixels)
	assert.Equal(t, 1.0, im.At(0, 0))
	for _, v := range im.Data()[1:] {
		assert.Equal(t, 0.0, v)
	}
}

func TestImage_Stats(t *testing.T) {
	im := NewImage(2, 2)
	copy(im.Data(), []float64{1, -2, 3, 6})

	st := im.Stats()
	assert.Equal(t, -2.0, st.Min)
	assert.Equal(t, 6.0, st.Max)
	assert.InDelta(t, 2.0, st.Mean, 1e-15)
	assert.InDelta(t, math.Sqrt(34.0/3), st.StdDev, 1e-12)

	v, l, m := im.Peak()
	assert.Equal(t, 6.0, v)
	assert.Equal(t, 1, l)
	assert.Equal(t, 1, m)

	assert.Equal(t, 6.0, im.Normalize())
	assert.InDelta(t, 1.0, im.At(1, 1), 1e-15)
	assert.False(t, im.IsZero())
	assert.True(t, NewImage(3, 1).IsZero())

	single := NewImage(1, 1)
	single.Data()[0] = 5
	assert.Equal(t, Stats{Min: 5, Max: 5, Mean: 5}, single.Stats())
}
