package dataset

import (
	"bytes"
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bullseye/internal/fsutil"
	"github.com/banshee-data/bullseye/internal/units"
)

func TestIndexLayout(t *testing.T) {
	d := New(3, 5, 7, 4)
	assert.Equal(t, 15, d.Rows())
	assert.Equal(t, 3*5*7*4, d.Samples())

	seen := make(map[int]bool)
	for tt := 0; tt < 3; tt++ {
		for b := 0; b < 5; b++ {
			for c := 0; c < 7; c++ {
				for p := 0; p < 4; p++ {
					i := d.Index(tt, b, c, p)
					if seen[i] {
						t.Fatalf("Index(%d,%d,%d,%d) = %d collides", tt, b, c, p, i)
					}
					seen[i] = true
				}
			}
		}
	}
	assert.Len(t, seen, d.Samples())
	assert.Equal(t, d.Samples()-1, d.Index(2, 4, 6, 3))
	assert.Equal(t, 4, d.Index(0, 0, 1, 0))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Dataset)
	}{
		{"short visibilities", func(d *Dataset) { d.Visibilities = d.Visibilities[1:] }},
		{"short flags", func(d *Dataset) { d.Flags = nil }},
		{"long weights", func(d *Dataset) { d.Weights = append(d.Weights, 1) }},
		{"short uvw", func(d *Dataset) { d.UVW = d.UVW[:1] }},
		{"missing row flags", func(d *Dataset) { d.RowFlags = nil }},
		{"zero wavelength", func(d *Dataset) { d.Wavelengths[0] = 0 }},
		{"NaN wavelength", func(d *Dataset) { d.Wavelengths[1] = math.NaN() }},
		{"negative weight", func(d *Dataset) { d.Weights[3] = -1 }},
		{"three correlations", func(d *Dataset) { d.Correlations = 3 }},
		{"bad declination", func(d *Dataset) { d.PhaseCentre.Dec = 2 }},
	}

	require.NoError(t, New(2, 3, 2, 2).Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(2, 3, 2, 2)
			tt.mutate(d)
			if err := d.Validate(); !errors.Is(err, ErrInvalidDataset) {
				t.Errorf("Validate() = %v, want ErrInvalidDataset", err)
			}
		})
	}
}

func TestFlaggedFraction(t *testing.T) {
	d := New(1, 2, 1, 2)
	assert.Equal(t, 0.0, d.FlaggedFraction())

	d.RowFlags[0] = true
	d.Flags[d.Index(0, 1, 0, 1)] = true
	assert.InDelta(t, 0.75, d.FlaggedFraction(), 1e-15)
}

func TestClone_IsIndependent(t *testing.T) {
	d := New(1, 1, 1, 1)
	c := d.Clone()
	c.Visibilities[0] = 5
	c.Flags[0] = true
	assert.Equal(t, complex128(0), d.Visibilities[0])
	assert.False(t, d.Flags[0])
}

func TestSaveLoad(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Antennas, cfg.Timestamps, cfg.Channels = 4, 3, 2
	d, err := Simulate(cfg)
	require.NoError(t, err)
	d.Flags[7] = true
	d.RowFlags[2] = true

	for _, path := range []string{"obs.json", "obs.json.gz"} {
		t.Run(path, func(t *testing.T) {
			fs := fsutil.NewMemoryFileSystem()
			require.NoError(t, Save(fs, path, d))

			got, err := Load(fs, path)
			require.NoError(t, err)
			if diff := cmp.Diff(d, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_Defaults(t *testing.T) {
	in := `{"timestamps":1,"baselines":1,"channels":1,"correlations":1,
		"vis_real":[2],"vis_imag":[-1],"uvw":[{"u":1,"v":2,"w":3}],"wavelengths":[0.21]}`
	d, err := Decode(bytes.NewBufferString(in))
	require.NoError(t, err)

	assert.Equal(t, []complex128{complex(2, -1)}, d.Visibilities)
	assert.Equal(t, []float64{1}, d.Weights)
	assert.Equal(t, []bool{false}, d.Flags)
	assert.Equal(t, []bool{false}, d.RowFlags)
	assert.Equal(t, "J2000", d.Epoch)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"mismatched vis arrays", `{"timestamps":1,"baselines":1,"channels":1,"correlations":1,"vis_real":[1],"vis_imag":[],"uvw":[{}],"wavelengths":[1]}`},
		{"missing uvw", `{"timestamps":1,"baselines":1,"channels":1,"correlations":1,"vis_real":[1],"vis_imag":[0],"wavelengths":[1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewBufferString(tt.in))
			if !errors.Is(err, ErrInvalidDataset) {
				t.Errorf("Decode() = %v, want ErrInvalidDataset", err)
			}
		})
	}

	if _, err := Decode(bytes.NewBufferString("{not json")); err == nil {
		t.Error("Decode(garbage) succeeded")
	}
}

func TestLoad_Errors(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	_, err := Load(fs, "missing.json")
	assert.Error(t, err)

	w, err := fs.Create("bad.json.gz")
	require.NoError(t, err)
	_, _ = w.Write([]byte("not gzip"))
	require.NoError(t, w.Close())
	_, err = Load(fs, "bad.json.gz")
	assert.ErrorContains(t, err, "gzip")
}

func TestSimulate_Shapes(t *testing.T) {
	for _, corr := range []int{1, 2, 4} {
		cfg := DefaultSimConfig()
		cfg.Antennas, cfg.Timestamps, cfg.Channels, cfg.Correlations = 5, 2, 3, corr
		d, err := Simulate(cfg)
		require.NoError(t, err)
		assert.Equal(t, 10, d.Baselines)
		assert.Equal(t, corr, d.Correlations)
		assert.Len(t, d.Visibilities, 2*10*3*corr)
		assert.InDelta(t, SpeedOfLight/1.4e9, d.Wavelengths[0], 1e-12)
	}
}

func TestSimulate_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *SimConfig)
	}{
		{"one antenna", func(c *SimConfig) { c.Antennas = 1 }},
		{"no timestamps", func(c *SimConfig) { c.Timestamps = 0 }},
		{"three correlations", func(c *SimConfig) { c.Correlations = 3 }},
		{"zero frequency", func(c *SimConfig) { c.StartFrequency = 0 }},
		{"bad phase centre", func(c *SimConfig) { c.PhaseCentre.Dec = 4 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSimConfig()
			tt.mutate(&cfg)
			_, err := Simulate(cfg)
			if !errors.Is(err, ErrInvalidDataset) {
				t.Errorf("Simulate() = %v, want ErrInvalidDataset", err)
			}
		})
	}
}

func TestSimulate_CentredSourceIsConstant(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Antennas, cfg.Timestamps = 4, 4
	cfg.Sources = []Source{{Position: cfg.PhaseCentre, I: 2, Q: 0.5, U: 0.25, V: 0.1}}
	d, err := Simulate(cfg)
	require.NoError(t, err)

	want := []complex128{2.5, complex(0.25, 0.1), complex(0.25, -0.1), 1.5}
	for row := 0; row < d.Rows(); row++ {
		for c := 0; c < d.Channels; c++ {
			for p := 0; p < 4; p++ {
				got := d.Visibilities[d.SampleIndex(row, c, p)]
				if cmplx.Abs(got-want[p]) > 1e-12 {
					t.Fatalf("row %d chan %d corr %d = %v, want %v", row, c, p, got, want[p])
				}
			}
		}
	}
}

func TestSimulate_OffsetSourcePhase(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Antennas, cfg.Timestamps, cfg.Channels, cfg.Correlations = 3, 2, 1, 1
	src := units.SkyCoord{RA: cfg.PhaseCentre.RA + 0.001, Dec: cfg.PhaseCentre.Dec - 0.002}
	cfg.Sources = []Source{{Position: src, I: 1}}
	d, err := Simulate(cfg)
	require.NoError(t, err)

	l, m := units.DirectionCosines(cfg.PhaseCentre, src)
	for row, uvw := range d.UVW {
		u, v := uvw.U/d.Wavelengths[0], uvw.V/d.Wavelengths[0]
		want := cmplx.Rect(1, 2*math.Pi*(u*l+v*m))
		got := d.Visibilities[d.SampleIndex(row, 0, 0)]
		if cmplx.Abs(got-want) > 1e-9 {
			t.Errorf("row %d = %v, want %v", row, got, want)
		}
	}
}

func TestSimulate_Deterministic(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Antennas, cfg.Timestamps = 4, 3
	a, err := Simulate(cfg)
	require.NoError(t, err)
	b, err := Simulate(cfg)
	require.NoError(t, err)
	assert.Equal(t, a.UVW, b.UVW)

	cfg.Seed = 2
	c, err := Simulate(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, a.UVW, c.UVW)
}
