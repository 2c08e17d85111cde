package dataset

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"

	"github.com/banshee-data/bullseye/internal/units"
)

// SpeedOfLight in metres per second.
const SpeedOfLight = 299792458.0

// Source is a polarised point source. Fluxes are Stokes parameters in Jy.
type Source struct {
	Position units.SkyCoord `json:"position"`
	I        float64        `json:"i"`
	Q        float64        `json:"q"`
	U        float64        `json:"u"`
	V        float64        `json:"v"`
}

// SimConfig describes a synthetic east-west style observation.
type SimConfig struct {
	Antennas     int
	Timestamps   int
	Channels     int
	Correlations int

	// StartFrequency and ChannelWidth are in Hz.
	StartFrequency float64
	ChannelWidth   float64

	// ArraySize is the side in metres of the square the antennas are
	// scattered over.
	ArraySize float64
	// HourAngleSpan is the total hour angle swept, in radians.
	HourAngleSpan float64

	PhaseCentre units.SkyCoord
	Sources     []Source
	Seed        int64
}

// DefaultSimConfig returns a small observation of a 1 Jy source at the
// phase centre.
func DefaultSimConfig() SimConfig {
	centre := units.SkyCoord{RA: 0, Dec: 60 * units.DegToRad}
	return SimConfig{
		Antennas:       16,
		Timestamps:     32,
		Channels:       4,
		Correlations:   4,
		StartFrequency: 1.4e9,
		ChannelWidth:   1e6,
		ArraySize:      1000,
		HourAngleSpan:  math.Pi / 3,
		PhaseCentre:    centre,
		Sources:        []Source{{Position: centre, I: 1}},
		Seed:           1,
	}
}

// Simulate generates visibilities of the configured sources. Correlations
// follow the linear feed convention XX=I+Q, XY=U+iV, YX=U-iV, YY=I-Q; with
// two correlations only XX and YY are produced and with one only XX.
//
// A source at direction cosines (l, m) contributes S·exp(+2πi(ul+vm)),
// the same sign the gridder's facet rotation removes.
func Simulate(cfg SimConfig) (*Dataset, error) {
	if cfg.Antennas < 2 {
		return nil, fmt.Errorf("%w: need at least 2 antennas, got %d", ErrInvalidDataset, cfg.Antennas)
	}
	if cfg.Timestamps <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("%w: timestamps and channels must be positive", ErrInvalidDataset)
	}
	if !(cfg.StartFrequency > 0) || cfg.StartFrequency+float64(cfg.Channels-1)*cfg.ChannelWidth <= 0 {
		return nil, fmt.Errorf("%w: channel frequencies must be positive", ErrInvalidDataset)
	}

	if cfg.Correlations != 1 && cfg.Correlations != 2 && cfg.Correlations != 4 {
		return nil, fmt.Errorf("%w: correlation count must be 1, 2 or 4, got %d", ErrInvalidDataset, cfg.Correlations)
	}
	if err := cfg.PhaseCentre.Validate(); err != nil {
		return nil, fmt.Errorf("%w: phase centre: %v", ErrInvalidDataset, err)
	}

	baselines := cfg.Antennas * (cfg.Antennas - 1) / 2
	d := New(cfg.Timestamps, baselines, cfg.Channels, cfg.Correlations)
	d.PhaseCentre = cfg.PhaseCentre

	for c := range d.Wavelengths {
		d.Wavelengths[c] = SpeedOfLight / (cfg.StartFrequency + float64(c)*cfg.ChannelWidth)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	type enu struct{ x, y float64 }
	ants := make([]enu, cfg.Antennas)
	for i := range ants {
		ants[i] = enu{
			x: (rng.Float64() - 0.5) * cfg.ArraySize,
			y: (rng.Float64() - 0.5) * cfg.ArraySize,
		}
	}

	type lm struct{ l, m float64 }
	offsets := make([]lm, len(cfg.Sources))
	for i, s := range cfg.Sources {
		offsets[i].l, offsets[i].m = units.DirectionCosines(cfg.PhaseCentre, s.Position)
	}

	sinDec, cosDec := math.Sincos(cfg.PhaseCentre.Dec)
	for t := 0; t < cfg.Timestamps; t++ {
		h := 0.0
		if cfg.Timestamps > 1 {
			h = cfg.HourAngleSpan * (float64(t)/float64(cfg.Timestamps-1) - 0.5)
		}
		sinH, cosH := math.Sincos(h)

		b := 0
		for a1 := 0; a1 < cfg.Antennas; a1++ {
			for a2 := a1 + 1; a2 < cfg.Antennas; a2++ {
				lx := ants[a2].x - ants[a1].x
				ly := ants[a2].y - ants[a1].y
				uvw := UVW{
					U: sinH*lx + cosH*ly,
					V: -sinDec*cosH*lx + sinDec*sinH*ly,
					W: cosDec*cosH*lx - cosDec*sinH*ly,
				}
				row := d.RowIndex(t, b)
				d.UVW[row] = uvw

				for c, lambda := range d.Wavelengths {
					u, v := uvw.U/lambda, uvw.V/lambda
					var xx, xy, yx, yy complex128
					for i, s := range cfg.Sources {
						ph := cmplx.Rect(1, 2*math.Pi*(u*offsets[i].l+v*offsets[i].m))
						xx += complex(s.I+s.Q, 0) * ph
						xy += complex(s.U, s.V) * ph
						yx += complex(s.U, -s.V) * ph
						yy += complex(s.I-s.Q, 0) * ph
					}
					corr := []complex128{xx, xy, yx, yy}
					switch cfg.Correlations {
					case 1:
						corr = corr[:1]
					case 2:
						corr = []complex128{xx, yy}
					}
					for p, val := range corr {
						d.Visibilities[d.SampleIndex(row, c, p)] = val
					}
				}
				b++
			}
		}
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
