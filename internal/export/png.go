package export

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/bullseye/internal/imaging/synth"
)

// imageGrid adapts an image to plotter.GridXYZ with l along X and m along Y.
type imageGrid struct {
	im *synth.Image
}

var _ plotter.GridXYZ = imageGrid{}

func (g imageGrid) Dims() (c, r int)   { return g.im.Dims() }
func (g imageGrid) Z(c, r int) float64 { return g.im.At(c, r) }
func (g imageGrid) X(c int) float64    { return float64(c) }
func (g imageGrid) Y(r int) float64    { return float64(r) }

// WritePNG renders im as a heat map.
func WritePNG(w io.Writer, im *synth.Image, meta Metadata) error {
	st := im.Stats()
	hm := plotter.NewHeatMap(imageGrid{im}, palette.Heat(64, 1))
	hm.Min, hm.Max = st.Min, st.Max
	if hm.Min == hm.Max {
		hm.Min, hm.Max = st.Min-0.5, st.Max+0.5
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s %s at %v", meta.Label, meta.Pol, meta.Centre)
	p.X.Label.Text = "l (pixel)"
	p.Y.Label.Text = "m (pixel)"
	p.Add(hm)

	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render heat map: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	return nil
}
