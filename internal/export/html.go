package export

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/bullseye/internal/imaging/synth"
)

// maxHTMLCells bounds each axis of an HTML preview; larger images are
// decimated by a whole-pixel stride.
const maxHTMLCells = 256

// previewStride returns the pixel stride that keeps n within maxHTMLCells.
func previewStride(n int) int {
	if n <= maxHTMLCells {
		return 1
	}
	return (n + maxHTMLCells - 1) / maxHTMLCells
}

// WriteHTML renders im as an interactive echarts heat map.
func WriteHTML(w io.Writer, im *synth.Image, meta Metadata) error {
	npixL, npixM := im.Dims()
	sl, sm := previewStride(npixL), previewStride(npixM)

	var xs, ys []string
	for l := 0; l < npixL; l += sl {
		xs = append(xs, strconv.Itoa(l))
	}
	for m := 0; m < npixM; m += sm {
		ys = append(ys, strconv.Itoa(m))
	}

	data := make([]opts.HeatMapData, 0, len(xs)*len(ys))
	for i, l := 0, 0; l < npixL; i, l = i+1, l+sl {
		for j, m := 0, 0; m < npixM; j, m = j+1, m+sm {
			data = append(data, opts.HeatMapData{Value: [3]interface{}{i, j, im.At(l, m)}})
		}
	}

	st := im.Stats()
	lo, hi := st.Min, st.Max
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "bullseye " + meta.Label, Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s %s", meta.Label, meta.Pol),
			Subtitle: fmt.Sprintf("centre=%v npix=%dx%d stride=%dx%d", meta.Centre, npixL, npixM, sl, sm),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "l"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "m", Data: ys}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)
	hm.SetXAxis(xs).AddSeries(meta.Pol, data)

	if err := hm.Render(w); err != nil {
		return fmt.Errorf("failed to render heat map chart: %w", err)
	}
	return nil
}
