package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/bullseye/internal/httputil"
)

// AttachAdminRoutes mounts the tsweb debug index on mux with a tailsql
// console over the catalog.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Imaging catalog",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	return nil
}

// Handler serves the run listing and previews:
//
//	GET /runs                  JSON list (?limit=n, default 50)
//	GET /runs/{id}             JSON run with its facets
//	GET /runs/{id}/preview     echarts facet statistics page
type Handler struct {
	store *RunStore
}

// NewHandler returns a Handler over store.
func NewHandler(store *RunStore) *Handler {
	return &Handler{store: store}
}

// Register adds the handler's routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /runs", h.handleList)
	mux.HandleFunc("GET /runs/{id}", h.handleGet)
	mux.HandleFunc("GET /runs/{id}/preview", h.PreviewHandler)
}

type runDetail struct {
	*Run
	Facets []*FacetRecord `json:"facets"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 || parsed > 1000 {
			httputil.BadRequest(w, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}
	runs, err := h.store.List(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if runs == nil {
		runs = []*Run{}
	}
	httputil.WriteJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	run, facets, ok := h.load(w, r.PathValue("id"))
	if !ok {
		return
	}
	if facets == nil {
		facets = []*FacetRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, runDetail{Run: run, Facets: facets})
}

// PreviewHandler renders the peak and RMS of each facet of a run as a bar
// chart.
func (h *Handler) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	run, facets, ok := h.load(w, r.PathValue("id"))
	if !ok {
		return
	}

	x := make([]string, 0, len(facets))
	peaks := make([]opts.BarData, 0, len(facets))
	rms := make([]opts.BarData, 0, len(facets))
	for _, f := range facets {
		x = append(x, fmt.Sprintf("facet %d", f.Index))
		peaks = append(peaks, opts.BarData{Value: f.Peak})
		rms = append(rms, opts.BarData{Value: f.StdDev})
	}

	title := fmt.Sprintf("%s %dx%d (%s)", run.Pol, run.NpixL, run.NpixM, run.Conv)
	subtitle := fmt.Sprintf("%s, %d gridded, %d flagged, %d outside",
		time.Unix(0, run.CreatedAt).UTC().Format(time.RFC3339), run.Gridded, run.Flagged, run.Outside)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Run " + run.ID, Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("peak", peaks, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"})).
		AddSeries("rms", rms)

	page := components.NewPage()
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) load(w http.ResponseWriter, id string) (*Run, []*FacetRecord, bool) {
	run, err := h.store.Get(id)
	if errors.Is(err, ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return nil, nil, false
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return nil, nil, false
	}
	facets, err := h.store.Facets(id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return nil, nil, false
	}
	return run, facets, true
}
