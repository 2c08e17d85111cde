package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/bullseye/internal/imaging/pipeline"
	"github.com/banshee-data/bullseye/internal/units"
	"github.com/banshee-data/bullseye/internal/version"
)

// ErrNotFound is returned when a run ID has no catalog row.
var ErrNotFound = errors.New("run not found")

// Run is one invocation of the imager.
type Run struct {
	ID           string  `json:"run_id"`
	CreatedAt    int64   `json:"created_at"`
	Input        string  `json:"input_path"`
	OutputPrefix string  `json:"output_prefix"`
	OutputFormat string  `json:"output_format"`
	NpixL        int     `json:"npix_l"`
	NpixM        int     `json:"npix_m"`
	CellLArcsec  float64 `json:"cell_l_arcsec"`
	CellMArcsec  float64 `json:"cell_m_arcsec"`
	Pol          string  `json:"pol"`
	Conv         string  `json:"conv"`
	ConvSupport  int     `json:"conv_sup"`
	ConvOversamp int     `json:"conv_oversamp"`
	Weighting    string  `json:"weighting"`
	Workers      int     `json:"workers"`
	FacetCount   int     `json:"facet_count"`
	Gridded      int64   `json:"gridded"`
	Flagged      int64   `json:"flagged"`
	Clipped      int64   `json:"clipped"`
	Outside      int64   `json:"outside"`
	Degenerate   bool    `json:"degenerate"`
	DurationMS   float64 `json:"duration_ms"`
	Version      string  `json:"version"`
}

// FacetRecord holds the statistics of one facet image of a run.
type FacetRecord struct {
	RunID         string  `json:"run_id"`
	Index         int     `json:"facet_index"`
	RADeg         float64 `json:"ra_deg"`
	DecDeg        float64 `json:"dec_deg"`
	ImagePath     string  `json:"image_path"`
	PSFPath       string  `json:"psf_path,omitempty"`
	Peak          float64 `json:"peak"`
	PeakL         int     `json:"peak_l"`
	PeakM         int     `json:"peak_m"`
	Min           float64 `json:"min"`
	Mean          float64 `json:"mean"`
	StdDev        float64 `json:"std_dev"`
	ClampedPixels int     `json:"clamped_pixels"`
}

// NewRun describes a pipeline run and its outcome. Input, output and timing
// fields are left for the caller.
func NewRun(cfg pipeline.Config, res *pipeline.Result) *Run {
	r := &Run{
		NpixL:        cfg.Geometry.NpixL,
		NpixM:        cfg.Geometry.NpixM,
		CellLArcsec:  cfg.Geometry.CellL / units.ArcsecToRad,
		CellMArcsec:  cfg.Geometry.CellM / units.ArcsecToRad,
		Pol:          cfg.Pol.String(),
		Conv:         cfg.Kernel.String(),
		ConvSupport:  cfg.Support,
		ConvOversamp: cfg.Oversample,
		Weighting:    cfg.Weighting.String(),
		Workers:      cfg.Workers,
	}
	if res != nil {
		r.FacetCount = res.Stats.Facets
		r.Gridded = res.Stats.Gridded
		r.Flagged = res.Stats.Flagged
		r.Clipped = res.Stats.Clipped
		r.Outside = res.Stats.Outside
		r.Degenerate = res.Degenerate
		d := res.Stats.KernelDuration + res.Stats.GridDuration + res.Stats.SynthDuration
		r.DurationMS = float64(d) / float64(time.Millisecond)
	}
	return r
}

// NewFacetRecords summarises every facet image of res. imagePaths and
// psfPaths are indexed by facet and may be shorter than res.Facets.
func NewFacetRecords(runID string, res *pipeline.Result, imagePaths, psfPaths []string) []*FacetRecord {
	out := make([]*FacetRecord, 0, len(res.Facets))
	for i, fi := range res.Facets {
		peak, l, m := fi.Image.Peak()
		rec := &FacetRecord{
			RunID:         runID,
			Index:         i,
			RADeg:         fi.Facet.Centre.RA / units.DegToRad,
			DecDeg:        fi.Facet.Centre.Dec / units.DegToRad,
			Peak:          peak,
			PeakL:         l,
			PeakM:         m,
			Min:           fi.ImageStats.Min,
			Mean:          fi.ImageStats.Mean,
			StdDev:        fi.ImageStats.StdDev,
			ClampedPixels: fi.Image.ClampedPixels,
		}
		if i < len(imagePaths) {
			rec.ImagePath = imagePaths[i]
		}
		if i < len(psfPaths) {
			rec.PSFPath = psfPaths[i]
		}
		out = append(out, rec)
	}
	return out
}

// RunStore persists runs and facet records.
type RunStore struct {
	db *DB
}

// NewRunStore creates a RunStore on db.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// Insert persists a run. An empty ID is filled with a UUID, a zero
// CreatedAt with the current time and an empty Version with the build
// identity.
func (s *RunStore) Insert(r *Run) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = s.db.clock.Now().UnixNano()
	}
	if r.Version == "" {
		r.Version = version.String()
	}
	return retryOnBusy(s.db.clock, func() error {
		_, err := s.db.Exec(`
			INSERT INTO imaging_runs (
				run_id, created_at, input_path, output_prefix, output_format,
				npix_l, npix_m, cell_l_arcsec, cell_m_arcsec,
				pol, conv, conv_sup, conv_oversamp, weighting, workers,
				facet_count, gridded, flagged, clipped, outside, degenerate,
				duration_ms, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.CreatedAt, r.Input, r.OutputPrefix, r.OutputFormat,
			r.NpixL, r.NpixM, r.CellLArcsec, r.CellMArcsec,
			r.Pol, r.Conv, r.ConvSupport, r.ConvOversamp, r.Weighting, r.Workers,
			r.FacetCount, r.Gridded, r.Flagged, r.Clipped, r.Outside, r.Degenerate,
			r.DurationMS, r.Version,
		)
		if err != nil {
			return fmt.Errorf("insert run %s: %w", r.ID, err)
		}
		return nil
	})
}

// InsertFacet persists one facet record. The run must already exist.
func (s *RunStore) InsertFacet(f *FacetRecord) error {
	return retryOnBusy(s.db.clock, func() error {
		_, err := s.db.Exec(`
			INSERT INTO imaging_facets (
				run_id, facet_index, ra_deg, dec_deg, image_path, psf_path,
				peak, peak_l, peak_m, min_value, mean, std_dev, clamped_pixels
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.RunID, f.Index, f.RADeg, f.DecDeg, f.ImagePath, f.PSFPath,
			f.Peak, f.PeakL, f.PeakM, f.Min, f.Mean, f.StdDev, f.ClampedPixels,
		)
		if err != nil {
			return fmt.Errorf("insert facet %d of run %s: %w", f.Index, f.RunID, err)
		}
		return nil
	})
}

// Record inserts a run and all its facets.
func (s *RunStore) Record(r *Run, facets []*FacetRecord) error {
	if err := s.Insert(r); err != nil {
		return err
	}
	for _, f := range facets {
		f.RunID = r.ID
		if err := s.InsertFacet(f); err != nil {
			return err
		}
	}
	return nil
}

const runColumns = `
	run_id, created_at, input_path, output_prefix, output_format,
	npix_l, npix_m, cell_l_arcsec, cell_m_arcsec,
	pol, conv, conv_sup, conv_oversamp, weighting, workers,
	facet_count, gridded, flagged, clipped, outside, degenerate,
	duration_ms, version`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	err := row.Scan(
		&r.ID, &r.CreatedAt, &r.Input, &r.OutputPrefix, &r.OutputFormat,
		&r.NpixL, &r.NpixM, &r.CellLArcsec, &r.CellMArcsec,
		&r.Pol, &r.Conv, &r.ConvSupport, &r.ConvOversamp, &r.Weighting, &r.Workers,
		&r.FacetCount, &r.Gridded, &r.Flagged, &r.Clipped, &r.Outside, &r.Degenerate,
		&r.DurationMS, &r.Version,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Get returns a run by ID, or an error wrapping ErrNotFound.
func (s *RunStore) Get(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT`+runColumns+` FROM imaging_runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// List returns the most recent runs, newest first. A non-positive limit
// returns every run.
func (s *RunStore) List(limit int) ([]*Run, error) {
	var q strings.Builder
	q.WriteString(`SELECT` + runColumns + ` FROM imaging_runs ORDER BY created_at DESC, run_id`)
	args := []interface{}{}
	if limit > 0 {
		q.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}
	rows, err := s.db.Query(q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Facets returns the facet records of a run in facet order.
func (s *RunStore) Facets(runID string) ([]*FacetRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, facet_index, ra_deg, dec_deg, image_path, psf_path,
		       peak, peak_l, peak_m, min_value, mean, std_dev, clamped_pixels
		FROM imaging_facets
		WHERE run_id = ?
		ORDER BY facet_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query facets: %w", err)
	}
	defer rows.Close()

	var out []*FacetRecord
	for rows.Next() {
		var f FacetRecord
		if err := rows.Scan(
			&f.RunID, &f.Index, &f.RADeg, &f.DecDeg, &f.ImagePath, &f.PSFPath,
			&f.Peak, &f.PeakL, &f.PeakM, &f.Min, &f.Mean, &f.StdDev, &f.ClampedPixels,
		); err != nil {
			return nil, fmt.Errorf("scan facet: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
