// Command bullseye images a visibility dataset into one dirty image per
// facet.
//
//	bullseye [flags] <input-dataset> <output-prefix>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/bullseye/internal/catalog"
	"github.com/banshee-data/bullseye/internal/config"
	"github.com/banshee-data/bullseye/internal/dataset"
	"github.com/banshee-data/bullseye/internal/export"
	"github.com/banshee-data/bullseye/internal/fsutil"
	"github.com/banshee-data/bullseye/internal/imaging/pipeline"
	"github.com/banshee-data/bullseye/internal/monitoring"
	"github.com/banshee-data/bullseye/internal/version"
)

// Exit statuses.
const (
	exitOK         = 0
	exitError      = 1
	exitDegenerate = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// options is the parsed command line.
type options struct {
	configPath string
	showVer    bool
	overrides  *config.ImagingConfig
	input      string
	prefix     string
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("bullseye", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: bullseye [flags] <input-dataset> <output-prefix>\n\nFlags:\n")
		fs.PrintDefaults()
	}

	var (
		npixL        = fs.Int("npix_l", config.DefaultNpix, "image size along l (pixels)")
		npixM        = fs.Int("npix_m", config.DefaultNpix, "image size along m (pixels)")
		cellL        = fs.Float64("cell_l", config.DefaultCellArcsec, "pixel size along l (arcsec)")
		cellM        = fs.Float64("cell_m", config.DefaultCellArcsec, "pixel size along m (arcsec)")
		pol          = fs.String("pol", config.DefaultPol, "polarization: XX, XY, YX, YY, I, Q, U or V")
		conv         = fs.String("conv", config.DefaultConv, "convolution kernel: box, gaussian or keiser_bessel")
		convSup      = fs.Int("conv_sup", config.DefaultConvSupport, "kernel half-support (cells)")
		convOversamp = fs.Int("conv_oversamp", config.DefaultConvOversamp, "kernel oversampling factor")
		outputFormat = fs.String("output_format", config.DefaultOutputFormat, "output format: fits, png or html")
		workers      = fs.Int("workers", 0, "gridding workers (0 = one per CPU)")
		psf          = fs.Bool("psf", false, "also write the point spread function of each facet")
		unweighted   = fs.Bool("unweighted", false, "ignore visibility weights")
		catalogPath  = fs.String("catalog", "", "record the run in this SQLite catalog")
	)
	var facets [][2]float64
	fs.Func("facet_centres", `facet centre "(ra,dec)" in arcsec; repeat for more facets`, func(s string) error {
		fc, err := config.ParseFacetCentre(s)
		if err != nil {
			return err
		}
		facets = append(facets, fc)
		return nil
	})

	o := &options{overrides: config.EmptyImagingConfig()}
	fs.StringVar(&o.configPath, "config", "", "JSON imaging config; flags override its values")
	fs.BoolVar(&o.showVer, "version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	if o.showVer {
		return o, nil
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return nil, fmt.Errorf("%w: expected <input-dataset> <output-prefix>, got %d argument(s)", config.ErrInvalidConfig, fs.NArg())
	}
	o.input, o.prefix = fs.Arg(0), fs.Arg(1)

	// Only flags given explicitly override the config file.
	ov := o.overrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "npix_l":
			ov.NpixL = npixL
		case "npix_m":
			ov.NpixM = npixM
		case "cell_l":
			ov.CellLArcsec = cellL
		case "cell_m":
			ov.CellMArcsec = cellM
		case "pol":
			ov.Pol = pol
		case "conv":
			ov.Conv = conv
		case "conv_sup":
			ov.ConvSupport = convSup
		case "conv_oversamp":
			ov.ConvOversample = convOversamp
		case "output_format":
			ov.OutputFormat = outputFormat
		case "workers":
			ov.Workers = workers
		case "psf":
			ov.PSF = psf
		case "unweighted":
			if *unweighted {
				w := "unweighted"
				ov.Weighting = &w
			}
		case "catalog":
			ov.CatalogPath = catalogPath
		}
	})
	ov.FacetCentres = facets
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	monitoring.SetLogger(log.New(stderr, "", log.LstdFlags).Printf)

	o, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "bullseye: %v\n", err)
		return exitError
	}
	if o.showVer {
		fmt.Fprintln(stdout, version.String())
		return exitOK
	}

	ic := config.EmptyImagingConfig()
	if o.configPath != "" {
		if ic, err = config.LoadImagingConfig(o.configPath); err != nil {
			fmt.Fprintf(stderr, "bullseye: %v\n", err)
			return exitError
		}
	}
	ic.ApplyOverrides(o.overrides)

	cfg, err := pipeline.FromImagingConfig(ic)
	if err != nil {
		fmt.Fprintf(stderr, "bullseye: %v\n", err)
		return exitError
	}
	format, err := export.ParseFormat(ic.GetOutputFormat())
	if err != nil {
		fmt.Fprintf(stderr, "bullseye: %v: %v\n", config.ErrInvalidConfig, err)
		return exitError
	}

	osfs := fsutil.OSFileSystem{}
	ds, err := dataset.Load(osfs, o.input)
	if err != nil {
		fmt.Fprintf(stderr, "bullseye: %v\n", err)
		return exitError
	}
	monitoring.Logf("loaded %s: %d rows, %d channels, %d correlations, %.1f%% flagged",
		o.input, ds.Rows(), ds.Channels, ds.Correlations, 100*ds.FlaggedFraction())

	res, runErr := pipeline.Run(ctx, ds, cfg)
	degenerate := errors.Is(runErr, pipeline.ErrDegenerateImage)
	if runErr != nil && !degenerate {
		fmt.Fprintf(stderr, "bullseye: %v\n", runErr)
		return exitError
	}

	meta := export.Metadata{
		NpixL: cfg.Geometry.NpixL,
		NpixM: cfg.Geometry.NpixM,
		CellL: cfg.Geometry.CellL,
		CellM: cfg.Geometry.CellM,
		Pol:   cfg.Pol.String(),
		Epoch: ds.Epoch,
	}
	exporter := &export.Exporter{FS: osfs}
	paths, err := exporter.WriteResult(o.prefix, res, meta, format)
	if err != nil {
		fmt.Fprintf(stderr, "bullseye: %v\n", err)
		return exitError
	}
	for _, p := range paths {
		fmt.Fprintln(stdout, p)
	}

	if path := ic.GetCatalogPath(); path != "" {
		if err := record(path, o, cfg, res, format); err != nil {
			fmt.Fprintf(stderr, "bullseye: %v\n", err)
			return exitError
		}
	}

	if degenerate {
		fmt.Fprintf(stderr, "bullseye: %v\n", runErr)
		return exitDegenerate
	}
	return exitOK
}

// record stores the run and its facet statistics in the catalog at path.
func record(path string, o *options, cfg pipeline.Config, res *pipeline.Result, format export.Format) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	db, err := catalog.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	n := len(res.Facets)
	imagePaths := make([]string, n)
	var psfPaths []string
	for i, fi := range res.Facets {
		imagePaths[i] = export.Filename(o.prefix, i, n, false, format)
		if fi.PSF != nil {
			psfPaths = append(psfPaths, export.Filename(o.prefix, i, n, true, format))
		}
	}

	run := catalog.NewRun(cfg, res)
	run.Input = o.input
	run.OutputPrefix = o.prefix
	run.OutputFormat = format.String()
	if err := catalog.NewRunStore(db).Record(run, catalog.NewFacetRecords("", res, imagePaths, psfPaths)); err != nil {
		return err
	}
	monitoring.Logf("recorded run %s in %s", run.ID, path)
	return nil
}
