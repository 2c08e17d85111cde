// Command bullseye-sim writes a simulated visibility dataset of point
// sources for exercising the imager.
//
//	bullseye-sim [flags] <output.json[.gz]>
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/bullseye/internal/config"
	"github.com/banshee-data/bullseye/internal/dataset"
	"github.com/banshee-data/bullseye/internal/fsutil"
	"github.com/banshee-data/bullseye/internal/monitoring"
	"github.com/banshee-data/bullseye/internal/units"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// parseSource parses "ra,dec,I[,Q,U,V]" with the position in arcsec
// relative to the phase centre and fluxes in Jy.
func parseSource(s string, centre units.SkyCoord) (dataset.Source, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 && len(parts) != 6 {
		return dataset.Source{}, fmt.Errorf("source %q must be ra,dec,I or ra,dec,I,Q,U,V", s)
	}
	v := make([]float64, 6)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return dataset.Source{}, fmt.Errorf("source %q: %w", s, err)
		}
		v[i] = f
	}
	pos := units.SkyCoord{
		RA:  centre.RA + v[0]*units.ArcsecToRad,
		Dec: centre.Dec + v[1]*units.ArcsecToRad,
	}
	if err := pos.Validate(); err != nil {
		return dataset.Source{}, fmt.Errorf("source %q: %v", s, err)
	}
	return dataset.Source{Position: pos, I: v[2], Q: v[3], U: v[4], V: v[5]}, nil
}

func run(args []string, stderr io.Writer) int {
	monitoring.SetLogger(log.New(stderr, "", log.LstdFlags).Printf)
	def := dataset.DefaultSimConfig()

	fs := flag.NewFlagSet("bullseye-sim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		antennas   = fs.Int("antennas", def.Antennas, "number of antennas")
		timestamps = fs.Int("timestamps", def.Timestamps, "number of integrations")
		channels   = fs.Int("channels", def.Channels, "number of channels")
		corrs      = fs.Int("correlations", def.Correlations, "correlations per sample (1, 2 or 4)")
		freq       = fs.Float64("freq", def.StartFrequency, "first channel frequency (Hz)")
		width      = fs.Float64("chan_width", def.ChannelWidth, "channel width (Hz)")
		size       = fs.Float64("array_size", def.ArraySize, "array extent (m)")
		decDeg     = fs.Float64("dec", def.PhaseCentre.Dec/units.DegToRad, "phase centre declination (deg)")
		raDeg      = fs.Float64("ra", def.PhaseCentre.RA/units.DegToRad, "phase centre right ascension (deg)")
		seed       = fs.Int64("seed", def.Seed, "random seed for antenna positions")
		flagFrac   = fs.Float64("flag_fraction", 0, "fraction of rows to flag, spread evenly")
	)
	var srcSpecs []string
	fs.Func("source", "point source ra,dec,I[,Q,U,V] (offsets in arcsec, flux in Jy); repeatable", func(s string) error {
		srcSpecs = append(srcSpecs, s)
		return nil
	})
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: bullseye-sim [flags] <output.json[.gz]>")
		return 1
	}
	if *flagFrac < 0 || *flagFrac > 1 {
		fmt.Fprintf(stderr, "bullseye-sim: %v: flag_fraction must be in [0, 1]\n", config.ErrInvalidConfig)
		return 1
	}

	cfg := def
	cfg.Antennas, cfg.Timestamps, cfg.Channels, cfg.Correlations = *antennas, *timestamps, *channels, *corrs
	cfg.StartFrequency, cfg.ChannelWidth, cfg.ArraySize = *freq, *width, *size
	cfg.PhaseCentre = units.SkyCoord{RA: *raDeg * units.DegToRad, Dec: *decDeg * units.DegToRad}
	cfg.Seed = *seed
	cfg.Sources = []dataset.Source{{Position: cfg.PhaseCentre, I: 1}}
	if len(srcSpecs) > 0 {
		cfg.Sources = cfg.Sources[:0]
		for _, s := range srcSpecs {
			src, err := parseSource(s, cfg.PhaseCentre)
			if err != nil {
				fmt.Fprintf(stderr, "bullseye-sim: %v: %v\n", config.ErrInvalidConfig, err)
				return 1
			}
			cfg.Sources = append(cfg.Sources, src)
		}
	}

	ds, err := dataset.Simulate(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "bullseye-sim: %v\n", err)
		return 1
	}
	if *flagFrac > 0 {
		rows := ds.Rows()
		n := int(*flagFrac * float64(rows))
		for i := 0; i < n; i++ {
			ds.RowFlags[i*rows/n] = true
		}
	}

	out := fs.Arg(0)
	if err := dataset.Save(fsutil.OSFileSystem{}, out, ds); err != nil {
		fmt.Fprintf(stderr, "bullseye-sim: %v\n", err)
		return 1
	}
	monitoring.Logf("wrote %s: %d rows x %d channels x %d correlations, %d source(s), %.1f%% flagged",
		out, ds.Rows(), ds.Channels, ds.Correlations, len(cfg.Sources), 100*ds.FlaggedFraction())
	return 0
}
