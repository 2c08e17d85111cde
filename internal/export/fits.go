package export

import (
	"fmt"
	"io"

	"github.com/astrogo/fitsio"

	"github.com/banshee-data/bullseye/internal/imaging/synth"
	"github.com/banshee-data/bullseye/internal/units"
	"github.com/banshee-data/bullseye/internal/version"
)

// WriteFITS writes im as a single 32-bit float primary HDU. NAXIS1 runs
// along l and NAXIS2 along m, with an orthographic (SIN) projection centred
// on meta.Centre.
func WriteFITS(w io.Writer, im *synth.Image, meta Metadata) error {
	npixL, npixM := im.Dims()

	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("failed to create FITS stream: %w", err)
	}
	defer f.Close()

	img := fitsio.NewImage(-32, []int{npixL, npixM})
	defer img.Close()

	equinox := 2000.0
	if meta.Epoch != "" {
		if equinox, err = units.ParseEpoch(meta.Epoch); err != nil {
			return err
		}
	}
	st := im.Stats()

	cards := []fitsio.Card{
		{Name: "CTYPE1", Value: "RA---SIN", Comment: "right ascension, orthographic projection"},
		{Name: "CRPIX1", Value: float64(npixL/2 + 1), Comment: "reference pixel (1-based)"},
		{Name: "CRVAL1", Value: meta.Centre.RA / units.DegToRad, Comment: "[deg] facet centre RA"},
		{Name: "CDELT1", Value: -meta.CellL / units.DegToRad, Comment: "[deg] RA decreases with pixel"},
		{Name: "CUNIT1", Value: "deg"},
		{Name: "CTYPE2", Value: "DEC--SIN", Comment: "declination, orthographic projection"},
		{Name: "CRPIX2", Value: float64(npixM/2 + 1), Comment: "reference pixel (1-based)"},
		{Name: "CRVAL2", Value: meta.Centre.Dec / units.DegToRad, Comment: "[deg] facet centre Dec"},
		{Name: "CDELT2", Value: meta.CellM / units.DegToRad, Comment: "[deg]"},
		{Name: "CUNIT2", Value: "deg"},
		{Name: "RADESYS", Value: "FK5"},
		{Name: "EQUINOX", Value: equinox},
		{Name: "BUNIT", Value: "JY/BEAM"},
		{Name: "POL", Value: meta.Pol, Comment: "polarization product"},
		{Name: "OBJECT", Value: meta.Label},
		{Name: "DATAMIN", Value: st.Min},
		{Name: "DATAMAX", Value: st.Max},
		{Name: "ORIGIN", Value: version.String()},
	}
	if err := img.Header().Append(cards...); err != nil {
		return fmt.Errorf("failed to append FITS header cards: %w", err)
	}

	// FITS stores NAXIS1 fastest: element (l, m) lives at m*npixL + l.
	data := make([]float32, npixL*npixM)
	for l := 0; l < npixL; l++ {
		for m := 0; m < npixM; m++ {
			data[m*npixL+l] = float32(im.At(l, m))
		}
	}
	if err := img.Write(data); err != nil {
		return fmt.Errorf("failed to write FITS data: %w", err)
	}
	if err := f.Write(img); err != nil {
		return fmt.Errorf("failed to write FITS HDU: %w", err)
	}
	return nil
}
