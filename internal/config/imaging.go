package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/banshee-data/bullseye/internal/units"
)

// DefaultConfigPath is the path to the canonical imaging defaults file.
const DefaultConfigPath = "config/imaging.defaults.json"

// ErrInvalidConfig is returned for out-of-range or malformed configuration
// values. Every configuration error is reported before any gridding starts.
var ErrInvalidConfig = errors.New("invalid configuration")

// Default values used when a field is omitted.
const (
	DefaultNpix          = 256
	DefaultCellArcsec    = 1.0
	DefaultPol           = "XX"
	DefaultConv          = "keiser_bessel"
	DefaultConvSupport   = 1
	DefaultConvOversamp  = 1
	DefaultOutputFormat  = "fits"
	DefaultWeighting     = "natural"
	maxConfigFileSizeMiB = 1
)

// ImagingConfig holds imaging parameters. The JSON schema uses the same
// names as the command line flags, so a file can carry any subset of them.
type ImagingConfig struct {
	// Image geometry
	NpixL       *int     `json:"npix_l,omitempty"`
	NpixM       *int     `json:"npix_m,omitempty"`
	CellLArcsec *float64 `json:"cell_l_arcsec,omitempty"`
	CellMArcsec *float64 `json:"cell_m_arcsec,omitempty"`

	// Polarization and convolution
	Pol            *string `json:"pol,omitempty"`
	Conv           *string `json:"conv,omitempty"`
	ConvSupport    *int    `json:"conv_sup,omitempty"`
	ConvOversample *int    `json:"conv_oversamp,omitempty"`

	// Facets as [ra, dec] pairs in arcseconds.
	FacetCentres [][2]float64 `json:"facet_centres,omitempty"`

	OutputFormat *string `json:"output_format,omitempty"`
	Workers      *int    `json:"workers,omitempty"`
	Weighting    *string `json:"weighting,omitempty"`
	PSF          *bool   `json:"psf,omitempty"`
	CatalogPath  *string `json:"catalog_path,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyImagingConfig returns an ImagingConfig with every field unset.
func EmptyImagingConfig() *ImagingConfig {
	return &ImagingConfig{}
}

// DefaultImagingConfig returns a config with every defaulted field set.
func DefaultImagingConfig() *ImagingConfig {
	return &ImagingConfig{
		NpixL:          ptrInt(DefaultNpix),
		NpixM:          ptrInt(DefaultNpix),
		CellLArcsec:    ptrFloat64(DefaultCellArcsec),
		CellMArcsec:    ptrFloat64(DefaultCellArcsec),
		Pol:            ptrString(DefaultPol),
		Conv:           ptrString(DefaultConv),
		ConvSupport:    ptrInt(DefaultConvSupport),
		ConvOversample: ptrInt(DefaultConvOversamp),
		OutputFormat:   ptrString(DefaultOutputFormat),
		Weighting:      ptrString(DefaultWeighting),
		PSF:            ptrBool(false),
	}
}

// LoadImagingConfig loads an ImagingConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Omitted fields
// fall back to the Get* defaults.
func LoadImagingConfig(path string) (*ImagingConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = maxConfigFileSizeMiB * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyImagingConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file
// cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *ImagingConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/imaging/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadImagingConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate range-checks every set field. Enumerated strings (pol, conv,
// output_format, weighting) are resolved by the packages that own them.
func (c *ImagingConfig) Validate() error {
	positiveInts := []struct {
		name string
		v    *int
	}{
		{"npix_l", c.NpixL},
		{"npix_m", c.NpixM},
		{"conv_sup", c.ConvSupport},
		{"conv_oversamp", c.ConvOversample},
	}
	for _, f := range positiveInts {
		if f.v != nil && *f.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, f.name, *f.v)
		}
	}

	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"cell_l_arcsec", c.CellLArcsec},
		{"cell_m_arcsec", c.CellMArcsec},
	} {
		if f.v != nil && !(*f.v > 0) {
			return fmt.Errorf("%w: %s must be positive, got %g", ErrInvalidConfig, f.name, *f.v)
		}
	}

	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative, got %d", ErrInvalidConfig, *c.Workers)
	}

	for i, fc := range c.FacetCentres {
		if err := units.ArcsecCoord(fc[0], fc[1]).Validate(); err != nil {
			return fmt.Errorf("%w: facet centre %d: %v", ErrInvalidConfig, i, err)
		}
	}
	return nil
}

// ApplyOverrides copies every set field of o over c. Facet centres from o
// replace c's list when o has any.
func (c *ImagingConfig) ApplyOverrides(o *ImagingConfig) {
	if o == nil {
		return
	}
	if o.NpixL != nil {
		c.NpixL = o.NpixL
	}
	if o.NpixM != nil {
		c.NpixM = o.NpixM
	}
	if o.CellLArcsec != nil {
		c.CellLArcsec = o.CellLArcsec
	}
	if o.CellMArcsec != nil {
		c.CellMArcsec = o.CellMArcsec
	}
	if o.Pol != nil {
		c.Pol = o.Pol
	}
	if o.Conv != nil {
		c.Conv = o.Conv
	}
	if o.ConvSupport != nil {
		c.ConvSupport = o.ConvSupport
	}
	if o.ConvOversample != nil {
		c.ConvOversample = o.ConvOversample
	}
	if len(o.FacetCentres) > 0 {
		c.FacetCentres = o.FacetCentres
	}
	if o.OutputFormat != nil {
		c.OutputFormat = o.OutputFormat
	}
	if o.Workers != nil {
		c.Workers = o.Workers
	}
	if o.Weighting != nil {
		c.Weighting = o.Weighting
	}
	if o.PSF != nil {
		c.PSF = o.PSF
	}
	if o.CatalogPath != nil {
		c.CatalogPath = o.CatalogPath
	}
}

// GetNpixL returns the npix_l value or the default.
func (c *ImagingConfig) GetNpixL() int {
	if c.NpixL == nil {
		return DefaultNpix
	}
	return *c.NpixL
}

// GetNpixM returns the npix_m value or the default.
func (c *ImagingConfig) GetNpixM() int {
	if c.NpixM == nil {
		return DefaultNpix
	}
	return *c.NpixM
}

// GetCellLArcsec returns the cell_l_arcsec value or the default.
func (c *ImagingConfig) GetCellLArcsec() float64 {
	if c.CellLArcsec == nil {
		return DefaultCellArcsec
	}
	return *c.CellLArcsec
}

// GetCellMArcsec returns the cell_m_arcsec value or the default.
func (c *ImagingConfig) GetCellMArcsec() float64 {
	if c.CellMArcsec == nil {
		return DefaultCellArcsec
	}
	return *c.CellMArcsec
}

// GetPol returns the pol value or the default.
func (c *ImagingConfig) GetPol() string {
	if c.Pol == nil || *c.Pol == "" {
		return DefaultPol
	}
	return *c.Pol
}

// GetConv returns the conv value or the default.
func (c *ImagingConfig) GetConv() string {
	if c.Conv == nil || *c.Conv == "" {
		return DefaultConv
	}
	return *c.Conv
}

// GetConvSupport returns the conv_sup value or the default.
func (c *ImagingConfig) GetConvSupport() int {
	if c.ConvSupport == nil {
		return DefaultConvSupport
	}
	return *c.ConvSupport
}

// GetConvOversample returns the conv_oversamp value or the default.
func (c *ImagingConfig) GetConvOversample() int {
	if c.ConvOversample == nil {
		return DefaultConvOversamp
	}
	return *c.ConvOversample
}

// GetOutputFormat returns the output_format value or the default.
func (c *ImagingConfig) GetOutputFormat() string {
	if c.OutputFormat == nil || *c.OutputFormat == "" {
		return DefaultOutputFormat
	}
	return *c.OutputFormat
}

// GetWorkers returns the workers value, defaulting to one per CPU.
func (c *ImagingConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetWeighting returns the weighting value or the default.
func (c *ImagingConfig) GetWeighting() string {
	if c.Weighting == nil || *c.Weighting == "" {
		return DefaultWeighting
	}
	return *c.Weighting
}

// GetPSF returns whether point spread function images are requested.
func (c *ImagingConfig) GetPSF() bool {
	if c.PSF == nil {
		return false
	}
	return *c.PSF
}

// GetCatalogPath returns the run catalog path, empty when cataloguing is off.
func (c *ImagingConfig) GetCatalogPath() string {
	if c.CatalogPath == nil {
		return ""
	}
	return *c.CatalogPath
}

// GetFacetCentres returns the facet centres in radians.
func (c *ImagingConfig) GetFacetCentres() []units.SkyCoord {
	out := make([]units.SkyCoord, len(c.FacetCentres))
	for i, fc := range c.FacetCentres {
		out[i] = units.ArcsecCoord(fc[0], fc[1])
	}
	return out
}

// ParseFacetCentre parses the command line tuple syntax "(ra,dec)" with
// both values in arcseconds. Surrounding whitespace and the parentheses
// are optional.
func ParseFacetCentre(s string) ([2]float64, error) {
	t := strings.TrimSpace(s)
	t = strings.TrimPrefix(t, "(")
	t = strings.TrimSuffix(t, ")")
	parts := strings.Split(t, ",")
	if len(parts) != 2 {
		return [2]float64{}, fmt.Errorf("%w: facet centre %q must be \"(ra,dec)\"", ErrInvalidConfig, s)
	}
	var out [2]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return [2]float64{}, fmt.Errorf("%w: facet centre %q: %v", ErrInvalidConfig, s, err)
		}
		out[i] = v
	}
	if err := units.ArcsecCoord(out[0], out[1]).Validate(); err != nil {
		return [2]float64{}, fmt.Errorf("%w: facet centre %q: %v", ErrInvalidConfig, s, err)
	}
	return out, nil
}
