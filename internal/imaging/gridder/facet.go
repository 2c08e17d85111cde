package gridder

import (
	"fmt"

	"github.com/banshee-data/bullseye/internal/units"
)

// Facet is one image-plane tile. A rotating facet phase-shifts every
// visibility so that its Centre becomes the image centre.
type Facet struct {
	Centre units.SkyCoord
	Rotate bool

	dl, dm float64
}

// NewFacet builds a rotating facet centred on centre for data phased to phase.
func NewFacet(phase, centre units.SkyCoord) Facet {
	dl, dm := PhaseOffset(phase, centre)
	return Facet{Centre: centre, Rotate: true, dl: dl, dm: dm}
}

// Facets returns one rotating facet per centre. With no centres it returns
// a single non-rotating facet on the phase centre.
func Facets(phase units.SkyCoord, centres []units.SkyCoord) []Facet {
	if len(centres) == 0 {
		return []Facet{{Centre: phase}}
	}
	out := make([]Facet, len(centres))
	for i, c := range centres {
		out[i] = NewFacet(phase, c)
	}
	return out
}

// Offset returns the (Δl, Δm) the facet rotation applies.
func (f Facet) Offset() (dl, dm float64) { return f.dl, f.dm }

func (f Facet) String() string {
	if !f.Rotate {
		return fmt.Sprintf("facet %v (phase centre)", f.Centre)
	}
	return fmt.Sprintf("facet %v", f.Centre)
}

// PhaseOffset returns the direction-cosine shift that moves the phase
// centre onto centre. Visibilities are multiplied by exp(+2πi(u·Δl + v·Δm));
// the w term is ignored.
func PhaseOffset(phase, centre units.SkyCoord) (dl, dm float64) {
	l, m := units.DirectionCosines(phase, centre)
	return -l, -m
}
