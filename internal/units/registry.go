// Package units holds the table of recognised measurement labels and the
// numeric conversions between the metric and imperial form of each quantity.
package units

import (
	"fmt"

	"golang.org/x/text/language"
)

// Kind is the measured quantity.
type Kind int

const (
	Distance Kind = iota
	ElevationGain
	Pace
)

func (k Kind) String() string {
	switch k {
	case Distance:
		return "Distance"
	case ElevationGain:
		return "Elev Gain"
	case Pace:
		return "Pace"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Direction identifies one of the six label → conversion pairings. The
// declaration order is the lookup priority order.
type Direction int

const (
	DistanceKmToMi Direction = iota
	ElevationMToFt
	PaceKmToMi
	DistanceMiToKm
	ElevationFtToM
	PaceMiToKm
)

var directionNames = [...]string{
	DistanceKmToMi: "distance_km_to_mi",
	ElevationMToFt: "elevation_m_to_ft",
	PaceKmToMi:     "pace_km_to_mi",
	DistanceMiToKm: "distance_mi_to_km",
	ElevationFtToM: "elevation_ft_to_m",
	PaceMiToKm:     "pace_mi_to_km",
}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return fmt.Sprintf("Direction(%d)", int(d))
	}
	return directionNames[d]
}

// Kind returns the quantity converted in this direction.
func (d Direction) Kind() Kind {
	switch d {
	case DistanceKmToMi, DistanceMiToKm:
		return Distance
	case ElevationMToFt, ElevationFtToM:
		return ElevationGain
	default:
		return Pace
	}
}

// Unit symbols as rendered next to values.
const (
	SymbolFt    = "ft"
	SymbolKm    = "km"
	SymbolM     = "m"
	SymbolMi    = "mi"
	SymbolPerKm = "/km"
	SymbolPerMi = "/mi"
)

// Full unit names carried in the label attribute of an unconverted tag.
const (
	LabelFeet           = "feet"
	LabelKilometers     = "kilometers"
	LabelMeters         = "meters"
	LabelMiles          = "miles"
	LabelMinutesPerKm   = "minutes per kilometer"
	LabelMinutesPerMile = "minutes per mile"
)

// Spec describes one direction: the unit recognised on the tag, the unit
// appended after conversion and the transform between them.
type Spec struct {
	Direction         Direction
	BaseSymbol        string
	ConvertedSymbol   string
	BaseFullName      string
	ConvertedFullName string
	Convert           func(string) string `json:"-"`
}

// Kind returns the quantity the spec converts.
func (s Spec) Kind() Kind { return s.Direction.Kind() }

// Options tunes number formatting.
type Options struct {
	// Locale drives thousands separators in elevation output.
	Locale language.Tag
	// LegacyPaceRounding keeps a rounded seconds value of 60 as-is
	// ("8:60") instead of carrying it into the minutes.
	LegacyPaceRounding bool
}

// Table maps labels to directional specs.
type Table struct {
	specs   []Spec
	byLabel map[string]Direction
}

// NewTable builds the six-direction table. It panics if two directions
// share a label, since lookups must be unambiguous.
func NewTable(opts Options) *Table {
	c := NewConverter(opts)
	specs := []Spec{
		{DistanceKmToMi, SymbolKm, SymbolMi, LabelKilometers, LabelMiles, c.KmToMi},
		{ElevationMToFt, SymbolM, SymbolFt, LabelMeters, LabelFeet, c.MToFt},
		{PaceKmToMi, SymbolPerKm, SymbolPerMi, LabelMinutesPerKm, LabelMinutesPerMile, c.PacePerKmToPerMi},
		{DistanceMiToKm, SymbolMi, SymbolKm, LabelMiles, LabelKilometers, c.MiToKm},
		{ElevationFtToM, SymbolFt, SymbolM, LabelFeet, LabelMeters, c.FtToM},
		{PaceMiToKm, SymbolPerMi, SymbolPerKm, LabelMinutesPerMile, LabelMinutesPerKm, c.PacePerMiToPerKm},
	}

	byLabel := make(map[string]Direction, len(specs))
	for _, s := range specs {
		if prev, dup := byLabel[s.BaseFullName]; dup {
			panic(fmt.Sprintf("units: label %q claimed by %s and %s", s.BaseFullName, prev, s.Direction))
		}
		byLabel[s.BaseFullName] = s.Direction
	}

	return &Table{specs: specs, byLabel: byLabel}
}

// Lookup returns the spec whose base unit carries label. A miss is the
// normal answer for tags that are not unit tags.
func (t *Table) Lookup(label string) (Spec, bool) {
	d, ok := t.byLabel[label]
	if !ok {
		return Spec{}, false
	}
	return t.specs[d], true
}

// Specs returns every spec in priority order.
func (t *Table) Specs() []Spec {
	out := make([]Spec, len(t.specs))
	copy(out, t.specs)
	return out
}
