package units

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	milesPerKm    = 0.621371
	kmPerMile     = 1.60934
	feetPerMeter  = 3.28084
	metersPerFoot = 0.3048
)

var leadingFloatRe = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?`)

// Converter implements the six conversions. Inputs are the raw text of a
// tag's parent; malformed text produces NaN output rather than an error.
type Converter struct {
	printer    *message.Printer
	legacyPace bool
}

// NewConverter returns a Converter formatting numbers for opts.Locale
// (English when unset).
func NewConverter(opts Options) *Converter {
	tag := opts.Locale
	if tag == language.Und {
		tag = language.AmericanEnglish
	}
	return &Converter{
		printer:    message.NewPrinter(tag),
		legacyPace: opts.LegacyPaceRounding,
	}
}

// KmToMi converts kilometers to miles with two decimals.
func (c *Converter) KmToMi(km string) string {
	return formatFixed2(parseLeadingFloat(km) * milesPerKm)
}

// MiToKm converts miles to kilometers with two decimals.
func (c *Converter) MiToKm(mi string) string {
	return formatFixed2(parseLeadingFloat(mi) * kmPerMile)
}

// MToFt converts meters to whole feet, rounded down and grouped.
func (c *Converter) MToFt(meters string) string {
	return c.formatGrouped(math.Floor(parseGrouped(meters) * feetPerMeter))
}

// FtToM converts feet to whole meters, rounded down and grouped.
func (c *Converter) FtToM(feet string) string {
	return c.formatGrouped(math.Floor(parseGrouped(feet) * metersPerFoot))
}

// PacePerKmToPerMi converts an m:ss pace per kilometer to a pace per mile.
func (c *Converter) PacePerKmToPerMi(pace string) string {
	return c.formatPace(parsePace(pace) * kmPerMile)
}

// PacePerMiToPerKm converts an m:ss pace per mile to a pace per kilometer.
func (c *Converter) PacePerMiToPerKm(pace string) string {
	return c.formatPace(parsePace(pace) / kmPerMile)
}

// parseLeadingFloat reads the longest numeric prefix after leading
// whitespace, ignoring anything that follows. No prefix yields NaN.
func parseLeadingFloat(s string) float64 {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	m := leadingFloatRe.FindString(s)
	if m == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		// Out of range values still carry a sign.
		if errors.Is(err, strconv.ErrRange) {
			return v
		}
		return math.NaN()
	}
	return v
}

// parseGrouped drops thousands separators before parsing.
func parseGrouped(s string) float64 {
	return parseLeadingFloat(strings.ReplaceAll(s, ",", ""))
}

// parsePace returns total minutes for "m:ss". A missing seconds field
// yields NaN.
func parsePace(s string) float64 {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return math.NaN()
	}
	return parseLeadingFloat(parts[0]) + parseLeadingFloat(parts[1])/60
}

func formatFixed2(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func (c *Converter) formatGrouped(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "∞"
	case math.IsInf(v, -1):
		return "-∞"
	}
	if v == 0 {
		v = 0 // no negative zero
	}
	return c.printer.Sprint(number.Decimal(v, number.MaxFractionDigits(0)))
}

func (c *Converter) formatPace(total float64) string {
	if math.IsNaN(total) {
		return "NaN:NaN"
	}
	if math.IsInf(total, 0) {
		return formatFixed2(total) + ":NaN"
	}
	minutes := math.Floor(total)
	seconds := math.Floor((total-minutes)*60 + 0.5)
	if seconds == 60 && !c.legacyPace {
		minutes++
		seconds = 0
	}
	if minutes == 0 {
		minutes = 0
	}
	return fmt.Sprintf("%s:%02.0f", strconv.FormatFloat(minutes, 'f', 0, 64), seconds)
}
