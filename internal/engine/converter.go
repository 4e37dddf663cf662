// Package engine converts unit tags in place. Converter handles one tag and
// is the at-most-once boundary; Scanner walks a subtree and applies it.
package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/starford/unitlens/internal/dom"
	"github.com/starford/unitlens/internal/units"
)

// Defaults mirror the markup produced by the host pages.
const (
	DefaultLabelAttr     = "title"
	DefaultMarkerAttr    = "data-converted"
	DefaultFontSizeLimit = 20.0
)

// Tag filter the host pages use for their unit tags. It is off by default:
// any element whose label attribute names a known unit is converted.
const (
	HostTagName  = "abbr"
	HostTagClass = "unit"
)

var (
	// ErrNoParent is returned for a matching tag that has no parent element
	// to receive the converted value.
	ErrNoParent = errors.New("engine: unit tag has no parent element")
	// ErrStructural wraps a panic raised by the host node implementation.
	ErrStructural = errors.New("engine: unexpected node structure")
)

// Conversion describes one completed tag conversion.
type Conversion struct {
	Direction       units.Direction
	Label           string
	Input           string
	Output          string
	BaseSymbol      string
	ConvertedSymbol string
}

// Options selects which nodes count as unit tags and how they are marked.
type Options struct {
	LabelAttr  string
	MarkerAttr string
	// TagName and TagClass restrict candidates; empty disables the check.
	TagName       string
	TagClass      string
	FontSizeLimit float64
}

// DefaultOptions recognises unit tags by label alone. Set TagName and
// TagClass to HostTagName and HostTagClass to accept only abbr.unit.
func DefaultOptions() Options {
	return Options{
		LabelAttr:     DefaultLabelAttr,
		MarkerAttr:    DefaultMarkerAttr,
		FontSizeLimit: DefaultFontSizeLimit,
	}
}

// Converter rewrites a single unit tag.
type Converter struct {
	table *units.Table
	opts  Options
	hook  func(dom.Node, Conversion)
}

// ConverterOption configures a Converter.
type ConverterOption func(*Converter)

// WithHook registers fn to be called after each successful conversion with
// the converted tag.
func WithHook(fn func(tag dom.Node, c Conversion)) ConverterOption {
	return func(c *Converter) { c.hook = fn }
}

// NewConverter creates a Converter. Zero-valued options fall back to the
// defaults, except TagName and TagClass which stay disabled when empty.
func NewConverter(table *units.Table, opts Options, copts ...ConverterOption) *Converter {
	if opts.LabelAttr == "" {
		opts.LabelAttr = DefaultLabelAttr
	}
	if opts.MarkerAttr == "" {
		opts.MarkerAttr = DefaultMarkerAttr
	}
	if opts.FontSizeLimit <= 0 {
		opts.FontSizeLimit = DefaultFontSizeLimit
	}
	c := &Converter{table: table, opts: opts}
	for _, o := range copts {
		o(c)
	}
	return c
}

// Options returns the effective options.
func (c *Converter) Options() Options { return c.opts }

// IsConverted reports whether n carries the converted marker.
func (c *Converter) IsConverted(n dom.Node) bool {
	if n == nil || n.Kind() != dom.ElementNode {
		return false
	}
	_, ok := n.Attr(c.opts.MarkerAttr)
	return ok
}

// isCandidate reports whether n has the recognised tag type.
func (c *Converter) isCandidate(n dom.Node) bool {
	if n.Kind() != dom.ElementNode {
		return false
	}
	if c.opts.TagName != "" && !strings.EqualFold(n.TagName(), c.opts.TagName) {
		return false
	}
	if c.opts.TagClass != "" && !n.HasClass(c.opts.TagClass) {
		return false
	}
	return true
}

// TryConvert converts tag if it is an unconverted unit tag and reports
// whether it was changed. A tag that does not match is not an error.
func (c *Converter) TryConvert(tag dom.Node) (converted bool, err error) {
	if tag == nil {
		return false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			converted = false
			err = fmt.Errorf("%w: %v", ErrStructural, r)
		}
	}()

	if !c.isCandidate(tag) || c.IsConverted(tag) {
		return false, nil
	}
	label, ok := tag.Attr(c.opts.LabelAttr)
	if !ok {
		return false, nil
	}
	spec, ok := c.table.Lookup(label)
	if !ok {
		return false, nil
	}
	parent := tag.Parent()
	if parent == nil {
		return false, ErrNoParent
	}

	// The marker goes on first so a rescan of a half-written tag skips it.
	tag.SetAttr(c.opts.MarkerAttr, "")
	tag.SetTextContent("")

	if size, ok := parent.ComputedFontSize(); ok && size > c.opts.FontSizeLimit {
		parent.SetFontSize(c.opts.FontSizeLimit)
	}

	input := parent.TextContent()
	output := spec.Convert(input)
	parent.AppendText(" " + spec.BaseSymbol)
	parent.AppendLineBreak()
	parent.AppendText(output + " " + spec.ConvertedSymbol)

	if c.hook != nil {
		c.hook(tag, Conversion{
			Direction:       spec.Direction,
			Label:           label,
			Input:           strings.TrimSpace(input),
			Output:          output,
			BaseSymbol:      spec.BaseSymbol,
			ConvertedSymbol: spec.ConvertedSymbol,
		})
	}
	return true, nil
}
