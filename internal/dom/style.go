package dom

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
)

var fontSizeRe = regexp.MustCompile(`(?i)^([0-9]*\.?[0-9]+)\s*(px|pt|em|rem|%)$`)

// computedFontSize resolves the font size of n from inline styles on n and
// its ancestors, falling back to the document default.
func (d *Document) computedFontSize(n *xmlquery.Node) float64 {
	inherited := d.fontSize
	if p := n.Parent; p != nil && p.Type == xmlquery.ElementNode {
		inherited = d.computedFontSize(p)
	}
	for _, a := range n.Attr {
		if attrName(a) != "style" {
			continue
		}
		if v, ok := declaration(a.Value, "font-size"); ok {
			if px, ok := resolveFontSize(v, inherited, d.fontSize); ok {
				return px
			}
		}
	}
	return inherited
}

// declaration returns the last value declared for prop in an inline style.
func declaration(style, prop string) (string, bool) {
	var (
		val   string
		found bool
	)
	for _, decl := range strings.Split(style, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), prop) {
			val = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "!important"))
			found = true
		}
	}
	return val, found
}

func resolveFontSize(v string, inherited, root float64) (float64, bool) {
	m := fontSizeRe.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "px":
		return n, true
	case "pt":
		return n * 4 / 3, true
	case "em":
		return n * inherited, true
	case "rem":
		return n * root, true
	case "%":
		return n / 100 * inherited, true
	}
	return 0, false
}

// withFontSize rewrites style so its only font-size declaration is px.
func withFontSize(style string, px float64) string {
	var decls []string
	for _, decl := range strings.Split(style, ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}
		name, _, _ := strings.Cut(decl, ":")
		if strings.EqualFold(strings.TrimSpace(name), "font-size") {
			continue
		}
		decls = append(decls, decl)
	}
	decls = append(decls, "font-size: "+strconv.FormatFloat(px, 'f', -1, 64)+"px")
	return strings.Join(decls, "; ")
}
