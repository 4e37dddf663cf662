package mcpserver

import (
	"fmt"
	"strings"

	"github.com/starford/unitlens/internal/engine"
	"github.com/starford/unitlens/internal/models"
)

// MarkupContract describes how a unit tag must be written for the engine to
// pick it up, for LLM consumers that insert markup into documents.
func MarkupContract(opts engine.Options, us []models.Unit) string {
	tag := opts.TagName
	if tag == "" {
		tag = engine.HostTagName
	}
	class := ""
	if opts.TagClass != "" {
		class = fmt.Sprintf(` class="%s"`, opts.TagClass)
	}

	var sb strings.Builder
	sb.WriteString("# unitlens Unit Markup Contract\n\n")
	sb.WriteString("A unit tag sits directly after the value it measures, inside the element\n")
	sb.WriteString("that holds the value. The whole text of that element is the value.\n\n")
	sb.WriteString("## Shape\n\n```html\n")
	fmt.Fprintf(&sb, "<p>10<%s%s %s=\"kilometers\">km</%s></p>\n", tag, class, opts.LabelAttr, tag)
	sb.WriteString("```\n\nbecomes\n\n```html\n")
	fmt.Fprintf(&sb, "<p>10<%s%s %s=\"kilometers\" %s=\"\"></%s> km<br/>6.21 mi</p>\n",
		tag, class, opts.LabelAttr, opts.MarkerAttr, tag)
	sb.WriteString("```\n\n## Rules\n\n")
	if opts.TagName != "" {
		fmt.Fprintf(&sb, "1. The element MUST be `<%s>`.\n", opts.TagName)
	} else {
		sb.WriteString("1. Any element name is accepted.\n")
	}
	if opts.TagClass != "" {
		fmt.Fprintf(&sb, "2. It MUST carry the class `%s`.\n", opts.TagClass)
	} else {
		sb.WriteString("2. No class is required.\n")
	}
	fmt.Fprintf(&sb, "3. The `%s` attribute MUST be one of the labels below, spelled exactly.\n", opts.LabelAttr)
	fmt.Fprintf(&sb, "4. Never add `%s` yourself; tags carrying it are left alone.\n", opts.MarkerAttr)
	sb.WriteString("5. Distances take decimals (`10.5`). Elevations may use thousands separators (`1,500`).\n")
	sb.WriteString("   Paces are `minutes:seconds` (`5:00`).\n")
	fmt.Fprintf(&sb, "6. The containing element's font size is capped at %gpx after conversion.\n\n", opts.FontSizeLimit)

	sb.WriteString("## Labels\n\n| label | kind | converts to |\n|---|---|---|\n")
	for _, u := range us {
		fmt.Fprintf(&sb, "| %s | %s | %s (%s) |\n", u.Label, u.Kind, u.ConvertedFullName, u.ConvertedSymbol)
	}
	return sb.String()
}
