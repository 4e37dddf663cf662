package dom

import (
	"strings"

	"github.com/antchfx/xmlquery"
)

var voidElements = map[string]struct{}{
	"area": {}, "base": {}, "br": {}, "col": {}, "embed": {}, "hr": {}, "img": {},
	"input": {}, "link": {}, "meta": {}, "source": {}, "track": {}, "wbr": {},
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", `"`, "&quot;")
)

// render writes n as XHTML. Empty void elements are self-closed so the
// output parses back to the same tree.
func render(sb *strings.Builder, n *xmlquery.Node) {
	switch n.Type {
	case xmlquery.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			render(sb, c)
		}
	case xmlquery.DeclarationNode:
		sb.WriteString("<?" + n.Data)
		writeAttrs(sb, n)
		sb.WriteString("?>")
	case xmlquery.ElementNode:
		name := n.Data
		if n.Prefix != "" {
			name = n.Prefix + ":" + name
		}
		sb.WriteString("<" + name)
		writeAttrs(sb, n)
		if _, void := voidElements[strings.ToLower(n.Data)]; void && n.FirstChild == nil {
			sb.WriteString("/>")
			return
		}
		sb.WriteString(">")
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			render(sb, c)
		}
		sb.WriteString("</" + name + ">")
	case xmlquery.TextNode:
		textEscaper.WriteString(sb, n.Data)
	case xmlquery.CharDataNode:
		sb.WriteString("<![CDATA[" + n.Data + "]]>")
	case xmlquery.CommentNode:
		sb.WriteString("<!--" + n.Data + "-->")
	}
}

func writeAttrs(sb *strings.Builder, n *xmlquery.Node) {
	for _, a := range n.Attr {
		sb.WriteString(" " + attrName(a) + `="`)
		attrEscaper.WriteString(sb, a.Value)
		sb.WriteString(`"`)
	}
}
