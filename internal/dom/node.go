// Package dom models the host document the conversion engine works on: a
// mutable element tree with attribute, text and inline style access, and a
// change-notification mechanism that reports inserted nodes in batches.
//
// The tree is backed by antchfx/xmlquery. Node methods are not synchronized;
// call them from inside Document.Update.
package dom

import (
	"encoding/xml"
	"strings"

	"github.com/antchfx/xmlquery"
)

// NodeKind classifies a node.
type NodeKind int

const (
	ElementNode NodeKind = iota
	TextNode
	OtherNode
)

// Node is the capability the engine needs from a host document node.
type Node interface {
	Kind() NodeKind
	// TagName is the lower-case element name, empty for non-elements.
	TagName() string
	Attr(name string) (string, bool)
	SetAttr(name, value string)
	HasClass(class string) bool
	// Parent returns the parent element, or nil at the top of the tree.
	Parent() Node
	// Children returns element children only.
	Children() []Node
	// ChildNodes returns every child, text included.
	ChildNodes() []Node
	TextContent() string
	// SetTextContent replaces all children with a single text node.
	SetTextContent(text string)
	// ComputedFontSize resolves the effective font size in px.
	ComputedFontSize() (float64, bool)
	// SetFontSize writes an inline font-size declaration in px.
	SetFontSize(px float64)
	AppendText(text string)
	AppendLineBreak()
	// AppendMarkup parses markup and appends the resulting nodes.
	AppendMarkup(markup string) ([]Node, error)
	// Markup serializes the node and its subtree.
	Markup() string
}

type node struct {
	n   *xmlquery.Node
	doc *Document
}

var _ Node = (*node)(nil)

func (e *node) Kind() NodeKind {
	switch e.n.Type {
	case xmlquery.ElementNode:
		return ElementNode
	case xmlquery.TextNode, xmlquery.CharDataNode:
		return TextNode
	default:
		return OtherNode
	}
}

func (e *node) TagName() string {
	if e.n.Type != xmlquery.ElementNode {
		return ""
	}
	return strings.ToLower(e.n.Data)
}

func (e *node) Attr(name string) (string, bool) {
	for _, a := range e.n.Attr {
		if attrName(a) == name {
			return a.Value, true
		}
	}
	return "", false
}

func (e *node) SetAttr(name, value string) {
	if e.n.Type != xmlquery.ElementNode {
		return
	}
	e.setAttr(name, value)
	e.doc.record(MutationRecord{Kind: Attributes, Target: e, AttributeName: name})
}

func (e *node) setAttr(name, value string) {
	for i, a := range e.n.Attr {
		if attrName(a) == name {
			e.n.Attr[i].Value = value
			return
		}
	}
	e.n.Attr = append(e.n.Attr, xmlquery.Attr{Name: xml.Name{Local: name}, Value: value})
}

func (e *node) HasClass(class string) bool {
	v, ok := e.Attr("class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

func (e *node) Parent() Node {
	p := e.n.Parent
	if p == nil || p.Type != xmlquery.ElementNode {
		return nil
	}
	return e.doc.wrap(p)
}

func (e *node) Children() []Node {
	var out []Node
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			out = append(out, e.doc.wrap(c))
		}
	}
	return out
}

func (e *node) ChildNodes() []Node {
	var out []Node
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, e.doc.wrap(c))
	}
	return out
}

func (e *node) TextContent() string {
	var sb strings.Builder
	collectText(&sb, e.n)
	return sb.String()
}

func collectText(sb *strings.Builder, n *xmlquery.Node) {
	switch n.Type {
	case xmlquery.TextNode, xmlquery.CharDataNode:
		sb.WriteString(n.Data)
	case xmlquery.ElementNode, xmlquery.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collectText(sb, c)
		}
	}
}

func (e *node) SetTextContent(text string) {
	switch e.n.Type {
	case xmlquery.TextNode, xmlquery.CharDataNode:
		e.n.Data = text
		e.doc.record(MutationRecord{Kind: CharacterData, Target: e})
		return
	case xmlquery.ElementNode:
	default:
		return
	}

	for c := e.n.FirstChild; c != nil; {
		next := c.NextSibling
		xmlquery.RemoveFromTree(c)
		e.doc.forget(c)
		c = next
	}

	rec := MutationRecord{Kind: ChildList, Target: e}
	if text != "" {
		t := &xmlquery.Node{Type: xmlquery.TextNode, Data: text}
		xmlquery.AddChild(e.n, t)
		rec.Added = []Node{e.doc.wrap(t)}
	}
	e.doc.record(rec)
}

func (e *node) ComputedFontSize() (float64, bool) {
	if e.n.Type != xmlquery.ElementNode {
		return 0, false
	}
	return e.doc.computedFontSize(e.n), true
}

func (e *node) SetFontSize(px float64) {
	if e.n.Type != xmlquery.ElementNode {
		return
	}
	style, _ := e.Attr("style")
	e.SetAttr("style", withFontSize(style, px))
}

func (e *node) AppendText(text string) {
	e.appendChildren(&xmlquery.Node{Type: xmlquery.TextNode, Data: text})
}

func (e *node) AppendLineBreak() {
	e.appendChildren(&xmlquery.Node{Type: xmlquery.ElementNode, Data: "br"})
}

func (e *node) AppendMarkup(markup string) ([]Node, error) {
	nodes, err := parseFragment(markup)
	if err != nil {
		return nil, err
	}
	return e.appendChildren(nodes...), nil
}

func (e *node) appendChildren(children ...*xmlquery.Node) []Node {
	if e.n.Type != xmlquery.ElementNode || len(children) == 0 {
		return nil
	}
	added := make([]Node, 0, len(children))
	for _, c := range children {
		xmlquery.AddChild(e.n, c)
		added = append(added, e.doc.wrap(c))
	}
	e.doc.record(MutationRecord{Kind: ChildList, Target: e, Added: added})
	return added
}

func (e *node) Markup() string {
	var sb strings.Builder
	render(&sb, e.n)
	return sb.String()
}

func attrName(a xmlquery.Attr) string {
	if a.Name.Space != "" {
		return a.Name.Space + ":" + a.Name.Local
	}
	return a.Name.Local
}
