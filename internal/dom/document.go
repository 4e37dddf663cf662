package dom

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// DefaultFontSize is the font size of the document root when no inline
// style sets one.
const DefaultFontSize = 16.0

var (
	ErrInvalidMarkup = errors.New("dom: invalid markup")
	ErrInvalidXPath  = errors.New("dom: invalid xpath")
	ErrNoRoot        = errors.New("dom: document has no root element")
)

const fragmentWrapper = "unitlens-fragment"

// Document is a live host document. All tree access goes through Update,
// which runs one task at a time and flushes the records it produced to
// every subscription as a single batch once the task ends.
type Document struct {
	mu       sync.Mutex
	root     *xmlquery.Node
	fontSize float64
	nodes    map[*xmlquery.Node]*node
	pending  []MutationRecord
	subs     []*Subscription

	ready     chan struct{}
	readyOnce sync.Once
}

// Option configures a Document.
type Option func(*Document)

// WithDefaultFontSize sets the root font size in px.
func WithDefaultFontSize(px float64) Option {
	return func(d *Document) {
		if px > 0 {
			d.fontSize = px
		}
	}
}

// Parse reads an XHTML or HTML-like document. Void elements such as <br>
// need not be closed and HTML entities are understood.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("dom: read: %w", err)
	}
	root, err := xmlquery.ParseWithOptions(bytes.NewReader(data), parserOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMarkup, err)
	}
	if !hasDeclaration(data) {
		dropDeclaration(root)
	}

	d := &Document{
		root:     root,
		fontSize: DefaultFontSize,
		nodes:    make(map[*xmlquery.Node]*node),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.rootElement() == nil {
		return nil, ErrNoRoot
	}
	return d, nil
}

// ParseBytes is Parse over a byte slice.
func ParseBytes(data []byte, opts ...Option) (*Document, error) {
	return Parse(bytes.NewReader(data), opts...)
}

// hasDeclaration reports whether data opens with an XML declaration.
func hasDeclaration(data []byte) bool {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	data = bytes.TrimLeft(data, " \t\r\n")
	const decl = "<?xml"
	if !bytes.HasPrefix(data, []byte(decl)) || len(data) == len(decl) {
		return false
	}
	switch data[len(decl)] {
	case ' ', '\t', '\r', '\n', '?':
		return true
	}
	return false
}

// dropDeclaration removes the xml declaration the parser synthesises for
// sources that have none, so Render reproduces the source prolog.
func dropDeclaration(root *xmlquery.Node) {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.DeclarationNode && c.Data == "xml" {
			xmlquery.RemoveFromTree(c)
			return
		}
	}
}

func parserOptions() xmlquery.ParserOptions {
	return xmlquery.ParserOptions{
		Decoder: &xmlquery.DecoderOptions{
			Strict:    false,
			AutoClose: xml.HTMLAutoClose,
			Entity:    xml.HTMLEntity,
		},
	}
}

// parseFragment parses markup into detached top-level nodes.
func parseFragment(markup string) ([]*xmlquery.Node, error) {
	src := "<" + fragmentWrapper + ">" + markup + "</" + fragmentWrapper + ">"
	doc, err := xmlquery.ParseWithOptions(strings.NewReader(src), parserOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMarkup, err)
	}
	var wrapper *xmlquery.Node
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == fragmentWrapper {
			wrapper = c
			break
		}
	}
	if wrapper == nil {
		return nil, ErrInvalidMarkup
	}

	var out []*xmlquery.Node
	for c := wrapper.FirstChild; c != nil; {
		next := c.NextSibling
		xmlquery.RemoveFromTree(c)
		out = append(out, c)
		c = next
	}
	return out, nil
}

// Root returns the document element. Use it inside Update.
func (d *Document) Root() Node {
	return d.wrap(d.rootElement())
}

func (d *Document) rootElement() *xmlquery.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c
		}
	}
	return nil
}

// Query evaluates an XPath expression against the document and returns the
// matching nodes. Use it inside Update.
func (d *Document) Query(expr string) ([]Node, error) {
	if _, err := xpath.Compile(expr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidXPath, err)
	}
	found, err := xmlquery.QueryAll(d.root, expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidXPath, err)
	}
	out := make([]Node, 0, len(found))
	for _, n := range found {
		out = append(out, d.wrap(n))
	}
	return out, nil
}

// Update runs fn as one task with exclusive access to the tree. Records
// produced while fn runs are delivered afterwards as one batch.
func (d *Document) Update(fn func(root Node) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.flush()
	return fn(d.Root())
}

// Insert appends markup to every element matched by target and returns the
// number of elements written to.
func (d *Document) Insert(target, markup string) (int, error) {
	var count int
	err := d.Update(func(_ Node) error {
		targets, err := d.elements(target)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if _, err := t.AppendMarkup(markup); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// SetAttribute sets name=value on every element matched by target.
func (d *Document) SetAttribute(target, name, value string) (int, error) {
	var count int
	err := d.Update(func(_ Node) error {
		targets, err := d.elements(target)
		if err != nil {
			return err
		}
		for _, t := range targets {
			t.SetAttr(name, value)
			count++
		}
		return nil
	})
	return count, err
}

func (d *Document) elements(expr string) ([]Node, error) {
	found, err := d.Query(expr)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(found, func(n Node) bool { return n.Kind() != ElementNode }), nil
}

// Render serializes the whole document.
func (d *Document) Render() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	var sb strings.Builder
	render(&sb, d.root)
	return []byte(sb.String())
}

// Subscribe registers for mutation batches on the whole document.
func (d *Document) Subscribe(opts ObserveOptions) *Subscription {
	s := newSubscription(d, opts)
	d.mu.Lock()
	d.subs = append(d.subs, s)
	d.mu.Unlock()
	return s
}

func (d *Document) unsubscribe(s *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = slices.DeleteFunc(d.subs, func(x *Subscription) bool { return x == s })
}

// MarkReady fires the one-shot ready signal. Later calls are no-ops.
func (d *Document) MarkReady() {
	d.readyOnce.Do(func() { close(d.ready) })
}

// Ready is closed once the document has finished loading.
func (d *Document) Ready() <-chan struct{} {
	return d.ready
}

func (d *Document) record(r MutationRecord) {
	d.pending = append(d.pending, r)
}

// flush hands pending records to subscriptions. Callers hold d.mu.
func (d *Document) flush() {
	if len(d.pending) == 0 {
		return
	}
	records := d.pending
	d.pending = nil

	for _, s := range d.subs {
		var batch Batch
		for _, r := range records {
			if !s.opts.wants(r.Kind) {
				continue
			}
			if !s.opts.Subtree && !d.targetsRoot(r.Target) {
				continue
			}
			batch = append(batch, r)
		}
		if len(batch) > 0 {
			s.push(batch)
		}
	}
}

// targetsRoot reports whether n is the document element.
func (d *Document) targetsRoot(n Node) bool {
	e, ok := n.(*node)
	return ok && e.n == d.rootElement()
}

func (d *Document) wrap(n *xmlquery.Node) Node {
	if n == nil {
		return nil
	}
	if w, ok := d.nodes[n]; ok {
		return w
	}
	w := &node{n: n, doc: d}
	d.nodes[n] = w
	return w
}

// forget drops the wrappers of n and its descendants once n leaves the tree.
func (d *Document) forget(n *xmlquery.Node) {
	delete(d.nodes, n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.forget(c)
	}
}
