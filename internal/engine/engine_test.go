package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/unitlens/internal/dom"
	"github.com/starford/unitlens/internal/units"
)

func newScanner(t *testing.T, opts Options, copts ...ConverterOption) *Scanner {
	t.Helper()
	table := units.NewTable(units.Options{})
	return NewScanner(NewConverter(table, opts, copts...), nil)
}

func parse(t *testing.T, src string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseBytes([]byte(src))
	require.NoError(t, err)
	return doc
}

func first(t *testing.T, doc *dom.Document, expr string) dom.Node {
	t.Helper()
	nodes, err := doc.Query(expr)
	require.NoError(t, err)
	require.NotEmpty(t, nodes, "no match for %s", expr)
	return nodes[0]
}

func unitDoc(label, value string) string {
	return `<html><body><div id="v">` + value +
		`<abbr class="unit" title="` + label + `">x</abbr></div></body></html>`
}

func TestConvert_Kilometers(t *testing.T) {
	doc := parse(t, unitDoc("kilometers", "10"))
	s := newScanner(t, DefaultOptions())

	res := s.Scan(doc.Root())
	assert.Equal(t, 1, res.Converted)
	assert.Zero(t, res.Failed)

	abbr := first(t, doc, "//abbr")
	_, marked := abbr.Attr(DefaultMarkerAttr)
	assert.True(t, marked)
	assert.Equal(t, "", abbr.TextContent())

	div := first(t, doc, "//div")
	assert.True(t, strings.HasSuffix(div.Markup(), `km<br/>6.21 mi</div>`), div.Markup())
	assert.Equal(t,
		`<div id="v">10<abbr class="unit" title="kilometers" data-converted=""></abbr> km<br/>6.21 mi</div>`,
		div.Markup())
}

func TestConvert_Meters(t *testing.T) {
	doc := parse(t, unitDoc("meters", "1,500"))
	newScanner(t, DefaultOptions()).Scan(doc.Root())
	assert.True(t, strings.HasSuffix(first(t, doc, "//div").Markup(), `m<br/>4,921 ft</div>`))
}

func TestConvert_Pace(t *testing.T) {
	doc := parse(t, unitDoc("minutes per kilometer", "5:00"))
	newScanner(t, DefaultOptions()).Scan(doc.Root())
	assert.True(t, strings.HasSuffix(first(t, doc, "//div").Markup(), `/km<br/>8:03 /mi</div>`))
}

func TestConvert_ReverseDirections(t *testing.T) {
	cases := map[string]string{
		"miles":            "16.09 km",
		"feet":             "1,499 m",
		"minutes per mile": "4:58 /km",
	}
	values := map[string]string{"miles": "10", "feet": "4,921", "minutes per mile": "8:00"}
	for label, want := range cases {
		doc := parse(t, unitDoc(label, values[label]))
		newScanner(t, DefaultOptions()).Scan(doc.Root())
		assert.True(t, strings.HasSuffix(first(t, doc, "//div").Markup(), want+"</div>"), label)
	}
}

func TestConvert_MalformedWritesNaN(t *testing.T) {
	doc := parse(t, unitDoc("kilometers", "abc"))
	res := newScanner(t, DefaultOptions()).Scan(doc.Root())
	assert.Equal(t, 1, res.Converted)
	assert.True(t, strings.HasSuffix(first(t, doc, "//div").Markup(), `km<br/>NaN mi</div>`))
}

func TestConvert_ClampsParentFontSize(t *testing.T) {
	src := `<html><body style="font-size: 28px"><div>10<abbr class="unit" title="kilometers">km</abbr></div>` +
		`<p style="font-size: 14px">3<abbr class="unit" title="miles">mi</abbr></p></body></html>`
	doc := parse(t, src)
	newScanner(t, DefaultOptions()).Scan(doc.Root())

	style, ok := first(t, doc, "//div").Attr("style")
	require.True(t, ok)
	assert.Equal(t, "font-size: 20px", style)

	style, _ = first(t, doc, "//p").Attr("style")
	assert.Equal(t, "font-size: 14px", style)

	_, ok = first(t, doc, "//body").Attr("data-converted")
	assert.False(t, ok)
}

func TestScan_Idempotent(t *testing.T) {
	doc := parse(t, unitDoc("kilometers", "10"))
	s := newScanner(t, DefaultOptions())

	s.Scan(doc.Root())
	before := string(doc.Render())

	res := s.Scan(doc.Root())
	assert.Zero(t, res.Converted)
	assert.Equal(t, before, string(doc.Render()))
}

func TestScan_MixedSubtreeLeavesOthersUntouched(t *testing.T) {
	untouched := []string{
		`<abbr class="unit" title="yards">y</abbr>`,
		`<span title="Kilometers">k</span>`,
		`<abbr class="unit">plain</abbr>`,
		`<em lang="en">kilometers</em>`,
	}
	src := `<html><body>` +
		`<section id="a">` + strings.Join(untouched[:2], "") + `</section>` +
		`<section id="b">` + strings.Join(untouched[2:], "") + `</section>` +
		`<div>10<abbr class="unit" title="kilometers">km</abbr></div>` +
		`</body></html>`
	doc := parse(t, src)

	res := newScanner(t, DefaultOptions()).Scan(doc.Root())
	assert.Equal(t, 1, res.Converted)
	assert.Zero(t, res.Failed)

	assert.Equal(t, `<section id="a">`+strings.Join(untouched[:2], "")+`</section>`, first(t, doc, `//section[@id="a"]`).Markup())
	assert.Equal(t, `<section id="b">`+strings.Join(untouched[2:], "")+`</section>`, first(t, doc, `//section[@id="b"]`).Markup())
}

func TestScan_AnyElementByDefault(t *testing.T) {
	doc := parse(t, `<html><div>10<span title="kilometers">k</span></div></html>`)

	res := newScanner(t, DefaultOptions()).Scan(doc.Root())
	assert.Equal(t, 1, res.Converted)
	assert.True(t, strings.HasSuffix(first(t, doc, "//div").Markup(), `km<br/>6.21 mi</div>`))
}

func TestScan_HostTagFilter(t *testing.T) {
	untouched := []string{
		`<span title="kilometers">k</span>`,
		`<abbr title="kilometers">k</abbr>`,
		`<span class="unit" title="kilometers">k</span>`,
	}
	doc := parse(t, `<html><body><section>`+strings.Join(untouched, "")+`</section>`+
		`<div>10<abbr class="unit" title="kilometers">km</abbr></div></body></html>`)
	opts := DefaultOptions()
	opts.TagName = HostTagName
	opts.TagClass = HostTagClass

	res := newScanner(t, opts).Scan(doc.Root())
	assert.Equal(t, 1, res.Converted)
	assert.Equal(t, `<section>`+strings.Join(untouched, "")+`</section>`, first(t, doc, "//section").Markup())
	assert.True(t, strings.HasSuffix(first(t, doc, "//div").Markup(), `km<br/>6.21 mi</div>`))
}

func TestScan_NilIsNoop(t *testing.T) {
	res := newScanner(t, DefaultOptions()).Scan(nil)
	assert.Equal(t, Result{}, res)
}

func TestScan_ConvertedNodeChildrenStillVisited(t *testing.T) {
	src := `<html><div>1<abbr class="unit" title="kilometers" data-converted="">` +
		`<span>5<abbr class="unit" title="miles">mi</abbr></span></abbr></div></html>`
	doc := parse(t, src)

	res := newScanner(t, DefaultOptions()).Scan(doc.Root())
	assert.Equal(t, 1, res.Converted)
	assert.True(t, strings.HasSuffix(first(t, doc, "//span").Markup(), `mi<br/>8.05 km</span>`))
}

func TestConvert_NoParentFailsWithoutMarking(t *testing.T) {
	doc := parse(t, `<abbr class="unit" title="kilometers">10</abbr>`)
	s := newScanner(t, DefaultOptions())

	res := s.Scan(doc.Root())
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Converted)

	_, marked := doc.Root().Attr(DefaultMarkerAttr)
	assert.False(t, marked)

	_, err := s.Converter().TryConvert(doc.Root())
	assert.ErrorIs(t, err, ErrNoParent)
}

func TestConvert_HookReceivesConversion(t *testing.T) {
	var got []Conversion
	doc := parse(t, unitDoc("kilometers", "\n  10 "))
	s := newScanner(t, DefaultOptions(), WithHook(func(tag dom.Node, c Conversion) {
		assert.Equal(t, "abbr", tag.TagName())
		got = append(got, c)
	}))

	s.Scan(doc.Root())
	require.Len(t, got, 1)
	assert.Equal(t, units.DistanceKmToMi, got[0].Direction)
	assert.Equal(t, "kilometers", got[0].Label)
	assert.Equal(t, "10", got[0].Input)
	assert.Equal(t, "6.21", got[0].Output)
	assert.Equal(t, "mi", got[0].ConvertedSymbol)
}

func TestConvert_MarkerPrecedesTextMutation(t *testing.T) {
	doc := parse(t, unitDoc("kilometers", "10"))
	sub := doc.Subscribe(dom.ObserveOptions{Attributes: true, ChildList: true, Subtree: true})
	defer sub.Close()

	s := newScanner(t, DefaultOptions())
	require.NoError(t, doc.Update(func(root dom.Node) error {
		s.Scan(root)
		return nil
	}))

	batch, err := sub.Next(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, batch)
	assert.Equal(t, dom.Attributes, batch[0].Kind)
	assert.Equal(t, DefaultMarkerAttr, batch[0].AttributeName)
	assert.Equal(t, "abbr", batch[0].Target.TagName())
}

func TestScan_PanickingNodeDoesNotStopSiblings(t *testing.T) {
	doc := parse(t, unitDoc("kilometers", "10"))
	good := first(t, doc, "//div")
	root := &fakeNode{children: []dom.Node{&fakeNode{panics: true}, good}}

	res := newScanner(t, DefaultOptions()).Scan(root)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Converted)
}

func TestScan_PanickingChildrenEnumeration(t *testing.T) {
	root := &fakeNode{panicChildren: true}
	res := newScanner(t, DefaultOptions()).Scan(root)
	assert.Equal(t, 1, res.Failed)
}

// fakeNode is an element that is never a unit tag, optionally panicking.
type fakeNode struct {
	children      []dom.Node
	panics        bool
	panicChildren bool
}

func (f *fakeNode) Kind() dom.NodeKind {
	if f.panics {
		panic("broken node")
	}
	return dom.ElementNode
}
func (f *fakeNode) TagName() string                   { return "div" }
func (f *fakeNode) Attr(string) (string, bool)        { return "", false }
func (f *fakeNode) SetAttr(string, string)            {}
func (f *fakeNode) HasClass(string) bool              { return false }
func (f *fakeNode) Parent() dom.Node                  { return nil }
func (f *fakeNode) ChildNodes() []dom.Node            { return f.Children() }
func (f *fakeNode) TextContent() string               { return "" }
func (f *fakeNode) SetTextContent(string)             {}
func (f *fakeNode) ComputedFontSize() (float64, bool) { return 0, false }
func (f *fakeNode) SetFontSize(float64)               {}
func (f *fakeNode) AppendText(string)                 {}
func (f *fakeNode) AppendLineBreak()                  {}
func (f *fakeNode) AppendMarkup(string) ([]dom.Node, error) {
	return nil, nil
}
func (f *fakeNode) Markup() string { return "" }
func (f *fakeNode) Children() []dom.Node {
	if f.panicChildren {
		panic("broken children")
	}
	return f.children
}
