package dispatch

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/unitlens/internal/dom"
	"github.com/starford/unitlens/internal/engine"
	"github.com/starford/unitlens/internal/metrics"
	"github.com/starford/unitlens/internal/units"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func setup(t *testing.T, src string, opts ...Option) (*dom.Document, *Dispatcher) {
	t.Helper()
	doc, err := dom.ParseBytes([]byte(src))
	require.NoError(t, err)

	table := units.NewTable(units.Options{})
	scanner := engine.NewScanner(engine.NewConverter(table, engine.DefaultOptions()), nil)

	d := New(doc, scanner, nil, opts...)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(d.Stop)
	return doc, d
}

func rendered(doc *dom.Document) string { return string(doc.Render()) }

func TestDispatcher_LoadScan(t *testing.T) {
	src := `<html><body><p>10<abbr class="unit" title="kilometers">km</abbr></p></body></html>`
	doc, d := setup(t, src)

	assert.NotContains(t, rendered(doc), "6.21 mi")
	doc.MarkReady()

	assert.Eventually(t, func() bool {
		return strings.Contains(rendered(doc), "km<br/>6.21 mi")
	}, waitFor, tick)
	assert.Eventually(t, func() bool { return d.Stats().FullScans == 1 }, waitFor, tick)
}

func TestDispatcher_ConvertsInsertedTag(t *testing.T) {
	doc, d := setup(t, `<html><body><div id="feed"></div></body></html>`)
	doc.MarkReady()

	n, err := doc.Insert(`//div[@id="feed"]`, `<p>1,500<abbr class="unit" title="meters">m</abbr></p>`)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	assert.Eventually(t, func() bool {
		return strings.Contains(rendered(doc), "m<br/>4,921 ft</p>")
	}, waitFor, tick)
	assert.Eventually(t, func() bool { return d.Stats().Converted == 1 }, waitFor, tick)
}

func TestDispatcher_DuplicateCoverageConvertsOnce(t *testing.T) {
	doc, d := setup(t, `<html><body></body></html>`)
	doc.MarkReady()

	// The abbr is reported both as a descendant of the new div and on its own.
	err := doc.Update(func(root dom.Node) error {
		body := root.Children()[0]
		added, err := body.AppendMarkup(`<div>10</div>`)
		if err != nil {
			return err
		}
		_, err = added[0].AppendMarkup(`<abbr class="unit" title="miles">mi</abbr>`)
		return err
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return d.Stats().Converted == 1 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.Stats().Converted)
	assert.Equal(t, 1, strings.Count(rendered(doc), "16.09 km"))
}

func TestDispatcher_IgnoresAttributeRecords(t *testing.T) {
	src := `<html><body><p>10<abbr class="unit">km</abbr></p></body></html>`
	doc, d := setup(t, src)
	doc.MarkReady()
	require.Eventually(t, func() bool { return d.Stats().FullScans == 1 }, waitFor, tick)

	n, err := doc.SetAttribute("//abbr", "title", "kilometers")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	assert.Eventually(t, func() bool { return d.Stats().Ignored >= 1 }, waitFor, tick)
	assert.Zero(t, d.Stats().Converted)
	assert.NotContains(t, rendered(doc), "6.21 mi")
}

func TestDispatcher_AfterBatch(t *testing.T) {
	var (
		mu       sync.Mutex
		triggers []string
	)
	doc, _ := setup(t, `<html><body></body></html>`, WithAfterBatch(func(trigger string, _ engine.Result) {
		mu.Lock()
		triggers = append(triggers, trigger)
		mu.Unlock()
	}))
	doc.MarkReady()
	_, err := doc.Insert("//body", `<p>8:00<abbr class="unit" title="minutes per mile">/mi</abbr></p>`)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return slices.Contains(triggers, metrics.TriggerLoad) &&
			slices.Contains(triggers, metrics.TriggerMutation)
	}, waitFor, tick)
}

func TestDispatcher_Stop(t *testing.T) {
	doc, d := setup(t, `<html><body></body></html>`)
	doc.MarkReady()

	d.Stop()
	select {
	case <-d.Done():
	default:
		t.Fatal("done not closed after Stop")
	}
	d.Stop()

	_, err := doc.Insert("//body", `<p>10<abbr class="unit" title="kilometers">km</abbr></p>`)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.NotContains(t, rendered(doc), "6.21 mi")
}

func TestDispatcher_StartTwice(t *testing.T) {
	_, d := setup(t, `<html><body></body></html>`)
	assert.ErrorIs(t, d.Start(context.Background()), ErrAlreadyStarted)
}

func TestDispatcher_ContextCancel(t *testing.T) {
	doc, err := dom.ParseBytes([]byte(`<html><body></body></html>`))
	require.NoError(t, err)
	scanner := engine.NewScanner(engine.NewConverter(units.NewTable(units.Options{}), engine.DefaultOptions()), nil)

	ctx, cancel := context.WithCancel(context.Background())
	d := New(doc, scanner, nil)
	require.NoError(t, d.Start(ctx))
	cancel()

	select {
	case <-d.Done():
	case <-time.After(waitFor):
		t.Fatal("dispatcher did not exit on cancel")
	}
}

func TestDispatcher_LoadedAfterFullScan(t *testing.T) {
	var afterLoad bool
	doc, d := setup(t, `<html><body><p>10<abbr title="kilometers">km</abbr></p></body></html>`,
		WithAfterBatch(func(trigger string, _ engine.Result) {
			if trigger == metrics.TriggerLoad {
				afterLoad = true
			}
		}))

	select {
	case <-d.Loaded():
		t.Fatal("loaded before the ready signal")
	case <-time.After(20 * time.Millisecond):
	}

	doc.MarkReady()
	select {
	case <-d.Loaded():
	case <-time.After(waitFor):
		t.Fatal("loaded not signalled")
	}
	// Everything the load scan did is visible once Loaded is closed.
	assert.True(t, afterLoad)
	assert.Equal(t, uint64(1), d.Stats().FullScans)
	assert.Contains(t, rendered(doc), "km<br/>6.21 mi")
}

func TestDispatcher_ConcurrentStartStop(t *testing.T) {
	doc, err := dom.ParseBytes([]byte(`<html><body/></html>`))
	require.NoError(t, err)
	scanner := engine.NewScanner(engine.NewConverter(units.NewTable(units.Options{}), engine.DefaultOptions()), nil)

	for range 50 {
		d := New(doc, scanner, nil)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = d.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			d.Stop()
		}()
		wg.Wait()
		d.Stop()
	}
}
