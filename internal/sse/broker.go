// Package sse streams workspace events to browsers as Server-Sent Events.
package sse

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/starford/unitlens/internal/metrics"
	"github.com/starford/unitlens/internal/models"
)

// Event types emitted by the broker.
const (
	TypeDocumentOpened  = "document.opened"
	TypeDocumentClosed  = "document.closed"
	TypeDocumentUpdated = "document.updated"
	TypeUnitConverted   = "unit.converted"
)

// Document event kinds accepted by PublishDocumentEvent.
const (
	KindOpened = "opened"
	KindClosed = "closed"
)

// DocumentPayload is the data of the document.* events.
type DocumentPayload struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// ConversionPayload is the data of unit.converted.
type ConversionPayload struct {
	Path string `json:"path"`
	models.Conversion
}

type documentEventReq struct {
	kind       string
	doc        DocumentPayload
	conversion *models.Conversion
}

// Option configures a Broker.
type Option func(*Broker)

// WithKeepAlive sends an SSE comment line to idle clients every d so
// proxies do not drop the connection. Zero disables it.
func WithKeepAlive(d time.Duration) Option {
	return func(b *Broker) { b.keepAlive = d }
}

// WithClientBuffer sets how many frames a slow client may fall behind
// before frames are dropped for it.
func WithClientBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.clientBuffer = n
		}
	}
}

// Broker fans events out to SSE clients.
//
// All mutable state lives in a hub owned by one loop goroutine. Public
// methods hand the loop either an event or a closure to run against the
// hub, so no locks are involved.
type Broker struct {
	keepAlive    time.Duration
	clientBuffer int

	ops       chan func(*hub)
	docEvents chan documentEventReq

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// hub is the loop-owned state.
type hub struct {
	clients    map[chan []byte]struct{}
	lastUpdate map[string]time.Time
	updateMin  time.Duration
	seq        uint64
}

// NewBroker starts a broker. document.updated is emitted at most once per
// updateThrottle for each document.
func NewBroker(updateThrottle time.Duration, opts ...Option) *Broker {
	if updateThrottle <= 0 {
		updateThrottle = 2 * time.Second
	}

	b := &Broker{
		clientBuffer: 64,
		ops:          make(chan func(*hub)),
		docEvents:    make(chan documentEventReq, 256),
		stopCh:       make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	h := &hub{
		clients:    make(map[chan []byte]struct{}),
		lastUpdate: make(map[string]time.Time),
		updateMin:  updateThrottle,
	}
	go b.run(h)
	return b
}

func (b *Broker) run(h *hub) {
	defer close(b.stopped)

	for {
		select {
		case <-b.stopCh:
			for ch := range h.clients {
				close(ch)
			}
			metrics.SetEventClients(0)
			return
		case fn := <-b.ops:
			fn(h)
		case req := <-b.docEvents:
			h.documentEvent(req)
		}
	}
}

// frame encodes one SSE message with a monotonically increasing id.
func frame(id uint64, typ string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("id: ")
	buf.WriteString(strconv.FormatUint(id, 10))
	buf.WriteString("\nevent: ")
	buf.WriteString(typ)
	buf.WriteString("\ndata: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

func (h *hub) broadcast(typ string, data any) {
	h.seq++
	msg, err := frame(h.seq, typ, data)
	if err != nil {
		return
	}
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			// slow client; drop rather than stall the loop
		}
	}
}

func (h *hub) documentEvent(req documentEventReq) {
	switch {
	case req.conversion != nil:
		h.broadcast(TypeUnitConverted, ConversionPayload{Path: req.doc.Path, Conversion: *req.conversion})
	case req.kind == KindOpened:
		h.broadcast(TypeDocumentOpened, req.doc)
	case req.kind == KindClosed:
		delete(h.lastUpdate, req.doc.ID)
		h.broadcast(TypeDocumentClosed, req.doc)
		return
	}

	now := time.Now()
	if now.Sub(h.lastUpdate[req.doc.ID]) >= h.updateMin {
		h.lastUpdate[req.doc.ID] = now
		h.broadcast(TypeDocumentUpdated, req.doc)
	}
}

// do runs fn on the loop goroutine. It reports false once the broker is
// closed.
func (b *Broker) do(fn func(*hub)) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case b.ops <- fn:
		return true
	case <-b.stopped:
		return false
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. The channel is closed on Unsubscribe or
// Close; it comes back already closed from a closed broker.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, b.clientBuffer)
	if !b.do(func(h *hub) {
		h.clients[ch] = struct{}{}
		metrics.SetEventClients(len(h.clients))
	}) {
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.do(func(h *hub) {
		if _, ok := h.clients[ch]; ok {
			delete(h.clients, ch)
			close(ch)
			metrics.SetEventClients(len(h.clients))
		}
	})
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	resp := make(chan int, 1)
	if !b.do(func(h *hub) { resp <- len(h.clients) }) {
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// PublishDocumentEvent publishes document.opened or document.closed. An
// opened document also gets a throttled document.updated.
func (b *Broker) PublishDocumentEvent(kind, id, path string) {
	b.sendDocumentEvent(documentEventReq{kind: kind, doc: DocumentPayload{ID: id, Path: path}})
}

// PublishConversion publishes unit.converted and a throttled
// document.updated for the document that changed.
func (b *Broker) PublishConversion(path string, c models.Conversion) {
	b.sendDocumentEvent(documentEventReq{doc: DocumentPayload{ID: c.DocumentID, Path: path}, conversion: &c})
}

func (b *Broker) sendDocumentEvent(req documentEventReq) {
	if b.closed.Load() {
		return
	}
	select {
	case b.docEvents <- req:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	var tick <-chan time.Time
	if b.keepAlive > 0 {
		t := time.NewTicker(b.keepAlive)
		defer t.Stop()
		tick = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			_, _ = w.Write([]byte(": keepalive\n\n"))
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
