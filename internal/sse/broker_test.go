package sse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/unitlens/internal/models"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishDocumentEvent(KindOpened, "d", "a.xhtml")

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: document.opened") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"a.xhtml"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func countType(msgs []string, typ string) int {
	n := 0
	for _, m := range msgs {
		if strings.Contains(m, "\nevent: "+typ+"\n") {
			n++
		}
	}
	return n
}

func TestPublishConversion_UpdateThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	conv := models.Conversion{DocumentID: "doc-1", Direction: "distance_km_to_mi", Label: "kilometers", Input: "10", Output: "6.21"}
	b.PublishConversion("a.xhtml", conv)
	b.PublishConversion("a.xhtml", conv)
	b.PublishConversion("b.xhtml", models.Conversion{DocumentID: "doc-2", Label: "miles"})

	time.Sleep(50 * time.Millisecond)
	msgs := drain(ch)

	if n := countType(msgs, TypeUnitConverted); n != 3 {
		t.Errorf("unit.converted events = %d, want 3", n)
	}
	if n := countType(msgs, TypeDocumentUpdated); n != 2 {
		t.Errorf("document.updated events = %d, want 2 (one per document)", n)
	}
}

func TestPublishConversion_Payload(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishConversion("run.xhtml", models.Conversion{DocumentID: "d", Direction: "pace_km_to_mi", Label: "minutes per kilometer", Input: "5:00", Output: "8:03"})

	select {
	case msg := <-ch:
		parts := strings.SplitN(string(msg), "data: ", 2)
		if len(parts) != 2 {
			t.Fatalf("malformed message %q", msg)
		}
		var got map[string]string
		if err := json.Unmarshal([]byte(strings.TrimSpace(parts[1])), &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got["path"] != "run.xhtml" || got["output"] != "8:03" || got["document_id"] != "d" {
			t.Errorf("payload = %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishDocumentEvent(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishDocumentEvent(KindOpened, "d", "a.xhtml")
	b.PublishDocumentEvent(KindClosed, "d", "a.xhtml")
	// Closing resets the throttle, so reopening reports an update again.
	b.PublishDocumentEvent(KindOpened, "d", "a.xhtml")

	time.Sleep(50 * time.Millisecond)
	msgs := drain(ch)

	if n := countType(msgs, TypeDocumentOpened); n != 2 {
		t.Errorf("document.opened = %d, want 2", n)
	}
	if n := countType(msgs, TypeDocumentClosed); n != 1 {
		t.Errorf("document.closed = %d, want 1", n)
	}
	if n := countType(msgs, TypeDocumentUpdated); n != 2 {
		t.Errorf("document.updated = %d, want 2", n)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishDocumentEvent(KindOpened, "x", "x.xhtml")
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: document.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.PublishDocumentEvent(KindClosed, "d", "a.xhtml")
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.PublishDocumentEvent(KindClosed, "x", "x.xhtml")
	b.PublishConversion("x.xhtml", models.Conversion{DocumentID: "x"})
}

func TestFrameIDsIncrease(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishDocumentEvent(KindClosed, "a", "a.xhtml")
	b.PublishDocumentEvent(KindClosed, "b", "b.xhtml")
	time.Sleep(50 * time.Millisecond)

	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	want := "id: 1\nevent: document.closed\ndata: {\"id\":\"a\",\"path\":\"a.xhtml\"}\n\n"
	if msgs[0] != want {
		t.Errorf("first frame = %q, want %q", msgs[0], want)
	}
	if !strings.HasPrefix(msgs[1], "id: 2\nevent: document.closed\n") {
		t.Errorf("second frame = %q", msgs[1])
	}
}

func TestClientBufferOption(t *testing.T) {
	b := NewBroker(time.Hour, WithClientBuffer(2))
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 5; i++ {
		b.PublishDocumentEvent(KindClosed, "d", "a.xhtml")
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(drain(ch)); n != 2 {
		t.Errorf("delivered %d frames, want 2 with the rest dropped", n)
	}
}

func TestSSEHandler_KeepAlive(t *testing.T) {
	b := NewBroker(time.Hour, WithKeepAlive(20*time.Millisecond))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if !strings.Contains(w.Body.String(), ": keepalive\n\n") {
		t.Errorf("no keepalive in %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}
