package dom

import (
	"context"
	"errors"
	"sync"
)

// ErrSubscriptionClosed is returned by Next once the subscription is closed
// and drained.
var ErrSubscriptionClosed = errors.New("dom: subscription closed")

// RecordKind is the kind of change a MutationRecord reports.
type RecordKind int

const (
	ChildList RecordKind = iota
	Attributes
	CharacterData
)

func (k RecordKind) String() string {
	switch k {
	case ChildList:
		return "childList"
	case Attributes:
		return "attributes"
	case CharacterData:
		return "characterData"
	default:
		return "unknown"
	}
}

// MutationRecord describes one change. Added is set for ChildList records,
// AttributeName for Attributes records.
type MutationRecord struct {
	Kind          RecordKind
	Target        Node
	Added         []Node
	AttributeName string
}

// Batch is the ordered set of records produced by one Update.
type Batch []MutationRecord

// ObserveOptions selects which records a subscription receives.
type ObserveOptions struct {
	Attributes    bool
	ChildList     bool
	CharacterData bool
	// Subtree extends observation from the document element to every
	// descendant.
	Subtree bool
}

func (o ObserveOptions) wants(k RecordKind) bool {
	switch k {
	case ChildList:
		return o.ChildList
	case Attributes:
		return o.Attributes
	case CharacterData:
		return o.CharacterData
	}
	return false
}

// Subscription is an unbounded, ordered queue of batches. Delivery never
// blocks the writer.
type Subscription struct {
	doc  *Document
	opts ObserveOptions

	mu     sync.Mutex
	queue  []Batch
	closed bool
	notify chan struct{}
}

func newSubscription(doc *Document, opts ObserveOptions) *Subscription {
	return &Subscription{
		doc:    doc,
		opts:   opts,
		notify: make(chan struct{}, 1),
	}
}

// Options returns the options the subscription was registered with.
func (s *Subscription) Options() ObserveOptions { return s.opts }

// Next blocks until a batch is available, the subscription is closed, or
// ctx is done.
func (s *Subscription) Next(ctx context.Context) (Batch, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			b := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return b, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrSubscriptionClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		}
	}
}

// Pending returns the number of undelivered batches.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close detaches the subscription from its document. Queued batches can
// still be drained with Next.
func (s *Subscription) Close() {
	s.doc.unsubscribe(s)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) push(b Batch) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, b)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
