// Package dispatch connects a live document's mutation notifications to the
// conversion engine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/unitlens/internal/dom"
	"github.com/starford/unitlens/internal/engine"
	"github.com/starford/unitlens/internal/metrics"
)

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("dispatch: already started")

// Observe is the subscription requested from the host. Attribute records
// are delivered but not acted on.
var Observe = dom.ObserveOptions{Attributes: true, ChildList: true, Subtree: true}

// Host is the document the dispatcher observes.
type Host interface {
	Subscribe(opts dom.ObserveOptions) *dom.Subscription
	Ready() <-chan struct{}
	Update(fn func(root dom.Node) error) error
}

// AfterBatchFunc is called once a batch or the load scan has been processed.
// trigger is metrics.TriggerMutation or metrics.TriggerLoad.
type AfterBatchFunc func(trigger string, res engine.Result)

// Stats counts the work done by a dispatcher.
type Stats struct {
	Batches   uint64
	FullScans uint64
	Ignored   uint64 // records that were not child-list records
	engine.Result
}

// Dispatcher owns one subscription on one document. It runs a full scan
// when the document signals ready and scans every added node afterwards.
//
// Concurrency model: a single goroutine consumes batches; each batch is
// processed as one Host.Update task.
type Dispatcher struct {
	host       Host
	scanner    *engine.Scanner
	logger     *slog.Logger
	afterBatch AfterBatchFunc

	mu     sync.Mutex
	stats  Stats
	cancel context.CancelFunc // set once by Start, under mu

	loaded chan struct{}
	done   chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAfterBatch registers fn to run after every processed batch.
func WithAfterBatch(fn AfterBatchFunc) Option {
	return func(d *Dispatcher) { d.afterBatch = fn }
}

// New creates a stopped dispatcher.
func New(host Host, scanner *engine.Scanner, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &Dispatcher{
		host:    host,
		scanner: scanner,
		logger:  logger,
		loaded:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start subscribes to the host and begins processing in the background.
// The dispatcher runs until Stop is called or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return ErrAlreadyStarted
	}
	sub := d.host.Subscribe(Observe)

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	batches := make(chan dom.Batch)
	go pump(ctx, sub, batches)
	go d.run(ctx, sub, batches)

	d.logger.Debug("dispatcher: started")
	return nil
}

// Stop cancels the subscription and waits for the loop to exit. It is safe
// to call more than once, and on a dispatcher that never started.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-d.done
}

// Loaded is closed once the full scan triggered by the ready signal has
// been processed, after-batch callback included.
func (d *Dispatcher) Loaded() <-chan struct{} {
	return d.loaded
}

// Done is closed when the loop has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func pump(ctx context.Context, sub *dom.Subscription, out chan<- dom.Batch) {
	defer close(out)
	for {
		b, err := sub.Next(ctx)
		if err != nil {
			return
		}
		select {
		case out <- b:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, sub *dom.Subscription, batches <-chan dom.Batch) {
	defer close(d.done)
	defer sub.Close()

	ready := d.host.Ready()
	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("dispatcher: stopped")
			return

		case <-ready:
			ready = nil
			d.fullScan()
			close(d.loaded)

		case b, ok := <-batches:
			if !ok {
				return
			}
			d.handleBatch(b)
		}
	}
}

// fullScan converts everything present when the document became ready.
func (d *Dispatcher) fullScan() {
	start := time.Now()
	var res engine.Result
	err := d.host.Update(func(root dom.Node) (err error) {
		defer recoverInto(&err)
		res = d.scanner.Scan(root)
		return nil
	})
	d.finish(metrics.TriggerLoad, start, res, 0, err)
}

// handleBatch scans the nodes added by every child-list record of b.
func (d *Dispatcher) handleBatch(b dom.Batch) {
	start := time.Now()
	var (
		res     engine.Result
		ignored uint64
	)
	err := d.host.Update(func(_ dom.Node) (err error) {
		defer recoverInto(&err)
		for _, rec := range b {
			if rec.Kind != dom.ChildList {
				ignored++
				continue
			}
			for _, n := range rec.Added {
				res.Add(d.scanner.Scan(n))
			}
		}
		return nil
	})
	d.finish(metrics.TriggerMutation, start, res, ignored, err)
}

func (d *Dispatcher) finish(trigger string, start time.Time, res engine.Result, ignored uint64, err error) {
	elapsed := time.Since(start)

	d.mu.Lock()
	if trigger == metrics.TriggerLoad {
		d.stats.FullScans++
	} else {
		d.stats.Batches++
	}
	d.stats.Ignored += ignored
	d.stats.Add(res)
	d.mu.Unlock()

	metrics.ObserveBatch(trigger, elapsed, res.Visited, res.Failed)

	if err != nil {
		d.logger.Error("dispatcher: batch aborted",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()))
	}
	if res.Failed > 0 {
		d.logger.Warn("dispatcher: some tags failed",
			slog.String("trigger", trigger),
			slog.Int("failed", res.Failed))
	}
	d.logger.Debug("dispatcher: batch processed",
		slog.String("trigger", trigger),
		slog.Int("visited", res.Visited),
		slog.Int("converted", res.Converted),
		slog.Duration("elapsed", elapsed))

	if d.afterBatch != nil {
		d.afterBatch(trigger, res)
	}
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("dispatch: recovered panic: %v", r)
	}
}
