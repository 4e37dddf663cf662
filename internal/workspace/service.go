// Package workspace owns the set of live documents, each with its own
// mutation dispatcher, and connects their conversions to the ledger, the
// event broker and metrics.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starford/unitlens/internal/apperr"
	"github.com/starford/unitlens/internal/checksum"
	"github.com/starford/unitlens/internal/dispatch"
	"github.com/starford/unitlens/internal/dom"
	"github.com/starford/unitlens/internal/engine"
	"github.com/starford/unitlens/internal/index"
	"github.com/starford/unitlens/internal/metrics"
	"github.com/starford/unitlens/internal/models"
	"github.com/starford/unitlens/internal/sse"
	"github.com/starford/unitlens/internal/storage"
	"github.com/starford/unitlens/internal/units"
)

// Publisher receives document lifecycle and conversion events.
type Publisher interface {
	PublishDocumentEvent(kind, id, path string)
	PublishConversion(path string, c models.Conversion)
}

// Config tunes how documents are parsed and converted.
type Config struct {
	Engine          engine.Options
	DefaultFontSize float64
	// WriteBack renders a document to storage after every batch that
	// converted at least one tag.
	WriteBack bool
}

// Option configures a Service.
type Option func(*Service)

// WithStorage sets the documents directory used by Load, Sync and write-back.
func WithStorage(store storage.Provider) Option {
	return func(s *Service) { s.store = store }
}

// WithLedger records documents and conversions in ledger.
func WithLedger(ledger index.Ledger) Option {
	return func(s *Service) { s.ledger = ledger }
}

// WithPublisher forwards events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service coordinates live documents with storage and the ledger.
type Service struct {
	table  *units.Table
	cfg    Config
	store  storage.Provider
	ledger index.Ledger
	pub    Publisher
	logger *slog.Logger

	// ctx bounds every dispatcher; cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	docs   map[string]*entry
	byPath map[string]string
}

type entry struct {
	id       string
	path     string
	openedAt time.Time
	doc      *dom.Document
	disp     *dispatch.Dispatcher

	converted atomic.Int64
	failed    atomic.Int64

	mu       sync.Mutex
	checksum string
}

func (e *entry) lastChecksum() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checksum
}

func (e *entry) setChecksum(cs string) {
	e.mu.Lock()
	e.checksum = cs
	e.mu.Unlock()
}

func (e *entry) info() models.DocumentInfo {
	return models.DocumentInfo{
		ID:        e.id,
		Path:      e.path,
		Checksum:  e.lastChecksum(),
		OpenedAt:  e.openedAt,
		Converted: int(e.converted.Load()),
		Failed:    int(e.failed.Load()),
	}
}

// New creates an empty workspace.
func New(table *units.Table, cfg Config, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		table:  table,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		docs:   make(map[string]*entry),
		byPath: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Open parses content and makes it a live document under path. A document
// already open under the same path is replaced and keeps its id. Open
// returns once the load scan has converted the tags present in content,
// or earlier if ctx ends first.
func (s *Service) Open(ctx context.Context, path string, content []byte) (*models.DocumentInfo, error) {
	if s.ctx.Err() != nil {
		return nil, fmt.Errorf("workspace: open %s: %w", path, context.Canceled)
	}

	var domOpts []dom.Option
	if s.cfg.DefaultFontSize > 0 {
		domOpts = append(domOpts, dom.WithDefaultFontSize(s.cfg.DefaultFontSize))
	}
	doc, err := dom.ParseBytes(content, domOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrInvalidMarkup, path, err)
	}

	s.mu.RLock()
	id, reopened := s.byPath[path]
	s.mu.RUnlock()
	if reopened {
		s.closeID(id, false)
	} else {
		id = uuid.NewString()
	}

	cs := checksum.Sum(content)
	if s.ledger != nil {
		id, err = s.ledger.UpsertDocument(index.DocumentRow{ID: id, Path: path, Checksum: cs})
		if err != nil {
			return nil, fmt.Errorf("workspace: open %s: %w", path, err)
		}
	}

	e := &entry{
		id:       id,
		path:     path,
		openedAt: time.Now().UTC(),
		doc:      doc,
		checksum: cs,
	}

	logger := s.logger.With(slog.String("document", path))
	conv := engine.NewConverter(s.table, s.cfg.Engine, engine.WithHook(func(_ dom.Node, c engine.Conversion) {
		s.onConversion(e, c)
	}))
	e.disp = dispatch.New(doc, engine.NewScanner(conv, logger), logger,
		dispatch.WithAfterBatch(func(_ string, res engine.Result) {
			s.afterBatch(e, res)
		}))

	if err := e.disp.Start(s.ctx); err != nil {
		return nil, fmt.Errorf("workspace: start dispatcher: %w", err)
	}

	s.mu.Lock()
	s.docs[id] = e
	s.byPath[path] = id
	s.mu.Unlock()

	metrics.DocumentOpened()
	if s.pub != nil {
		s.pub.PublishDocumentEvent(sse.KindOpened, id, path)
	}
	s.logger.Info("workspace: document opened", slog.String("id", id), slog.String("path", path))

	doc.MarkReady()
	select {
	case <-e.disp.Loaded():
	case <-e.disp.Done():
	case <-ctx.Done():
	}

	info := e.info()
	return &info, nil
}

// Load reads path from storage and opens it.
func (s *Service) Load(ctx context.Context, path string) (*models.DocumentInfo, error) {
	if s.store == nil {
		return nil, errors.New("workspace: no storage configured")
	}
	data, err := s.store.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, path)
		}
		return nil, err
	}
	return s.Open(ctx, path, data)
}

// Create opens a document from content, or from storage when content is
// nil. Unless replace is set, a path that is already open is rejected.
func (s *Service) Create(ctx context.Context, path string, content []byte, replace bool) (*models.DocumentInfo, error) {
	if !replace && s.isOpen(path) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrAlreadyExists, path)
	}
	if content == nil {
		return s.Load(ctx, path)
	}
	return s.Open(ctx, path, content)
}

// Get returns the document registered under id.
func (s *Service) Get(_ context.Context, id string) (*models.DocumentInfo, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	info := e.info()
	return &info, nil
}

// List returns every live document ordered by path.
func (s *Service) List(_ context.Context) []models.DocumentInfo {
	s.mu.RLock()
	out := make([]models.DocumentInfo, 0, len(s.docs))
	for _, e := range s.docs {
		out = append(out, e.info())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.DocumentInfo) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// Render serializes the current state of a document.
func (s *Service) Render(_ context.Context, id string) ([]byte, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	return e.doc.Render(), nil
}

// Close stops the document's dispatcher and forgets it. Its ledger history
// is kept.
func (s *Service) Close(_ context.Context, id string) error {
	if !s.closeID(id, true) {
		return fmt.Errorf("%w: document %s", apperr.ErrNotFound, id)
	}
	return nil
}

// closePath closes the document open under path, if any.
func (s *Service) closePath(path string) (string, bool) {
	s.mu.RLock()
	id, ok := s.byPath[path]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	return id, s.closeID(id, true)
}

func (s *Service) closeID(id string, announce bool) bool {
	s.mu.Lock()
	e, ok := s.docs[id]
	if ok {
		delete(s.docs, id)
		if s.byPath[e.path] == id {
			delete(s.byPath, e.path)
		}
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	e.disp.Stop()
	metrics.DocumentClosed()
	if announce && s.pub != nil {
		s.pub.PublishDocumentEvent(sse.KindClosed, id, e.path)
	}
	s.logger.Info("workspace: document closed", slog.String("id", id), slog.String("path", e.path))
	return true
}

// Shutdown closes every document. The service cannot be used afterwards.
func (s *Service) Shutdown() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.closeID(id, true)
	}
	s.cancel()
}

// Insert appends markup to every element of the document matched by the
// XPath target and returns how many elements were written to. The
// dispatcher picks up the resulting mutation.
func (s *Service) Insert(_ context.Context, id, target, markup string) (int, error) {
	e, err := s.entry(id)
	if err != nil {
		return 0, err
	}
	n, err := e.doc.Insert(target, markup)
	if err != nil {
		return 0, mapDOMError(err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: no element matches %q", apperr.ErrInvalidTarget, target)
	}
	return n, nil
}

// SetAttribute sets name=value on every element matched by target. The
// engine does not react to attribute changes.
func (s *Service) SetAttribute(_ context.Context, id, target, name, value string) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: empty attribute name", apperr.ErrInvalidTarget)
	}
	e, err := s.entry(id)
	if err != nil {
		return 0, err
	}
	n, err := e.doc.SetAttribute(target, name, value)
	if err != nil {
		return 0, mapDOMError(err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: no element matches %q", apperr.ErrInvalidTarget, target)
	}
	return n, nil
}

// Convert runs the registry conversion for label on a bare value.
func (s *Service) Convert(label, value string) (models.Conversion, error) {
	spec, ok := s.table.Lookup(label)
	if !ok {
		return models.Conversion{}, fmt.Errorf("%w: %q", apperr.ErrUnknownUnit, label)
	}
	value = strings.TrimSpace(value)
	return models.Conversion{
		Direction: spec.Direction.String(),
		Label:     label,
		Input:     value,
		Output:    spec.Convert(value),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EngineOptions returns the tag recognition settings documents are opened with.
func (s *Service) EngineOptions() engine.Options { return s.cfg.Engine }

// Units describes every registry entry in priority order.
func (s *Service) Units() []models.Unit {
	specs := s.table.Specs()
	out := make([]models.Unit, len(specs))
	for i, sp := range specs {
		out[i] = models.Unit{
			Label:             sp.BaseFullName,
			Kind:              sp.Kind().String(),
			Direction:         sp.Direction.String(),
			BaseSymbol:        sp.BaseSymbol,
			ConvertedSymbol:   sp.ConvertedSymbol,
			BaseFullName:      sp.BaseFullName,
			ConvertedFullName: sp.ConvertedFullName,
		}
	}
	return out
}

// Conversions returns the newest recorded conversions for a document.
func (s *Service) Conversions(_ context.Context, id string, limit int) ([]models.Conversion, error) {
	if s.ledger == nil {
		return []models.Conversion{}, nil
	}
	rows, err := s.ledger.ListConversions(id, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		if _, err := s.entry(id); err != nil {
			return nil, err
		}
	}
	out := make([]models.Conversion, len(rows))
	for i, r := range rows {
		out[i] = models.Conversion{
			DocumentID: r.DocumentID,
			Direction:  r.Direction,
			Label:      r.Label,
			Input:      r.Input,
			Output:     r.Output,
			CreatedAt:  r.CreatedAt,
		}
	}
	return out, nil
}

// Stats returns the ledger's conversion counts per direction.
func (s *Service) Stats(_ context.Context) (map[string]int, error) {
	if s.ledger == nil {
		return map[string]int{}, nil
	}
	return s.ledger.CountByDirection()
}

func (s *Service) entry(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: document %s", apperr.ErrNotFound, id)
	}
	return e, nil
}

// onConversion runs inside the document's update task.
func (s *Service) onConversion(e *entry, c engine.Conversion) {
	direction := c.Direction.String()
	metrics.RecordConversion(direction)

	rec := models.Conversion{
		DocumentID: e.id,
		Direction:  direction,
		Label:      c.Label,
		Input:      c.Input,
		Output:     c.Output,
		CreatedAt:  time.Now().UTC(),
	}
	if s.ledger != nil {
		err := s.ledger.RecordConversion(index.ConversionRow{
			DocumentID: rec.DocumentID,
			Direction:  rec.Direction,
			Label:      rec.Label,
			Input:      rec.Input,
			Output:     rec.Output,
			CreatedAt:  rec.CreatedAt,
		})
		if err != nil {
			s.logger.Warn("workspace: record conversion failed",
				slog.String("path", e.path),
				slog.String("error", err.Error()))
		}
	}
	if s.pub != nil {
		s.pub.PublishConversion(e.path, rec)
	}
}

func (s *Service) afterBatch(e *entry, res engine.Result) {
	e.converted.Add(int64(res.Converted))
	e.failed.Add(int64(res.Failed))

	if s.cfg.WriteBack && res.Converted > 0 && s.store != nil {
		if err := s.writeBack(e); err != nil {
			s.logger.Warn("workspace: write-back failed",
				slog.String("path", e.path),
				slog.String("error", err.Error()))
		}
	}
}

// writeBack stores the rendered document. The checksum is recorded before
// the file changes so the watcher recognises its own write.
func (s *Service) writeBack(e *entry) error {
	data := e.doc.Render()
	cs := checksum.Sum(data)
	if cs == e.lastChecksum() {
		return nil
	}
	e.setChecksum(cs)
	if s.ledger != nil {
		if err := s.ledger.SetChecksum(e.path, cs); err != nil {
			return err
		}
	}
	if err := s.store.Write(e.path, data); err != nil {
		return err
	}
	s.logger.Debug("workspace: written back", slog.String("path", e.path))
	return nil
}

// seenChecksum returns the checksum last read or written for path.
func (s *Service) seenChecksum(path string) string {
	s.mu.RLock()
	id, ok := s.byPath[path]
	e := s.docs[id]
	s.mu.RUnlock()
	if ok && e != nil {
		return e.lastChecksum()
	}
	if s.ledger != nil {
		cs, err := s.ledger.GetChecksum(path)
		if err == nil {
			return cs
		}
	}
	return ""
}

func mapDOMError(err error) error {
	switch {
	case errors.Is(err, dom.ErrInvalidXPath):
		return fmt.Errorf("%w: %v", apperr.ErrInvalidTarget, err)
	case errors.Is(err, dom.ErrInvalidMarkup):
		return fmt.Errorf("%w: %v", apperr.ErrInvalidMarkup, err)
	default:
		return err
	}
}
