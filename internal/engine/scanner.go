package engine

import (
	"fmt"
	"log/slog"

	"github.com/starford/unitlens/internal/dom"
)

// Result summarises one scan.
type Result struct {
	Visited   int
	Converted int
	Failed    int
}

// Add accumulates r into res.
func (res *Result) Add(r Result) {
	res.Visited += r.Visited
	res.Converted += r.Converted
	res.Failed += r.Failed
}

// Scanner applies a Converter to every node of a subtree.
type Scanner struct {
	conv   *Converter
	logger *slog.Logger
}

// NewScanner creates a Scanner. A nil logger discards output.
func NewScanner(conv *Converter, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scanner{conv: conv, logger: logger}
}

// Converter returns the scanner's converter.
func (s *Scanner) Converter() *Converter { return s.conv }

// Scan walks the subtree rooted at n depth-first in pre-order. Converted
// nodes are skipped but their children are still visited. A failure on one
// node is logged and counted; the walk continues.
func (s *Scanner) Scan(n dom.Node) Result {
	var res Result
	s.scan(n, &res)
	return res
}

func (s *Scanner) scan(n dom.Node, res *Result) {
	if n == nil {
		return
	}
	res.Visited++

	ok, err := s.visit(n)
	switch {
	case err != nil:
		res.Failed++
		s.logger.Warn("scanner: convert failed", slog.String("error", err.Error()))
	case ok:
		res.Converted++
	}

	for _, child := range s.children(n, res) {
		s.scan(child, res)
	}
}

func (s *Scanner) visit(n dom.Node) (converted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			converted = false
			err = fmt.Errorf("%w: %v", ErrStructural, r)
		}
	}()
	if s.conv.IsConverted(n) {
		return false, nil
	}
	return s.conv.TryConvert(n)
}

// children guards against host implementations that panic while
// enumerating.
func (s *Scanner) children(n dom.Node, res *Result) (out []dom.Node) {
	defer func() {
		if r := recover(); r != nil {
			res.Failed++
			s.logger.Warn("scanner: child enumeration failed", slog.Any("panic", r))
			out = nil
		}
	}()
	return n.Children()
}
