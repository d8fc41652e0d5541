// Package extract locates the body text of a poem page. Strategies are tried
// in order and the first one yielding any text wins.
package extract

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Default selectors for gushiwen.cn poem pages. The page carries several
// div.contson blocks; the authoritative one sits in the main left column.
const (
	DefaultPrimarySelector  = "div.main3 div.left div.sons div.cont div.contson"
	DefaultFallbackSelector = "div.contson[id]"
)

// Extractor runs an ordered list of strategies over a page body.
type Extractor struct {
	strategies []Strategy
	logger     *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger attaches a logger used to report which strategy matched.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New builds an Extractor trying strategies in the given order.
func New(strategies []Strategy, opts ...Option) *Extractor {
	e := &Extractor{
		strategies: append([]Strategy(nil), strategies...),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Default builds the paragraph-then-text chain over the primary region
// followed by the same chain over the fallback region. Empty selectors fall
// back to the package defaults.
func Default(primary, fallback string, opts ...Option) *Extractor {
	if primary == "" {
		primary = DefaultPrimarySelector
	}
	if fallback == "" {
		fallback = DefaultFallbackSelector
	}
	p := Region{Selector: primary}
	f := Region{Selector: fallback}
	return New([]Strategy{
		Paragraphs{Region: p},
		Text{Region: p},
		Paragraphs{Region: f},
		Text{Region: f},
	}, opts...)
}

// Extract returns the normalized text units of the page body. A page with no
// recognizable content yields an empty slice and a nil error.
func (e *Extractor) Extract(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse poem page: %w", err)
	}
	for _, s := range e.strategies {
		units := s.Units(doc)
		if len(units) > 0 {
			e.logger.Debug("content strategy matched",
				zap.String("strategy", s.Name()),
				zap.Int("units", len(units)),
			)
			return units, nil
		}
	}
	return []string{}, nil
}
