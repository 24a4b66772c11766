// Package parser turns fetched pages into readable text. Parsers are
// registered explicitly in priority order; a designated fallback handles
// everything the specific parsers decline.
package parser

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/webingest/internal/crawler"
)

// ErrNoParser is returned when no parser accepts a page and no fallback is set.
var ErrNoParser = errors.New("no parser accepts page")

// Registry implements crawler.ParserRegistry.
type Registry struct {
	parsers  []crawler.ContentParser
	fallback crawler.ContentParser
}

// NewRegistry builds a registry that tries parsers in the given order before
// the fallback.
func NewRegistry(fallback crawler.ContentParser, parsers ...crawler.ContentParser) *Registry {
	return &Registry{parsers: parsers, fallback: fallback}
}

// Default returns the registry used by the service: documentation-site
// parsing first, generic HTML extraction as the fallback.
func Default() *Registry {
	return NewRegistry(NewGenericParser(), NewDocsParser())
}

// Parse runs the first parser that accepts the page. A panicking parser is
// reported as an error so the caller can count it as a page failure.
func (r *Registry) Parse(page crawler.Page) (content crawler.ParsedContent, err error) {
	p := r.pick(page)
	if p == nil {
		return crawler.ParsedContent{}, ErrNoParser
	}
	defer func() {
		if rec := recover(); rec != nil {
			content = crawler.ParsedContent{}
			err = fmt.Errorf("parser %s panicked: %v", p.Name(), rec)
		}
	}()
	content, err = p.Extract(page)
	if err != nil {
		return crawler.ParsedContent{}, fmt.Errorf("parser %s: %w", p.Name(), err)
	}
	return content, nil
}

// Names lists registered parsers in the order they are tried.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.parsers)+1)
	for _, p := range r.parsers {
		names = append(names, p.Name())
	}
	if r.fallback != nil {
		names = append(names, r.fallback.Name())
	}
	return names
}

func (r *Registry) pick(page crawler.Page) crawler.ContentParser {
	for _, p := range r.parsers {
		if canParse(p, page) {
			return p
		}
	}
	return r.fallback
}

func canParse(p crawler.ContentParser, page crawler.Page) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return p.CanParse(page)
}
