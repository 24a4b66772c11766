package parser

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/webingest/internal/crawler"
)

// GenericParser extracts the main text of any HTML page. Plain-text bodies
// are passed through; other media types produce no content.
type GenericParser struct{}

// NewGenericParser constructs the fallback parser.
func NewGenericParser() *GenericParser { return &GenericParser{} }

// Name implements crawler.ContentParser.
func (*GenericParser) Name() string { return "generic" }

// CanParse accepts every page.
func (*GenericParser) CanParse(crawler.Page) bool { return true }

// Extract implements crawler.ContentParser.
func (*GenericParser) Extract(page crawler.Page) (crawler.ParsedContent, error) {
	if page.ContentType() == "text/plain" {
		return crawler.ParsedContent{Content: collapse(string(page.Body))}, nil
	}
	if !isHTML(page) {
		return crawler.ParsedContent{}, nil
	}
	doc, err := parseDocument(page.Body)
	if err != nil {
		return crawler.ParsedContent{}, fmt.Errorf("parse html: %w", err)
	}
	out := headerFields(doc)
	out.Content = bodyText(doc, "main article", "article", "main", `[role="main"]`, "#content", ".content")
	out.Content = strings.TrimSpace(out.Content)
	return out, nil
}
