package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webingest/internal/crawler"
)

// docsSite describes how one documentation generator lays out its pages.
type docsSite struct {
	name      string
	generator string
	markers   []string
	content   []string
}

var docsSites = []docsSite{
	{
		name:      "Docusaurus",
		generator: "docusaurus",
		markers:   []string{"#__docusaurus", ".theme-doc-markdown"},
		content:   []string{".theme-doc-markdown", "article .markdown", "article"},
	},
	{
		name:      "MkDocs",
		generator: "mkdocs",
		markers:   []string{".md-content", "div.rst-content"},
		content:   []string{".md-content article", ".md-content", `div[role="main"]`},
	},
	{
		name:      "Sphinx",
		generator: "sphinx",
		markers:   []string{"div.sphinxsidebar", "div.bodywrapper"},
		content:   []string{`div[role="main"]`, "div.body", "div.document"},
	},
	{
		name:      "VitePress",
		generator: "vitepress",
		markers:   []string{".VPDoc", ".vp-doc"},
		content:   []string{".vp-doc", ".VPDoc main"},
	},
	{
		name:      "Hugo",
		generator: "hugo",
		content:   []string{"main article", "article", "main", ".td-content"},
	},
}

// DocsParser handles pages produced by common documentation generators,
// reading only the documentation body and skipping site chrome.
type DocsParser struct{}

// NewDocsParser constructs a DocsParser.
func NewDocsParser() *DocsParser { return &DocsParser{} }

// Name implements crawler.ContentParser.
func (*DocsParser) Name() string { return "docs" }

// CanParse reports whether the page looks like a known documentation site.
func (*DocsParser) CanParse(page crawler.Page) bool {
	if !isHTML(page) {
		return false
	}
	doc, err := parseDocument(page.Body)
	if err != nil {
		return false
	}
	_, ok := detectDocsSite(doc)
	return ok
}

// Extract implements crawler.ContentParser.
func (*DocsParser) Extract(page crawler.Page) (crawler.ParsedContent, error) {
	doc, err := parseDocument(page.Body)
	if err != nil {
		return crawler.ParsedContent{}, fmt.Errorf("parse html: %w", err)
	}
	site, ok := detectDocsSite(doc)
	if !ok {
		return crawler.ParsedContent{}, errors.New("not a documentation page")
	}
	out := headerFields(doc)
	if out.Generator == "" {
		out.Generator = site.name
	}
	// Docusaurus and MkDocs titles carry a " | Site" suffix.
	if i := strings.LastIndex(out.Title, " | "); i > 0 {
		out.Title = out.Title[:i]
	}
	out.Content = bodyText(doc, site.content...)
	return out, nil
}

func detectDocsSite(doc *goquery.Document) (docsSite, bool) {
	gen := strings.ToLower(generatorOf(doc))
	for _, site := range docsSites {
		if gen != "" && strings.Contains(gen, site.generator) {
			return site, true
		}
	}
	for _, site := range docsSites {
		for _, marker := range site.markers {
			if doc.Find(marker).Length() > 0 {
				return site, true
			}
		}
	}
	return docsSite{}, false
}
