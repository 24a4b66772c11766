package parser

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webingest/internal/crawler"
)

// boilerplate is stripped before text extraction.
const boilerplate = "script, style, noscript, template, svg, iframe, nav, header, footer, aside, form"

func isHTML(page crawler.Page) bool {
	switch page.ContentType() {
	case "text/html", "application/xhtml+xml":
		return true
	case "":
		head := bytes.ToLower(page.Body[:min(len(page.Body), 512)])
		return bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<!doctype html"))
	default:
		return false
	}
}

func parseDocument(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func generatorOf(doc *goquery.Document) string {
	return metaContent(doc, `meta[name="generator"]`, `meta[name="Generator"]`)
}

// headerFields collects title, description, language, and generator.
func headerFields(doc *goquery.Document) crawler.ParsedContent {
	title := collapse(doc.Find("title").First().Text())
	if title == "" {
		title = metaContent(doc, `meta[property="og:title"]`)
	}
	if title == "" {
		title = collapse(doc.Find("h1").First().Text())
	}
	lang, _ := doc.Find("html").First().Attr("lang")
	return crawler.ParsedContent{
		Title:       title,
		Description: metaContent(doc, `meta[name="description"]`, `meta[property="og:description"]`),
		Language:    strings.TrimSpace(lang),
		Generator:   generatorOf(doc),
	}
}

// bodyText returns the text of the first selector that yields any, falling
// back to <body>.
func bodyText(doc *goquery.Document, selectors ...string) string {
	doc.Find(boilerplate).Remove()
	for _, sel := range selectors {
		if text := collapse(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return collapse(doc.Find("body").Text())
}

// collapse normalizes whitespace while keeping paragraph breaks.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
