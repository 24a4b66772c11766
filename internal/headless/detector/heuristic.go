// Package detector recognises pages whose content only appears after
// client-side rendering.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webingest/internal/crawler"
)

// DefaultShortBody is the body size under which script-heavy pages count as
// shells.
const DefaultShortBody = 4096

// mountPoints are the elements client-side frameworks render into.
var mountPoints = []string{
	"#__next",
	"#__nuxt",
	"#root",
	"#app",
	"[data-reactroot]",
	"[ng-app]",
	"[ng-version]",
}

// Heuristic flags JavaScript application shells: HTML documents that carry
// a framework mount point or little besides scripts.
type Heuristic struct {
	ShortBody int
}

// NewHeuristic returns a Heuristic; shortBody <= 0 selects DefaultShortBody.
func NewHeuristic(shortBody int) *Heuristic {
	if shortBody <= 0 {
		shortBody = DefaultShortBody
	}
	return &Heuristic{ShortBody: shortBody}
}

// NeedsRendering reports whether page looks like it needs a browser to
// produce its content. Rendered pages, error responses and non-HTML bodies
// are never flagged.
func (h *Heuristic) NeedsRendering(page crawler.Page) bool {
	if page.UsedJS || page.StatusCode < 200 || page.StatusCode > 299 {
		return false
	}
	if ct := page.ContentType(); ct != "" && ct != "text/html" && ct != "application/xhtml+xml" {
		return false
	}
	body := bytes.TrimSpace(page.Body)
	if len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}

	for _, sel := range mountPoints {
		if mount := doc.Find(sel).First(); mount.Length() > 0 && strings.TrimSpace(mount.Text()) == "" {
			return true
		}
	}
	if len(body) >= h.ShortBody {
		return false
	}
	return scriptShare(doc, len(body)) >= 25
}

// scriptShare is the percentage of the body taken up by script elements.
func scriptShare(doc *goquery.Document, total int) int {
	scripts := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		html, err := goquery.OuterHtml(s)
		if err == nil {
			scripts += len(html)
		}
	})
	if scripts == 0 || total == 0 {
		return 0
	}
	return min(scripts*100/total, 100)
}
