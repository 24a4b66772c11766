package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webingest/internal/crawler"
)

func htmlPage(body string) crawler.Page {
	return crawler.Page{
		URL:        "https://app.example.com/",
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func TestNeedsRendering(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	article := "<html><body><main><p>" + strings.Repeat("Plain server-rendered prose. ", 20) + "</p></main></body></html>"

	tests := []struct {
		name string
		page crawler.Page
		want bool
	}{
		{"next mount point", htmlPage(`<html><body><div id="__next"></div><script src="/_next/main.js"></script></body></html>`), true},
		{"react root", htmlPage(`<html><body><div id="root"></div></body></html>`), true},
		{"script heavy", htmlPage(`<html><script>window.__STATE__={"a":1,"b":2,"c":3}</script><p>hi</p></html>`), true},
		{"server rendered", htmlPage(article), false},
		{"populated mount point", htmlPage(`<div id="app"><h1>Docs</h1><p>Already rendered on the server.</p></div>`), false},
		{"empty body", htmlPage(""), false},
		{"error status", func() crawler.Page { p := htmlPage(`<div id="root"></div>`); p.StatusCode = 404; return p }(), false},
		{"already rendered", func() crawler.Page { p := htmlPage(`<div id="root"></div>`); p.UsedJS = true; return p }(), false},
		{"not html", func() crawler.Page {
			p := htmlPage(`<div id="root"></div>`)
			p.Headers.Set("Content-Type", "application/pdf")
			return p
		}(), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, h.NeedsRendering(tc.page))
		})
	}
}

func TestNewHeuristicDefault(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultShortBody, NewHeuristic(-1).ShortBody)
	require.Equal(t, 512, NewHeuristic(512).ShortBody)
}
