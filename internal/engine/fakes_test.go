package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/webingest/internal/crawler"
)

type response struct {
	status        int
	body          string
	contentType   string
	final         string
	err           error
	delay         time.Duration
	robotsAssumed bool
}

// fakeFetcher serves canned responses keyed by normalized URL. Unknown URLs
// answer 404.
type fakeFetcher struct {
	mu        sync.Mutex
	pages     map[string]response
	calls     map[string]int
	requests  []crawler.FetchRequest
	active    int
	maxActive int
}

func newFakeFetcher(pages map[string]response) *fakeFetcher {
	return &fakeFetcher{pages: pages, calls: map[string]int{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.Page, error) {
	f.mu.Lock()
	f.calls[req.URL]++
	f.requests = append(f.requests, req)
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	resp, ok := f.pages[req.URL]
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if resp.delay > 0 {
		select {
		case <-ctx.Done():
			return crawler.Page{}, ctx.Err()
		case <-time.After(resp.delay):
		}
	}
	if !ok {
		return crawler.Page{URL: req.URL, FinalURL: req.URL, StatusCode: 404}, nil
	}
	if resp.err != nil {
		return crawler.Page{}, resp.err
	}
	final := resp.final
	if final == "" {
		final = req.URL
	}
	ct := resp.contentType
	if ct == "" {
		ct = "text/html; charset=utf-8"
	}
	status := resp.status
	if status == 0 {
		status = 200
	}
	return crawler.Page{
		URL:        req.URL,
		FinalURL:   final,
		StatusCode: status,
		Headers:    map[string][]string{"Content-Type": {ct}},
		Body:       []byte(resp.body),

		RobotsAssumed: resp.robotsAssumed,
	}, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type fakeRenderer struct {
	fakeFetcher
	closed bool
}

func (r *fakeRenderer) Render(ctx context.Context, req crawler.FetchRequest) (crawler.Page, error) {
	page, err := r.Fetch(ctx, req)
	page.UsedJS = true
	return page, err
}

func (r *fakeRenderer) Close() { r.closed = true }

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func htmlDoc(title, text string, links ...string) response {
	var b strings.Builder
	fmt.Fprintf(&b, "<html lang=\"en\"><head><title>%s</title></head><body><main><p>%s</p>", title, text)
	for _, l := range links {
		fmt.Fprintf(&b, "<a href=\"%s\">link</a>", l)
	}
	b.WriteString("</main></body></html>")
	return response{body: b.String()}
}

func xmlDoc(body string) response {
	return response{body: body, contentType: "application/xml"}
}

func urlset(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, l := range locs {
		fmt.Fprintf(&b, "<url><loc>%s</loc></url>", l)
	}
	b.WriteString("</urlset>")
	return b.String()
}

func sitemapIndex(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, l := range locs {
		fmt.Fprintf(&b, "<sitemap><loc>%s</loc></sitemap>", l)
	}
	b.WriteString("</sitemapindex>")
	return b.String()
}

const longText = "This page carries more than fifty characters of readable text for ingestion."
