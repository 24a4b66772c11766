package engine

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webingest/internal/crawler"
	"github.com/JakeFAU/webingest/internal/parser"
)

func newRequest(mode crawler.CrawlMode, startURL string, maxPages int) crawler.CrawlRequest {
	return crawler.CrawlRequest{
		JobID:        "job-" + string(mode),
		URL:          startURL,
		DatasourceID: "src_site_test",
		IngestorID:   "webloader",
		Settings: crawler.Settings{
			CrawlMode: mode,
			MaxPages:  maxPages,
		},
	}
}

func runEngine(t *testing.T, fetcher crawler.Fetcher, req crawler.CrawlRequest, opts ...Option) crawler.CrawlResult {
	t.Helper()
	e := New(fetcher, parser.Default(), Config{}, opts...)
	return e.Run(context.Background(), req, nil)
}

func sources(docs []crawler.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Metadata.Metadata.Source)
	}
	return out
}

func TestSinglePageSuccess(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Unix(1700000000, 0), step: time.Millisecond}
	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/": htmlDoc("Home", longText),
	})
	res := runEngine(t, fetcher, newRequest(crawler.ModeSingle, "https://site.test", 1), WithClock(clock))

	require.Equal(t, crawler.StatusSuccess, res.Status)
	require.Equal(t, 1, res.PagesCrawled)
	require.Zero(t, res.PagesFailed)
	require.Empty(t, res.FatalError)
	require.Len(t, res.Documents, 1)

	doc := res.Documents[0]
	require.Equal(t, crawler.DocumentID("src_site_test", "https://site.test/"), doc.ID)
	require.Equal(t, doc.ID, doc.Metadata.DocumentID)
	require.Equal(t, "Home", doc.Metadata.Title)
	require.Equal(t, crawler.DocumentTypeWebpage, doc.Metadata.DocumentType)
	require.Equal(t, "webloader", doc.Metadata.IngestorID)
	require.False(t, doc.Metadata.IsGraphEntity)
	require.Equal(t, "https://site.test/", doc.Metadata.Metadata.Source)
	require.Equal(t, "en", doc.Metadata.Metadata.Language)
	require.Contains(t, doc.PageContent, "fifty characters")
	require.GreaterOrEqual(t, doc.Metadata.IngestedAt, int64(1700000000))
	require.Equal(t, "site.test", res.EffectiveDomain)
}

func TestSitemapFallbackToStartURL(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/robots.txt": {body: "User-agent: *\nDisallow:\n", contentType: "text/plain"},
		"https://site.test/":           htmlDoc("Home", longText),
	})
	res := runEngine(t, fetcher, newRequest(crawler.ModeSitemap, "https://site.test/", 10))

	require.Equal(t, crawler.StatusSuccess, res.Status)
	require.Equal(t, 1, res.PagesCrawled)
	require.Zero(t, res.PagesFailed)
	require.Len(t, res.Errors, 2)
	require.Contains(t, res.Errors[0], "Sitemap not found")
	require.Contains(t, res.Errors[1], "No Sitemap: directive")
}

func TestSitemapFallbackWhenRobotsMissing(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/": htmlDoc("Home", longText),
	})
	res := runEngine(t, fetcher, newRequest(crawler.ModeSitemap, "https://site.test/", 10))

	require.Equal(t, crawler.StatusSuccess, res.Status)
	require.Len(t, res.Errors, 2)
	require.Contains(t, res.Errors[1], "robots.txt unavailable")
}

func TestRecursiveRespectsPageBudget(t *testing.T) {
	t.Parallel()

	links := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		links = append(links, fmt.Sprintf("/p%d", i))
	}
	pages := map[string]response{
		"https://site.test/": htmlDoc("Home", longText, links...),
	}
	for i := 0; i < 20; i++ {
		pages[fmt.Sprintf("https://site.test/p%d", i)] = htmlDoc(fmt.Sprintf("Page %d", i), longText, links...)
	}
	req := newRequest(crawler.ModeRecursive, "https://site.test/", 5)
	req.ConcurrentRequests = 3
	res := runEngine(t, newFakeFetcher(pages), req)

	require.Equal(t, crawler.StatusSuccess, res.Status)
	require.Equal(t, 5, res.PagesCrawled)
	require.Len(t, res.Documents, 5)
	require.Positive(t, res.URLsFilteredMaxPages)
	require.Len(t, sources(res.Documents), 5)
}

func TestSitemapAllDenied(t *testing.T) {
	t.Parallel()

	locs := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		locs = append(locs, fmt.Sprintf("https://site.test/docs/%d", i))
	}
	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/sitemap.xml": xmlDoc(urlset(locs...)),
	})
	req := newRequest(crawler.ModeSitemap, "https://site.test/", 20)
	req.DeniedURLPatterns = []string{`/docs/`}
	res := runEngine(t, fetcher, req)

	require.Equal(t, crawler.StatusFailed, res.Status)
	require.Zero(t, res.PagesCrawled)
	require.Equal(t, 10, res.URLsFoundInSitemap)
	require.Equal(t, 10, res.URLsFilteredPattern)
	require.Contains(t, res.FatalError, "0 were scraped")
	require.Contains(t, res.FatalError, "10 by URL pattern")
	require.Contains(t, res.FatalError, "denied_url_patterns")
}

func TestSitemapCandidatesCappedAtMaxPages(t *testing.T) {
	t.Parallel()

	locs := make([]string, 0, 10)
	pages := map[string]response{}
	for i := 0; i < 10; i++ {
		u := fmt.Sprintf("https://site.test/docs/%d", i)
		locs = append(locs, u)
		pages[u] = htmlDoc(fmt.Sprintf("Doc %d", i), longText)
	}
	pages["https://site.test/sitemap.xml"] = xmlDoc(urlset(locs...))
	fetcher := newFakeFetcher(pages)

	req := newRequest(crawler.ModeSitemap, "https://site.test/", 3)
	req.DeniedURLPatterns = []string{`/docs/[012]$`}
	res := runEngine(t, fetcher, req)

	require.Equal(t, crawler.StatusFailed, res.Status)
	require.Zero(t, res.PagesCrawled)
	require.Equal(t, 3, res.URLsFoundInSitemap)
	require.Equal(t, 3, res.URLsFilteredPattern)
	require.Zero(t, res.URLsFilteredMaxPages)
	require.Contains(t, res.FatalError, "Found 3 URLs in sitemap but 0 were scraped")
	require.Zero(t, fetcher.callCount("https://site.test/docs/3"))

	res = runEngine(t, fetcher, newRequest(crawler.ModeSitemap, "https://site.test/", 3))
	require.Equal(t, crawler.StatusSuccess, res.Status)
	require.Equal(t, 3, res.URLsFoundInSitemap)
	require.ElementsMatch(t, locs[:3], sources(res.Documents))
}

func TestSitemapIndexStopsAtMaxPages(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/sitemap.xml": xmlDoc(sitemapIndex(
			"https://site.test/sitemap-1.xml", "https://site.test/sitemap-2.xml",
		)),
		"https://site.test/sitemap-1.xml": xmlDoc(urlset("https://site.test/a", "https://site.test/b")),
		"https://site.test/sitemap-2.xml": xmlDoc(urlset("https://site.test/c")),
		"https://site.test/a":             htmlDoc("A", longText),
		"https://site.test/b":             htmlDoc("B", longText),
	})
	res := runEngine(t, fetcher, newRequest(crawler.ModeSitemap, "https://site.test/", 2))

	require.Equal(t, 2, res.URLsFoundInSitemap)
	require.Zero(t, fetcher.callCount("https://site.test/sitemap-2.xml"))
	require.ElementsMatch(t, []string{"https://site.test/a", "https://site.test/b"}, sources(res.Documents))
}

func TestSitemapEffectiveDomainFollowsRedirect(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/sitemap.xml": {
			body:        urlset("https://www.site.test/a", "https://www.site.test/b", "https://cdn.other.test/c"),
			contentType: "application/xml",
			final:       "https://www.site.test/sitemap.xml",
		},
		"https://www.site.test/a": htmlDoc("A", longText),
		"https://www.site.test/b": htmlDoc("B", longText),
	})
	res := runEngine(t, fetcher, newRequest(crawler.ModeSitemap, "https://site.test/", 10))

	require.Equal(t, crawler.StatusSuccess, res.Status)
	require.Equal(t, "www.site.test", res.EffectiveDomain)
	require.Equal(t, 2, res.PagesCrawled)
	require.Equal(t, 1, res.URLsFilteredExternal)
	for _, src := range sources(res.Documents) {
		require.Equal(t, res.EffectiveDomain, crawler.Domain(src))
	}
}

func TestZeroPagesSuggestsEffectiveDomain(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/sitemap.xml": {
			body:        urlset("https://site.test/a", "https://site.test/b"),
			contentType: "application/xml",
			final:       "https://docs.site.test/sitemap.xml",
		},
	})
	res := runEngine(t, fetcher, newRequest(crawler.ModeSitemap, "https://site.test/", 10))

	require.Equal(t, crawler.StatusFailed, res.Status)
	require.Equal(t, 2, res.URLsFilteredExternal)
	require.Contains(t, res.FatalError, "0 were scraped")
	require.Contains(t, res.FatalError, "docs.site.test")
	require.Contains(t, res.FatalError, "follow_external_links")
}

func TestDedupAcrossDuplicatesAndRedirects(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/sitemap.xml": xmlDoc(urlset(
			"https://site.test/a",
			"https://site.test/a#section",
			"https://site.test/a",
			"https://site.test/old-a",
			"https://site.test/b",
		)),
		"https://site.test/a":     htmlDoc("A", longText),
		"https://site.test/old-a": {body: htmlDoc("A", longText).body, final: "https://site.test/a"},
		"https://site.test/b":     htmlDoc("B", longText),
	})
	res := runEngine(t, fetcher, newRequest(crawler.ModeSitemap, "https://site.test/", 10))

	require.ElementsMatch(t, []string{"https://site.test/a", "https://site.test/b"}, sources(res.Documents))
	require.Equal(t, 1, fetcher.callCount("https://site.test/a"))
}

func TestPageFailuresAreClassifiedAndCounted(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/sitemap.xml": xmlDoc(urlset(
			"https://site.test/ok", "https://site.test/broken", "https://site.test/dns", "https://site.test/slow",
		)),
		"https://site.test/ok":     htmlDoc("OK", longText),
		"https://site.test/broken": {status: 500, body: "oops"},
		"https://site.test/dns":    {err: &net.DNSError{Err: "no such host", Name: "site.test", IsNotFound: true}},
		"https://site.test/slow":   {err: fmt.Errorf("colly visit failed: %w", context.DeadlineExceeded)},
	})
	res := runEngine(t, fetcher, newRequest(crawler.ModeSitemap, "https://site.test/", 10))

	require.Equal(t, crawler.StatusPartial, res.Status)
	require.Equal(t, 1, res.PagesCrawled)
	require.Equal(t, 3, res.PagesFailed)
	require.Contains(t, res.Errors, "HTTP 500 Internal Server Error: https://site.test/broken")
	require.Contains(t, res.Errors, "DNS lookup failed: https://site.test/dns")
	require.Contains(t, res.Errors, "Timeout: https://site.test/slow")
}

func TestShortContentIsSkippedSilently(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/": htmlDoc("", "tiny"),
	})
	res := runEngine(t, fetcher, newRequest(crawler.ModeSingle, "https://site.test/", 1))

	require.Equal(t, crawler.StatusFailed, res.Status)
	require.Zero(t, res.PagesCrawled)
	require.Zero(t, res.PagesFailed)
	require.Empty(t, res.Errors)
	require.Contains(t, res.FatalError, "0 were scraped")
}

func TestAppShellSuggestsRendering(t *testing.T) {
	t.Parallel()

	shell := `<html><head><title>App</title></head><body><div id="root"></div><script src="/static/main.js"></script></body></html>`
	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/": {body: shell},
	})
	res := runEngine(t, fetcher, newRequest(crawler.ModeSingle, "https://site.test/", 1))

	require.Equal(t, crawler.StatusFailed, res.Status)
	require.Contains(t, res.FatalError, "1 pages looked like JavaScript application shells")

	req := newRequest(crawler.ModeSingle, "https://site.test/", 1)
	req.RenderJavaScript = true
	res = runEngine(t, fetcher, req)
	require.NotContains(t, res.FatalError, "application shells")
}

func TestRobotsBlockedPagesAreCounted(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/sitemap.xml": xmlDoc(urlset("https://site.test/private", "https://site.test/public")),
		"https://site.test/private":     {err: fmt.Errorf("%w: https://site.test/private", crawler.ErrRobotsBlocked)},
		"https://site.test/public":      htmlDoc("Public", longText),
	})
	req := newRequest(crawler.ModeSitemap, "https://site.test/", 10)
	req.RespectRobotsTxt = true
	res := runEngine(t, fetcher, req)

	require.Equal(t, crawler.StatusSuccess, res.Status)
	require.Equal(t, 1, res.URLsFilteredRobots)
	require.Zero(t, res.PagesFailed)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	for _, r := range fetcher.requests {
		if r.URL == "https://site.test/sitemap.xml" {
			require.False(t, r.RespectRobots, "discovery fetches ignore robots rules")
		} else {
			require.True(t, r.RespectRobots)
		}
	}
}

func TestUnreachableRobotsIsReportedOncePerHost(t *testing.T) {
	t.Parallel()

	assumed := func(title string, links ...string) response {
		r := htmlDoc(title, longText, links...)
		r.robotsAssumed = true
		return r
	}
	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/":  assumed("Home", "/a", "/b"),
		"https://site.test/a": assumed("A"),
		"https://site.test/b": assumed("B"),
	})
	req := newRequest(crawler.ModeRecursive, "https://site.test/", 10)
	req.RespectRobotsTxt = true
	res := runEngine(t, fetcher, req)

	require.Equal(t, crawler.StatusSuccess, res.Status)
	require.Equal(t, 3, res.PagesCrawled)
	require.Zero(t, res.PagesFailed)
	require.Equal(t, []string{"robots.txt unreachable for site.test; all paths treated as allowed"}, res.Errors)
}

func TestSitemapIndexAndGzip(t *testing.T) {
	t.Parallel()

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, err := w.Write([]byte(urlset("https://site.test/b")))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/sitemap.xml": xmlDoc(sitemapIndex(
			"https://site.test/sitemap-1.xml", "https://site.test/sitemap-2.xml.gz",
		)),
		"https://site.test/sitemap-1.xml":    xmlDoc(urlset("https://site.test/a")),
		"https://site.test/sitemap-2.xml.gz": {body: gz.String(), contentType: "application/gzip"},
		"https://site.test/a":                htmlDoc("A", longText),
		"https://site.test/b":                htmlDoc("B", longText),
	})
	res := runEngine(t, fetcher, newRequest(crawler.ModeSitemap, "https://site.test/", 10))

	require.Equal(t, 2, res.URLsFoundInSitemap)
	require.ElementsMatch(t, []string{"https://site.test/a", "https://site.test/b"}, sources(res.Documents))
}

func TestSitemapFromRobotsDirective(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/robots.txt": {
			body:        "User-agent: *\nDisallow:\nSitemap: https://site.test/maps/main.xml\n",
			contentType: "text/plain",
		},
		"https://site.test/maps/main.xml": xmlDoc(urlset("https://site.test/a")),
		"https://site.test/a":             htmlDoc("A", longText),
	})
	res := runEngine(t, fetcher, newRequest(crawler.ModeSitemap, "https://site.test/", 10))

	require.Equal(t, crawler.StatusSuccess, res.Status)
	require.Equal(t, 1, res.URLsFoundInSitemap)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "Sitemap not found")
}

func TestRecursiveMaxDepth(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/":   htmlDoc("Root", longText, "/d1"),
		"https://site.test/d1": htmlDoc("D1", longText, "/d2"),
		"https://site.test/d2": htmlDoc("D2", longText, "/d3"),
		"https://site.test/d3": htmlDoc("D3", longText),
	})
	req := newRequest(crawler.ModeRecursive, "https://site.test/", 50)
	req.MaxDepth = 2
	res := runEngine(t, fetcher, req)

	require.ElementsMatch(t,
		[]string{"https://site.test/", "https://site.test/d1", "https://site.test/d2"},
		sources(res.Documents))
	require.Zero(t, fetcher.callCount("https://site.test/d3"))
}

func TestRecursiveStartRedirectSetsEffectiveDomain(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/": {
			body:  htmlDoc("Root", longText, "https://www.site.test/a", "https://site.test/b").body,
			final: "https://www.site.test/",
		},
		"https://www.site.test/a": htmlDoc("A", longText),
	})
	res := runEngine(t, fetcher, newRequest(crawler.ModeRecursive, "https://site.test/", 10))

	require.Equal(t, "www.site.test", res.EffectiveDomain)
	require.Equal(t, 2, res.PagesCrawled)
	require.Equal(t, 1, res.URLsFilteredExternal)
}

func TestPatternsAndExternalLinks(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/": htmlDoc("Root", longText,
			"/docs/a", "/docs/b.pdf", "/blog/x", "https://other.test/docs/z"),
		"https://site.test/docs/a":  htmlDoc("A", longText),
		"https://other.test/docs/z": htmlDoc("Z", longText),
	})
	req := newRequest(crawler.ModeRecursive, "https://site.test/", 10)
	req.AllowedURLPatterns = []string{`/docs/`}
	req.DeniedURLPatterns = []string{`\.pdf$`}
	res := runEngine(t, fetcher, req)

	require.ElementsMatch(t, []string{"https://site.test/", "https://site.test/docs/a"}, sources(res.Documents))
	require.Equal(t, 2, res.URLsFilteredPattern)
	require.Equal(t, 1, res.URLsFilteredExternal)

	req.FollowExternalLinks = true
	res = runEngine(t, newFakeFetcher(fetcher.pages), req)
	require.Contains(t, sources(res.Documents), "https://other.test/docs/z")
	require.Zero(t, res.URLsFilteredExternal)
}

type panickingRegistry struct{}

func (panickingRegistry) Parse(crawler.Page) (crawler.ParsedContent, error) {
	panic("extractor exploded")
}

func TestParserPanicCountsAsPageFailure(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]response{"https://site.test/": htmlDoc("Home", longText)})
	e := New(fetcher, panickingRegistry{}, Config{})
	res := e.Run(context.Background(), newRequest(crawler.ModeSingle, "https://site.test/", 1), nil)

	require.Equal(t, crawler.StatusFailed, res.Status)
	require.Equal(t, 1, res.PagesFailed)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "Extraction failed")
}

func TestInvalidRequestFails(t *testing.T) {
	t.Parallel()

	res := runEngine(t, newFakeFetcher(nil), newRequest(crawler.ModeSingle, "https://site.test/", 0))
	require.Equal(t, crawler.StatusFailed, res.Status)
	require.Contains(t, res.FatalError, "max_pages")
}

func TestProgressIsThrottledAndMonotonic(t *testing.T) {
	t.Parallel()

	locs := make([]string, 0, 6)
	pages := map[string]response{}
	for i := 0; i < 6; i++ {
		u := fmt.Sprintf("https://site.test/p%d", i)
		locs = append(locs, u)
		pages[u] = htmlDoc("P", longText)
	}
	pages["https://site.test/sitemap.xml"] = xmlDoc(urlset(locs...))

	var got []crawler.CrawlProgress
	clock := &stepClock{now: time.Unix(0, 0), step: 500 * time.Millisecond}
	e := New(newFakeFetcher(pages), parser.Default(), Config{ProgressInterval: 2 * time.Second}, WithClock(clock))
	res := e.Run(context.Background(), newRequest(crawler.ModeSitemap, "https://site.test/", 10), func(p crawler.CrawlProgress) {
		got = append(got, p)
	})

	require.Equal(t, 6, res.PagesCrawled)
	require.NotEmpty(t, got)
	require.Less(t, len(got), 7, "progress must be throttled")
	require.NotNil(t, got[0].TotalPages)
	require.Equal(t, 6, *got[0].TotalPages)
	last := -1
	for _, p := range got {
		require.GreaterOrEqual(t, p.PagesCrawled, last)
		last = p.PagesCrawled
		require.Regexp(t, `^Crawling \d+/6 pages$`, p.Message)
	}
}

func TestProgressMessagesByMode(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/":  htmlDoc("Root", longText, "/a"),
		"https://site.test/a": htmlDoc("A", longText),
	})
	var messages []string
	clock := &stepClock{now: time.Unix(0, 0), step: time.Hour}
	e := New(fetcher, parser.Default(), Config{}, WithClock(clock))
	e.Run(context.Background(), newRequest(crawler.ModeRecursive, "https://site.test/", 10), func(p crawler.CrawlProgress) {
		messages = append(messages, p.Message)
	})
	require.Contains(t, messages, "Crawling... 1 pages (1 queued)")

	messages = nil
	e.Run(context.Background(), newRequest(crawler.ModeSingle, "https://site.test/a", 1), func(p crawler.CrawlProgress) {
		messages = append(messages, p.Message)
	})
	require.Equal(t, []string{"Crawled 1 pages"}, messages)
}

func TestConcurrencyIsBounded(t *testing.T) {
	t.Parallel()

	locs := make([]string, 0, 12)
	pages := map[string]response{}
	for i := 0; i < 12; i++ {
		u := fmt.Sprintf("https://site.test/p%d", i)
		locs = append(locs, u)
		r := htmlDoc("P", longText)
		r.delay = 20 * time.Millisecond
		pages[u] = r
	}
	pages["https://site.test/sitemap.xml"] = xmlDoc(urlset(locs...))
	fetcher := newFakeFetcher(pages)

	req := newRequest(crawler.ModeSitemap, "https://site.test/", 12)
	req.ConcurrentRequests = 4
	res := runEngine(t, fetcher, req)

	require.Equal(t, 12, res.PagesCrawled)
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	require.LessOrEqual(t, fetcher.maxActive, 4)
	require.Greater(t, fetcher.maxActive, 1)
}

func TestCancellationReturnsPartialResult(t *testing.T) {
	t.Parallel()

	slow := htmlDoc("Slow", longText)
	slow.delay = time.Second
	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/sitemap.xml": xmlDoc(urlset("https://site.test/slow")),
		"https://site.test/slow":        slow,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	e := New(fetcher, parser.Default(), Config{})
	res := e.Run(ctx, newRequest(crawler.ModeSitemap, "https://site.test/", 5), nil)

	require.Equal(t, crawler.StatusFailed, res.Status)
	require.Contains(t, res.Errors[len(res.Errors)-1], "Crawl interrupted")
	require.Contains(t, res.FatalError, "interrupted")
}

func TestRenderJavaScriptUsesRenderer(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{fakeFetcher: fakeFetcher{
		pages: map[string]response{"https://site.test/": htmlDoc("Rendered", longText)},
		calls: map[string]int{},
	}}
	fetcher := newFakeFetcher(nil)
	req := newRequest(crawler.ModeSingle, "https://site.test/", 1)
	req.RenderJavaScript = true
	req.WaitForSelector = "#app"
	req.PageLoadTimeout = 7 * time.Second

	res := runEngine(t, fetcher, req, WithRenderer(renderer))
	require.Equal(t, 1, res.PagesCrawled)
	require.Equal(t, 1, renderer.callCount("https://site.test/"))
	require.Zero(t, fetcher.callCount("https://site.test/"))
	require.Equal(t, "#app", renderer.requests[0].WaitForSelector)
	require.Equal(t, 7*time.Second, renderer.requests[0].Timeout)
}

func TestErrorListIsCapped(t *testing.T) {
	t.Parallel()

	locs := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		locs = append(locs, fmt.Sprintf("https://site.test/missing/%d", i))
	}
	fetcher := newFakeFetcher(map[string]response{
		"https://site.test/sitemap.xml": xmlDoc(urlset(locs...)),
	})
	res := runEngine(t, fetcher, newRequest(crawler.ModeSitemap, "https://site.test/", 100))

	require.Equal(t, 60, res.PagesFailed)
	require.Len(t, res.Errors, DefaultMaxErrors)
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Connection refused: u", ClassifyError("u", errors.New("dial tcp: connect: connection refused")))
	require.Equal(t, "Request failed: u (boom)", ClassifyError("u", errors.New("boom")))
	require.Equal(t, "HTTP 404 Not Found: u", ClassifyStatus("u", 404))
	require.Equal(t, "HTTP 599: u", ClassifyStatus("u", 599))
}
