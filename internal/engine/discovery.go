package engine

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/webingest/internal/crawler"
)

var errEmptySitemap = errors.New("sitemap contains no <loc> entries")

// discoverSitemap resolves the URL list for sitemap mode: /sitemap.xml first,
// then Sitemap: directives in /robots.txt, then the start URL alone. Each
// fallback step leaves one entry in the error list.
func (c *crawl) discoverSitemap(ctx context.Context) {
	origin := siteRoot(c.req.URL)
	sitemapURL := origin + "/sitemap.xml"

	locs, resolved, err := c.collectSitemap(ctx, sitemapURL, 0, map[string]struct{}{})
	if err == nil && len(locs) > 0 {
		c.logger.Info("sitemap resolved", zap.String("sitemap", sitemapURL), zap.Int("urls", len(locs)))
		c.useSitemap(locs, resolved)
		return
	}
	c.addError(fmt.Sprintf("Sitemap not found at %s: %v", sitemapURL, sitemapReason(err)))
	c.logger.Info("sitemap unavailable, trying robots.txt", zap.String("sitemap", sitemapURL), zap.Error(err))

	directives, err := c.robotsSitemaps(ctx, origin)
	switch {
	case err != nil:
		c.addError(fmt.Sprintf("robots.txt unavailable at %s/robots.txt (%v); crawling start URL only", origin, err))
		c.scheduleStart()
		return
	case len(directives) == 0:
		c.addError(fmt.Sprintf("No Sitemap: directive found in %s/robots.txt; crawling start URL only", origin))
		c.scheduleStart()
		return
	}

	var (
		all          []string
		resolvedHost string
		seenSitemaps = map[string]struct{}{}
	)
	for _, directive := range directives {
		locs, resolved, err := c.collectSitemap(ctx, directive, 0, seenSitemaps)
		if err != nil {
			c.logger.Info("robots.txt sitemap directive failed", zap.String("sitemap", directive), zap.Error(err))
			continue
		}
		if resolvedHost == "" {
			resolvedHost = resolved
		}
		all = append(all, locs...)
		if len(all) >= c.sitemapCap() {
			break
		}
	}
	if len(all) == 0 {
		c.addError(fmt.Sprintf("Sitemap directives in %s/robots.txt yielded no URLs; crawling start URL only", origin))
		c.scheduleStart()
		return
	}
	c.logger.Info("sitemap resolved via robots.txt", zap.Int("directives", len(directives)), zap.Int("urls", len(all)))
	c.useSitemap(all, resolvedHost)
}

// sitemapCap is the number of sitemap locs considered as candidates.
func (c *crawl) sitemapCap() int {
	return min(max(c.req.MaxPages, 1), maxSitemapURLs)
}

// useSitemap adopts the sitemap's host as the effective domain and schedules
// every candidate loc that passes the filter. Only the first max_pages locs
// are candidates.
func (c *crawl) useSitemap(locs []string, resolvedHost string) {
	if resolvedHost != "" && resolvedHost != c.effectiveDomain {
		c.logger.Info("sitemap resolved on a different host, switching effective domain",
			zap.String("from", c.effectiveDomain), zap.String("to", resolvedHost))
		c.effectiveDomain = resolvedHost
	}
	if limit := c.sitemapCap(); len(locs) > limit {
		locs = locs[:limit]
	}
	c.counters.URLsFoundInSitemap = len(locs)
	for _, loc := range locs {
		if norm, ok := c.shouldFollow(loc); ok {
			c.queue = append(c.queue, queued{url: norm})
		}
	}
	total := len(c.queue)
	c.totalPages = &total
	c.maybeProgress(true)
}

// collectSitemap fetches a sitemap and returns its page URLs, following
// sitemap indexes up to the configured depth. resolvedHost is the host the
// top-level sitemap was finally served from.
func (c *crawl) collectSitemap(ctx context.Context, sitemapURL string, depth int, seen map[string]struct{}) ([]string, string, error) {
	if _, ok := seen[sitemapURL]; ok {
		return nil, "", nil
	}
	seen[sitemapURL] = struct{}{}

	page, err := c.fetchRaw(ctx, sitemapURL)
	if err != nil {
		return nil, "", err
	}
	if page.StatusCode < 200 || page.StatusCode > 299 {
		return nil, "", &statusError{code: page.StatusCode}
	}
	resolvedHost := crawler.Domain(page.FinalURL)
	if resolvedHost == "" {
		resolvedHost = crawler.Domain(sitemapURL)
	}

	pages, children, err := parseSitemap(page.Body)
	if err != nil {
		return nil, resolvedHost, err
	}
	for _, child := range children {
		if depth+1 > c.e.cfg.MaxSitemapDepth || len(pages) >= c.sitemapCap() {
			break
		}
		childPages, _, err := c.collectSitemap(ctx, child, depth+1, seen)
		if err != nil {
			c.logger.Info("nested sitemap failed", zap.String("sitemap", child), zap.Error(err))
			continue
		}
		pages = append(pages, childPages...)
	}
	if len(pages) == 0 && depth == 0 {
		return nil, resolvedHost, errEmptySitemap
	}
	return pages, resolvedHost, nil
}

// robotsSitemaps returns the Sitemap: directives of origin's robots.txt.
func (c *crawl) robotsSitemaps(ctx context.Context, origin string) ([]string, error) {
	page, err := c.fetchRaw(ctx, origin+"/robots.txt")
	if err != nil {
		return nil, err
	}
	if page.StatusCode < 200 || page.StatusCode > 299 {
		return nil, &statusError{code: page.StatusCode}
	}
	robots, err := robotstxt.FromStatusAndBytes(page.StatusCode, page.Body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	out := make([]string, 0, len(robots.Sitemaps))
	for _, s := range robots.Sitemaps {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// parseSitemap extracts page locations from a urlset and child sitemap
// locations from a sitemapindex. Gzip bodies are inflated first.
func parseSitemap(body []byte) (pages, children []string, err error) {
	var r io.Reader = bytes.NewReader(body)
	if len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("inflate sitemap: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, nil, fmt.Errorf("parse sitemap xml: %w", err)
	}
	for _, n := range xmlquery.Find(doc, "//*[local-name()='url']/*[local-name()='loc']") {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			pages = append(pages, loc)
		}
	}
	for _, n := range xmlquery.Find(doc, "//*[local-name()='sitemap']/*[local-name()='loc']") {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			children = append(children, loc)
		}
	}
	return pages, children, nil
}

func siteRoot(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(raw, "/")
	}
	return u.Scheme + "://" + u.Host
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("HTTP %d", e.code) }

func sitemapReason(err error) string {
	if err == nil {
		return errEmptySitemap.Error()
	}
	return err.Error()
}
