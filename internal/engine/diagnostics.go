package engine

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/webingest/internal/crawler"
)

// diagnose explains a crawl that produced no documents, using the filter
// counters to point at the most likely misconfiguration.
func (c *crawl) diagnose() string {
	fc := c.counters
	filtered := fc.URLsFilteredExternal + fc.URLsFilteredPattern + fc.URLsFilteredMaxPages + fc.URLsFilteredRobots

	var b strings.Builder
	switch {
	case c.req.CrawlMode == crawler.ModeSitemap && fc.URLsFoundInSitemap > 0:
		fmt.Fprintf(&b, "Found %d URLs in sitemap but 0 were scraped.", fc.URLsFoundInSitemap)
	default:
		fmt.Fprintf(&b, "Discovered %d URLs but 0 were scraped.", c.scheduled+filtered)
	}
	fmt.Fprintf(&b, " Filtered: %d external, %d by URL pattern, %d over max_pages, %d by robots.txt; %d pages failed.",
		fc.URLsFilteredExternal, fc.URLsFilteredPattern, fc.URLsFilteredMaxPages, fc.URLsFilteredRobots, c.pagesFailed)

	if fc.URLsFilteredExternal > 0 {
		if c.effectiveDomain != c.startDomain {
			fmt.Fprintf(&b,
				" The site resolved to %s rather than %s: retry with a URL on %s or enable follow_external_links.",
				c.effectiveDomain, c.startDomain, c.effectiveDomain)
		} else {
			b.WriteString(" Links point outside " + c.effectiveDomain + ": enable follow_external_links to include them.")
		}
	}
	if fc.URLsFilteredPattern > 0 {
		b.WriteString(" Review allowed_url_patterns and denied_url_patterns.")
	}
	if fc.URLsFilteredRobots > 0 {
		b.WriteString(" robots.txt disallows these pages; set respect_robots_txt=false only if you are permitted to.")
	}
	if c.shells > 0 && !c.req.RenderJavaScript {
		fmt.Fprintf(&b, " %d pages looked like JavaScript application shells: retry with render_javascript=true.", c.shells)
	}
	if c.pagesFailed > 0 && len(c.errors) > 0 {
		b.WriteString(" Last error: " + c.errors[len(c.errors)-1])
	}
	if c.interrupted {
		b.WriteString(" The crawl was interrupted before completion.")
	}
	return b.String()
}
