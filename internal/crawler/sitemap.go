package crawler

import (
	"context"
	"encoding/xml"
	"log/slog"

	"citadex/internal/domain"
)

const maxSitemapDepth = 3

var defaultSitemapPaths = []string{"/sitemap.xml", "/sitemap_index.xml", "/sitemap/sitemap.xml"}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

type sitemapDoc struct {
	XMLName  xml.Name
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

// ParseSitemap reads a <urlset> or <sitemapindex> document.
func ParseSitemap(body []byte) (pages, nested []string, err error) {
	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, nil, err
	}
	for _, u := range doc.URLs {
		if u.Loc != "" {
			pages = append(pages, u.Loc)
		}
	}
	for _, s := range doc.Sitemaps {
		if s.Loc != "" {
			nested = append(nested, s.Loc)
		}
	}
	return pages, nested, nil
}

// discoverSitemapURLs collects page URLs from the sitemaps announced in
// robots.txt, falling back to the conventional locations.
func (c *Controller) discoverSitemapURLs(ctx context.Context, origin string) []string {
	candidates := c.fetcher.Sitemaps(ctx, origin+"/")
	fallback := len(candidates) == 0
	if fallback {
		for _, p := range defaultSitemapPaths {
			candidates = append(candidates, origin+p)
		}
	}

	visited := make(map[string]bool)
	var pages []string
	for _, sm := range candidates {
		found := c.readSitemap(ctx, sm, 0, visited)
		pages = append(pages, found...)
		if fallback && len(found) > 0 {
			break
		}
	}
	return pages
}

func (c *Controller) readSitemap(ctx context.Context, sitemapURL string, depth int, visited map[string]bool) []string {
	if depth > maxSitemapDepth || visited[sitemapURL] || ctx.Err() != nil {
		return nil
	}
	visited[sitemapURL] = true

	res, err := c.fetcher.Fetch(ctx, sitemapURL, domain.Validators{})
	if err != nil || res.NotModified {
		slog.DebugContext(ctx, "sitemap unavailable", "url", sitemapURL, "error", err)
		return nil
	}
	pages, nested, err := ParseSitemap(res.Body)
	if err != nil {
		slog.WarnContext(ctx, "sitemap unparsable", "url", sitemapURL, "error", err)
		return nil
	}
	for _, n := range nested {
		pages = append(pages, c.readSitemap(ctx, n, depth+1, visited)...)
	}
	return pages
}
