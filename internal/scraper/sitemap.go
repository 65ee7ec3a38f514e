package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var perfumePathPattern = regexp.MustCompile(`/perfume/[^/]+/[^/]+\.html$`)

// URLDiscoverer collects product-page URLs from a designer's listing
// page so whole brands can be enqueued at once.
type URLDiscoverer struct {
	fetcher    Fetcher
	siteOrigin string
	logger     *slog.Logger
}

func NewURLDiscoverer(f Fetcher, siteOrigin string, logger *slog.Logger) *URLDiscoverer {
	return &URLDiscoverer{
		fetcher:    f,
		siteOrigin: strings.TrimRight(siteOrigin, "/"),
		logger:     logger.With("component", "discoverer"),
	}
}

// DiscoverBrand renders the designer page for a brand and returns up to
// limit product URLs. Falls back to the site's search page when the
// designer page yields nothing.
func (d *URLDiscoverer) DiscoverBrand(ctx context.Context, brand string, limit int) ([]string, error) {
	brandURL := fmt.Sprintf("%s/designers/%s.html", d.siteOrigin, BrandSlug(brand))
	d.logger.Info("discovering brand", "brand", brand, "url", brandURL)

	result, err := d.fetcher.Fetch(ctx, brandURL)
	if err != nil {
		return nil, err
	}

	urls := ExtractPerfumeLinks(result.HTML, d.siteOrigin)

	if len(urls) == 0 {
		searchURL := fmt.Sprintf("%s/search/?query=%s", d.siteOrigin, url.QueryEscape(brand))
		d.logger.Info("designer page empty, trying search", "url", searchURL)

		result, err = d.fetcher.Fetch(ctx, searchURL)
		if err != nil {
			return nil, err
		}
		urls = ExtractPerfumeLinks(result.HTML, d.siteOrigin)
	}

	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}

	d.logger.Info("brand discovery done", "brand", brand, "found", len(urls))
	return urls, nil
}

// BrandSlug normalizes a brand name into the site's designer-page slug.
func BrandSlug(brand string) string {
	slug := strings.TrimSpace(brand)
	slug = strings.ReplaceAll(slug, "&", "and")
	slug = strings.ReplaceAll(slug, "'", "")
	slug = strings.ReplaceAll(slug, "’", "")
	slug = strings.Join(strings.Fields(slug), "-")
	return slug
}

// ExtractPerfumeLinks pulls product detail links out of a listing page,
// deduplicated in document order.
func ExtractPerfumeLinks(html, siteOrigin string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var urls []string
	seen := make(map[string]bool)
	doc.Find(`a[href*="/perfume/"]`).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || strings.ContainsAny(href, "#?") {
			return
		}
		if strings.HasPrefix(href, "/") {
			href = siteOrigin + href
		}
		if !perfumePathPattern.MatchString(href) {
			return
		}
		if !seen[href] {
			seen[href] = true
			urls = append(urls, href)
		}
	})
	return urls
}
