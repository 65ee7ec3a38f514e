// Package scraper turns product-page URLs into perfume records. It
// composes the page fetcher, the field extractor and the response
// cache; retry policy lives one layer up in the queue manager.
package scraper

import (
	"context"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/scentbase/perfume-catalog/internal/fetcher"
	"github.com/scentbase/perfume-catalog/internal/models"
)

// Fetcher retrieves rendered HTML for one URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Result, error)
}

// Cache keeps records for recently scraped URLs.
type Cache interface {
	Get(key string) (*models.Perfume, bool)
	Set(key string, record *models.Perfume)
}

type PerfumeScraper struct {
	fetcher    Fetcher
	cache      Cache
	extractor  *Extractor
	signatures []string
	logger     *slog.Logger
}

func New(f Fetcher, c Cache, e *Extractor, blockSignatures []string, logger *slog.Logger) *PerfumeScraper {
	return &PerfumeScraper{
		fetcher:    f,
		cache:      c,
		extractor:  e,
		signatures: blockSignatures,
		logger:     logger.With("component", "scraper"),
	}
}

// Scrape returns the record for a product page, from cache when a
// non-expired entry exists. Errors from the fetcher and from validation
// propagate unchanged.
func (s *PerfumeScraper) Scrape(ctx context.Context, url string) (*models.Perfume, error) {
	if cached, ok := s.cache.Get(url); ok {
		s.logger.Debug("cache hit", "url", url)
		return cached, nil
	}

	s.logger.Info("scraping", "url", url)

	result, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(result.HTML))
	if err != nil {
		return nil, &ValidationError{URL: url, Reason: "unparseable document"}
	}

	perfume := s.extractor.Extract(doc, url)

	if err := s.validate(perfume, url); err != nil {
		return nil, err
	}

	s.cache.Set(url, perfume)
	s.logger.Info("scraped", "url", url, "name", perfume.Name, "brand", perfume.Brand)

	return perfume, nil
}

// validate rejects records that are failures dressed as data. The
// name/signature check doubles up on the fetcher's block detection in
// case a block page slipped through with a plausible layout.
func (s *PerfumeScraper) validate(p *models.Perfume, url string) error {
	if p.Name == "" {
		return &ValidationError{URL: url, Reason: "perfume name not found"}
	}

	lowerName := strings.ToLower(p.Name)
	for _, sig := range s.signatures {
		if strings.Contains(lowerName, strings.ToLower(sig)) {
			return &ValidationError{URL: url, Reason: "name matches a block-page signature"}
		}
	}

	if p.Brand == "" {
		return &ValidationError{URL: url, Reason: "brand not found"}
	}

	return nil
}
