package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scentbase/perfume-catalog/internal/cache"
	"github.com/scentbase/perfume-catalog/internal/fetcher"
	"github.com/scentbase/perfume-catalog/internal/models"
	"github.com/scentbase/perfume-catalog/internal/queue"
	"github.com/scentbase/perfume-catalog/internal/scraper"
	"github.com/scentbase/perfume-catalog/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeScraper struct {
	results map[string]*models.Perfume
	errs    map[string]error
	calls   []string
}

func (s *fakeScraper) Scrape(_ context.Context, url string) (*models.Perfume, error) {
	s.calls = append(s.calls, url)
	if err, ok := s.errs[url]; ok {
		return nil, err
	}
	if p, ok := s.results[url]; ok {
		return p, nil
	}
	return nil, &fetcher.Error{Kind: fetcher.KindNetworkFailure, URL: url}
}

type fakeDiscoverer struct {
	urls []string
	err  error
}

func (d *fakeDiscoverer) DiscoverBrand(_ context.Context, _ string, limit int) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	if limit > 0 && len(d.urls) > limit {
		return d.urls[:limit], nil
	}
	return d.urls, nil
}

type fakeQueue struct {
	enqueued []string
	added    int
	skipped  int
	startOK  bool
	startMsg string
	starts   int
	stops    int
	clears   int
	status   queue.Status
}

func (q *fakeQueue) Enqueue(_ context.Context, urls []string) (int, int) {
	q.enqueued = append(q.enqueued, urls...)
	return q.added, q.skipped
}

func (q *fakeQueue) Start() (bool, string) {
	q.starts++
	return q.startOK, q.startMsg
}

func (q *fakeQueue) Stop() queue.Status {
	q.stops++
	return q.status
}

func (q *fakeQueue) Status() queue.Status { return q.status }

func (q *fakeQueue) Clear() { q.clears++ }

type fakeCache struct {
	stats   cache.Stats
	flushes int
}

func (c *fakeCache) Stats() cache.Stats { return c.stats }
func (c *fakeCache) Flush()             { c.flushes++ }

type fixture struct {
	store   *store.Memory
	scraper *fakeScraper
	disc    *fakeDiscoverer
	queue   *fakeQueue
	cache   *fakeCache
	router  http.Handler
}

func newFixture(t *testing.T, apiKeys []string) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.NewMemory(),
		scraper: &fakeScraper{results: map[string]*models.Perfume{}, errs: map[string]error{}},
		disc:    &fakeDiscoverer{},
		queue:   &fakeQueue{startOK: true, startMsg: "queue processing started"},
		cache:   &fakeCache{},
	}
	h := NewHandlers(f.store, f.scraper, f.disc, f.queue, f.cache, 3, testLogger())
	health := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	f.router = NewRouter(h, apiKeys, health)
	return f
}

func (f *fixture) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func seedPerfume(t *testing.T, f *fixture, name, brand string) *models.Perfume {
	t.Helper()
	p := models.NewPerfume("https://x/" + name + ".html")
	p.Name = name
	p.Brand = brand
	stored, err := f.store.Add(context.Background(), p)
	require.NoError(t, err)
	return stored
}

func validRecord(url string) *models.Perfume {
	p := models.NewPerfume(url)
	p.Name = "Aventus"
	p.Brand = "Creed"
	return p
}

func TestListPerfumes(t *testing.T) {
	f := newFixture(t, nil)
	seedPerfume(t, f, "Aventus", "Creed")
	seedPerfume(t, f, "Chance", "Chanel")

	rec := f.request(t, http.MethodGet, "/api/perfumes?brand=Creed", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result store.ListResult
	decodeBody(t, rec, &result)
	assert.Equal(t, 1, result.Total)
	require.Len(t, result.Data, 1)
	assert.Equal(t, "Aventus", result.Data[0].Name)
}

func TestGetPerfume(t *testing.T) {
	f := newFixture(t, nil)
	stored := seedPerfume(t, f, "Aventus", "Creed")

	rec := f.request(t, http.MethodGet, "/api/perfumes/"+stored.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/perfumes/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatePerfume(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.request(t, http.MethodPost, "/api/perfumes", validRecord("https://x/a.html"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Perfume
	decodeBody(t, rec, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Aventus", created.Name)

	// Missing name is rejected.
	bad := validRecord("u")
	bad.Name = ""
	rec = f.request(t, http.MethodPost, "/api/perfumes", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePerfume(t *testing.T) {
	f := newFixture(t, nil)
	stored := seedPerfume(t, f, "Aventus", "Creed")

	stored.Rating = 4.4
	rec := f.request(t, http.MethodPut, "/api/perfumes/"+stored.ID, stored)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated models.Perfume
	decodeBody(t, rec, &updated)
	assert.InDelta(t, 4.4, updated.Rating, 0.001)
}

func TestUpdatePerfumeValidation(t *testing.T) {
	f := newFixture(t, nil)
	stored := seedPerfume(t, f, "Aventus", "Creed")

	stored.Name = ""
	rec := f.request(t, http.MethodPut, "/api/perfumes/"+stored.ID, stored)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeletePerfume(t *testing.T) {
	f := newFixture(t, nil)
	stored := seedPerfume(t, f, "Aventus", "Creed")

	rec := f.request(t, http.MethodDelete, "/api/perfumes/"+stored.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodDelete, "/api/perfumes/"+stored.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScrapePerfume(t *testing.T) {
	f := newFixture(t, nil)
	url := "https://x/a.html"
	f.scraper.results[url] = validRecord(url)

	rec := f.request(t, http.MethodGet, "/api/scrape/perfume?url="+url, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ScrapePerfumeResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "Aventus", resp.Perfume.Name)
	assert.False(t, resp.Saved)

	// Nothing persisted without save=true.
	urls, err := f.store.GetAllSourceURLs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestScrapePerfumeWithSave(t *testing.T) {
	f := newFixture(t, nil)
	url := "https://x/a.html"
	f.scraper.results[url] = validRecord(url)

	rec := f.request(t, http.MethodGet, "/api/scrape/perfume?url="+url+"&save=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ScrapePerfumeResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Saved)

	urls, err := f.store.GetAllSourceURLs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{url}, urls)
}

func TestScrapePerfumeErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "rate limited",
			err:      &fetcher.Error{Kind: fetcher.KindRateLimited, URL: "u"},
			expected: http.StatusTooManyRequests,
		},
		{
			name:     "network failure",
			err:      &fetcher.Error{Kind: fetcher.KindNetworkFailure, URL: "u"},
			expected: http.StatusBadGateway,
		},
		{
			name:     "invalid data",
			err:      &scraper.ValidationError{URL: "u", Reason: "perfume name not found"},
			expected: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			url := "https://x/a.html"
			f.scraper.errs[url] = tt.err

			rec := f.request(t, http.MethodGet, "/api/scrape/perfume?url="+url, nil)
			assert.Equal(t, tt.expected, rec.Code)
		})
	}
}

func TestScrapePerfumeRequiresURL(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.request(t, http.MethodGet, "/api/scrape/perfume", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchScrapeMixedResults(t *testing.T) {
	f := newFixture(t, nil)
	f.scraper.results["https://x/a.html"] = validRecord("https://x/a.html")
	f.scraper.results["https://x/b.html"] = validRecord("https://x/b.html")
	f.scraper.errs["https://x/bad.html"] = &scraper.ValidationError{URL: "https://x/bad.html", Reason: "perfume name not found"}

	rec := f.request(t, http.MethodPost, "/api/scrape/batch", BatchScrapeRequest{
		URLs: []string{"https://x/a.html", "https://x/bad.html", "https://x/b.html"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BatchScrapeResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 3)

	// A synchronous batch never touches the queue.
	assert.Empty(t, f.queue.enqueued)
	assert.Zero(t, f.queue.starts)
}

func TestBatchScrapeRejectsOversizedBatch(t *testing.T) {
	f := newFixture(t, nil) // maxBatch is 3

	rec := f.request(t, http.MethodPost, "/api/scrape/batch", BatchScrapeRequest{
		URLs: []string{"a", "b", "c", "d"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.scraper.calls)
}

func TestBatchScrapeAbortsOnRateLimit(t *testing.T) {
	f := newFixture(t, nil)
	f.scraper.results["https://x/a.html"] = validRecord("https://x/a.html")
	f.scraper.errs["https://x/limited.html"] = &fetcher.Error{Kind: fetcher.KindRateLimited, URL: "https://x/limited.html"}
	f.scraper.results["https://x/never.html"] = validRecord("https://x/never.html")

	rec := f.request(t, http.MethodPost, "/api/scrape/batch", BatchScrapeRequest{
		URLs: []string{"https://x/a.html", "https://x/limited.html", "https://x/never.html"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BatchScrapeResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 1, resp.Succeeded)
	assert.Equal(t, 2, resp.Failed)
	// The third URL was never fetched.
	assert.Equal(t, []string{"https://x/a.html", "https://x/limited.html"}, f.scraper.calls)
}

func TestDiscoverSitemap(t *testing.T) {
	f := newFixture(t, nil)
	f.disc.urls = []string{"https://x/a.html", "https://x/b.html"}
	f.queue.added = 2

	rec := f.request(t, http.MethodPost, "/api/scrape/sitemap", SitemapRequest{
		Brand:   "Creed",
		Enqueue: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SitemapResponse
	decodeBody(t, rec, &resp)
	assert.Len(t, resp.URLs, 2)
	assert.Equal(t, 2, resp.Enqueued)
	assert.Equal(t, f.disc.urls, f.queue.enqueued)
}

func TestDiscoverSitemapRequiresBrand(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.request(t, http.MethodPost, "/api/scrape/sitemap", SitemapRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnqueueURLs(t *testing.T) {
	f := newFixture(t, nil)
	f.queue.added = 2
	f.queue.skipped = 1

	rec := f.request(t, http.MethodPost, "/api/scrape/queue", EnqueueRequest{
		URLs: []string{"a", "b", "c"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EnqueueResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 2, resp.Added)
	assert.Equal(t, 1, resp.Skipped)
}

func TestCheckURLs(t *testing.T) {
	f := newFixture(t, nil)
	seedPerfume(t, f, "Aventus", "Creed")

	rec := f.request(t, http.MethodPost, "/api/scrape/queue/check", CheckURLsRequest{
		URLs: []string{"https://x/Aventus.html", "https://x/new.html"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CheckURLsResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, []string{"https://x/new.html"}, resp.New)
	assert.Equal(t, []string{"https://x/Aventus.html"}, resp.Existing)
}

func TestQueueLifecycleEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.request(t, http.MethodPost, "/api/scrape/queue/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.queue.starts)

	f.queue.startOK = false
	f.queue.startMsg = "queue is empty"
	rec = f.request(t, http.MethodPost, "/api/scrape/queue/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/scrape/queue/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.queue.stops)

	rec = f.request(t, http.MethodGet, "/api/scrape/queue/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodDelete, "/api/scrape/queue", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.queue.clears)
	assert.Equal(t, 2, f.queue.stops, "clear stops the queue first")
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	f.cache.stats = cache.Stats{Hits: 5, Misses: 2, KeyCount: 3}

	rec := f.request(t, http.MethodGet, "/api/scrape/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats cache.Stats
	decodeBody(t, rec, &stats)
	assert.Equal(t, int64(5), stats.Hits)

	rec = f.request(t, http.MethodDelete, "/api/scrape/cache", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.cache.flushes)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	f := newFixture(t, []string{"secret-key"})
	seedPerfume(t, f, "Aventus", "Creed")

	// Reads stay open.
	rec := f.request(t, http.MethodGet, "/api/perfumes", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Mutations need the key.
	req := httptest.NewRequest(http.MethodDelete, "/api/scrape/cache", nil)
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/scrape/cache", nil)
	req.Header.Set("X-API-Key", "wrong")
	res = httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/scrape/cache", nil)
	req.Header.Set("X-API-Key", "secret-key")
	res = httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	assert.Equal(t, http.StatusOK, res.Code)
}
