package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/scentbase/perfume-catalog/internal/cache"
	"github.com/scentbase/perfume-catalog/internal/fetcher"
	"github.com/scentbase/perfume-catalog/internal/models"
	"github.com/scentbase/perfume-catalog/internal/queue"
	"github.com/scentbase/perfume-catalog/internal/scraper"
	"github.com/scentbase/perfume-catalog/internal/store"
)

// Scraper is the synchronous single-URL scrape operation.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*models.Perfume, error)
}

// Discoverer finds product URLs for a whole brand.
type Discoverer interface {
	DiscoverBrand(ctx context.Context, brand string, limit int) ([]string, error)
}

// QueueManager is the queue surface the HTTP layer drives.
type QueueManager interface {
	Enqueue(ctx context.Context, urls []string) (added, skipped int)
	Start() (bool, string)
	Stop() queue.Status
	Status() queue.Status
	Clear()
}

// CacheControl exposes the response cache to the admin endpoints.
type CacheControl interface {
	Stats() cache.Stats
	Flush()
}

type Handlers struct {
	store      store.Store
	scraper    Scraper
	discoverer Discoverer
	queue      QueueManager
	cache      CacheControl
	maxBatch   int
	logger     *slog.Logger
}

func NewHandlers(st store.Store, sc Scraper, d Discoverer, q QueueManager, c CacheControl, maxBatch int, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:      st,
		scraper:    sc,
		discoverer: d,
		queue:      q,
		cache:      c,
		maxBatch:   maxBatch,
		logger:     logger,
	}
}

// ListPerfumes handles catalog browsing with filters and pagination.
func (h *Handlers) ListPerfumes(w http.ResponseWriter, r *http.Request) {
	q := store.ListQuery{
		Page:   queryInt(r, "page", 1),
		Limit:  queryInt(r, "limit", 12),
		Brand:  r.URL.Query().Get("brand"),
		Gender: r.URL.Query().Get("gender"),
		Search: r.URL.Query().Get("search"),
		SortBy: r.URL.Query().Get("sortBy"),
	}

	result, err := h.store.List(r.Context(), q)
	if err != nil {
		h.logger.Error("failed to list perfumes", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list perfumes")
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// GetPerfume handles single-record retrieval.
func (h *Handlers) GetPerfume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	perfume, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "perfume not found")
			return
		}
		h.logger.Error("failed to get perfume", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get perfume")
		return
	}

	h.respondJSON(w, http.StatusOK, perfume)
}

// CreatePerfume handles manual record creation, bypassing the scraper.
func (h *Handlers) CreatePerfume(w http.ResponseWriter, r *http.Request) {
	var perfume models.Perfume
	if err := json.NewDecoder(r.Body).Decode(&perfume); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if perfume.Gender == "" {
		perfume.Gender = models.GenderUnisex
	}

	if problems := perfume.Validate(); len(problems) > 0 {
		h.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":    "validation failed",
			"problems": problems,
		})
		return
	}

	stored, err := h.store.Add(r.Context(), &perfume)
	if err != nil {
		h.logger.Error("failed to create perfume", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create perfume")
		return
	}

	h.respondJSON(w, http.StatusCreated, stored)
}

// UpdatePerfume handles full-record updates.
func (h *Handlers) UpdatePerfume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var perfume models.Perfume
	if err := json.NewDecoder(r.Body).Decode(&perfume); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	perfume.ID = id

	if problems := perfume.Validate(); len(problems) > 0 {
		h.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":    "validation failed",
			"problems": problems,
		})
		return
	}

	updated, err := h.store.Update(r.Context(), &perfume)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "perfume not found")
			return
		}
		h.logger.Error("failed to update perfume", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to update perfume")
		return
	}

	h.respondJSON(w, http.StatusOK, updated)
}

// DeletePerfume handles record deletion.
func (h *Handlers) DeletePerfume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "perfume not found")
			return
		}
		h.logger.Error("failed to delete perfume", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to delete perfume")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"message": "perfume deleted"})
}

// GetBrands returns the distinct brands in the catalog.
func (h *Handlers) GetBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := h.store.GetBrands(r.Context())
	if err != nil {
		h.logger.Error("failed to get brands", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get brands")
		return
	}
	if brands == nil {
		brands = []string{}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"brands": brands})
}

// GetStats returns catalog totals.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// ScrapePerfumeResponse is the single-scrape payload.
type ScrapePerfumeResponse struct {
	Perfume *models.Perfume `json:"perfume"`
	Saved   bool            `json:"saved"`
}

// ScrapePerfume handles a synchronous scrape of one product URL.
// With save=true the record is persisted on success.
func (h *Handlers) ScrapePerfume(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		h.respondError(w, http.StatusBadRequest, "url parameter is required")
		return
	}
	save := r.URL.Query().Get("save") == "true"

	perfume, err := h.scraper.Scrape(r.Context(), url)
	if err != nil {
		h.respondScrapeError(w, url, err)
		return
	}

	resp := ScrapePerfumeResponse{Perfume: perfume}
	if save {
		stored, err := h.store.Add(r.Context(), perfume)
		if err != nil {
			h.logger.Error("failed to save perfume", "url", url, "error", err)
			h.respondError(w, http.StatusInternalServerError, "scraped but failed to save")
			return
		}
		resp.Perfume = stored
		resp.Saved = true
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// BatchScrapeRequest asks for a small set of URLs scraped in order.
type BatchScrapeRequest struct {
	URLs []string `json:"urls"`
	Save bool     `json:"save"`
}

type BatchScrapeItem struct {
	URL     string          `json:"url"`
	Perfume *models.Perfume `json:"perfume,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type BatchScrapeResponse struct {
	Results   []BatchScrapeItem `json:"results"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

// BatchScrape handles a synchronous sequential scrape of up to
// maxBatch URLs. Larger sets belong on the queue. A rate limit aborts
// the remainder of the batch.
func (h *Handlers) BatchScrape(w http.ResponseWriter, r *http.Request) {
	var req BatchScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.URLs) == 0 {
		h.respondError(w, http.StatusBadRequest, "urls is required")
		return
	}
	if len(req.URLs) > h.maxBatch {
		h.respondError(w, http.StatusBadRequest,
			"too many urls for a synchronous batch, use the queue instead")
		return
	}

	resp := BatchScrapeResponse{Results: []BatchScrapeItem{}}
	for i, url := range req.URLs {
		perfume, err := h.scraper.Scrape(r.Context(), url)
		if err != nil {
			resp.Failed++
			resp.Results = append(resp.Results, BatchScrapeItem{URL: url, Error: err.Error()})

			var fe *fetcher.Error
			if errors.As(err, &fe) && fe.Kind == fetcher.KindRateLimited {
				for _, skipped := range req.URLs[i+1:] {
					resp.Failed++
					resp.Results = append(resp.Results, BatchScrapeItem{
						URL: skipped, Error: "skipped: batch aborted after rate limit",
					})
				}
				break
			}
			continue
		}

		if req.Save {
			if stored, err := h.store.Add(r.Context(), perfume); err != nil {
				resp.Failed++
				resp.Results = append(resp.Results, BatchScrapeItem{URL: url, Error: err.Error()})
				continue
			} else {
				perfume = stored
			}
		}
		resp.Succeeded++
		resp.Results = append(resp.Results, BatchScrapeItem{URL: url, Perfume: perfume})
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// SitemapRequest asks for a brand's product URLs.
type SitemapRequest struct {
	Brand   string `json:"brand"`
	Limit   int    `json:"limit"`
	Enqueue bool   `json:"enqueue"`
}

type SitemapResponse struct {
	Brand    string   `json:"brand"`
	URLs     []string `json:"urls"`
	Enqueued int      `json:"enqueued"`
	Skipped  int      `json:"skipped"`
}

// DiscoverSitemap renders a brand's designer page and returns its
// product URLs, optionally pushing them straight onto the queue.
func (h *Handlers) DiscoverSitemap(w http.ResponseWriter, r *http.Request) {
	var req SitemapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Brand == "" {
		h.respondError(w, http.StatusBadRequest, "brand is required")
		return
	}

	urls, err := h.discoverer.DiscoverBrand(r.Context(), req.Brand, req.Limit)
	if err != nil {
		h.respondScrapeError(w, req.Brand, err)
		return
	}
	if urls == nil {
		urls = []string{}
	}

	resp := SitemapResponse{Brand: req.Brand, URLs: urls}
	if req.Enqueue && len(urls) > 0 {
		resp.Enqueued, resp.Skipped = h.queue.Enqueue(r.Context(), urls)
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// EnqueueRequest adds URLs to the scraping queue.
type EnqueueRequest struct {
	URLs []string `json:"urls"`
}

type EnqueueResponse struct {
	Added   int          `json:"added"`
	Skipped int          `json:"skipped"`
	Status  queue.Status `json:"status"`
}

// EnqueueURLs handles adding URLs to the queue, deduplicated against
// the queue itself and the store.
func (h *Handlers) EnqueueURLs(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.URLs) == 0 {
		h.respondError(w, http.StatusBadRequest, "urls is required")
		return
	}

	added, skipped := h.queue.Enqueue(r.Context(), req.URLs)
	h.respondJSON(w, http.StatusOK, EnqueueResponse{
		Added:   added,
		Skipped: skipped,
		Status:  h.queue.Status(),
	})
}

// CheckURLsRequest asks which URLs are already in the catalog.
type CheckURLsRequest struct {
	URLs []string `json:"urls"`
}

type CheckURLsResponse struct {
	New      []string `json:"new"`
	Existing []string `json:"existing"`
}

// CheckURLs splits a URL set into already-scraped and new, without
// touching the queue.
func (h *Handlers) CheckURLs(w http.ResponseWriter, r *http.Request) {
	var req CheckURLsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.URLs) == 0 {
		h.respondError(w, http.StatusBadRequest, "urls is required")
		return
	}

	known, err := h.store.GetAllSourceURLs(r.Context())
	if err != nil {
		h.logger.Error("failed to get source urls", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to check urls")
		return
	}

	knownSet := make(map[string]bool, len(known))
	for _, u := range known {
		knownSet[u] = true
	}

	resp := CheckURLsResponse{New: []string{}, Existing: []string{}}
	for _, u := range req.URLs {
		if knownSet[u] {
			resp.Existing = append(resp.Existing, u)
		} else {
			resp.New = append(resp.New, u)
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// StartQueue handles starting the background drain loop.
func (h *Handlers) StartQueue(w http.ResponseWriter, r *http.Request) {
	started, message := h.queue.Start()
	status := http.StatusOK
	if !started {
		status = http.StatusConflict
	}
	h.respondJSON(w, status, map[string]interface{}{
		"started": started,
		"message": message,
		"status":  h.queue.Status(),
	})
}

// StopQueue handles stopping the drain loop after the current item.
func (h *Handlers) StopQueue(w http.ResponseWriter, r *http.Request) {
	status := h.queue.Stop()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "queue stopped",
		"status":  status,
	})
}

// QueueStatus returns a snapshot of queue progress.
func (h *Handlers) QueueStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.queue.Status())
}

// ClearQueue empties the queue and resets its counters.
func (h *Handlers) ClearQueue(w http.ResponseWriter, r *http.Request) {
	h.queue.Stop()
	h.queue.Clear()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "queue cleared",
		"status":  h.queue.Status(),
	})
}

// CacheStats returns hit/miss counters for the response cache.
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.cache.Stats())
}

// FlushCache drops all cached records.
func (h *Handlers) FlushCache(w http.ResponseWriter, r *http.Request) {
	h.cache.Flush()
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "cache cleared"})
}

// respondScrapeError maps scrape failures onto HTTP statuses: rate
// limits become 429, bad pages 422, everything else 502.
func (h *Handlers) respondScrapeError(w http.ResponseWriter, url string, err error) {
	h.logger.Error("scrape failed", "url", url, "error", err)

	var fe *fetcher.Error
	if errors.As(err, &fe) {
		if fe.Kind == fetcher.KindRateLimited {
			h.respondError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		h.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	var ve *scraper.ValidationError
	if errors.As(err, &ve) {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.respondError(w, http.StatusBadGateway, err.Error())
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
