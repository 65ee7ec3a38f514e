package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter mounts every API route. Catalog reads are public; scrape
// and mutation endpoints sit behind the API key check.
func NewRouter(h *Handlers, apiKeys []string, health http.HandlerFunc) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/perfumes", h.ListPerfumes)
		r.Get("/perfumes/{id}", h.GetPerfume)
		r.Get("/brands", h.GetBrands)
		r.Get("/stats", h.GetStats)

		r.Group(func(r chi.Router) {
			r.Use(RequireAPIKey(apiKeys))

			r.Post("/perfumes", h.CreatePerfume)
			r.Put("/perfumes/{id}", h.UpdatePerfume)
			r.Delete("/perfumes/{id}", h.DeletePerfume)

			r.Route("/scrape", func(r chi.Router) {
				r.Get("/perfume", h.ScrapePerfume)
				r.Post("/batch", h.BatchScrape)
				r.Post("/sitemap", h.DiscoverSitemap)

				r.Post("/queue", h.EnqueueURLs)
				r.Post("/queue/check", h.CheckURLs)
				r.Post("/queue/start", h.StartQueue)
				r.Post("/queue/stop", h.StopQueue)
				r.Get("/queue/status", h.QueueStatus)
				r.Delete("/queue", h.ClearQueue)

				r.Get("/cache/stats", h.CacheStats)
				r.Delete("/cache", h.FlushCache)
			})
		})
	})

	return r
}
