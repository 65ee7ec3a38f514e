package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/scentbase/perfume-catalog/internal/api"
	"github.com/scentbase/perfume-catalog/internal/browser"
	"github.com/scentbase/perfume-catalog/internal/cache"
	"github.com/scentbase/perfume-catalog/internal/config"
	"github.com/scentbase/perfume-catalog/internal/database"
	"github.com/scentbase/perfume-catalog/internal/events"
	"github.com/scentbase/perfume-catalog/internal/fetcher"
	"github.com/scentbase/perfume-catalog/internal/queue"
	"github.com/scentbase/perfume-catalog/internal/ratelimit"
	"github.com/scentbase/perfume-catalog/internal/scraper"
	"github.com/scentbase/perfume-catalog/internal/store"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage: Postgres when configured, otherwise in-memory.
	var (
		recordStore store.Store
		db          *database.DB
		relay       *database.Relay
	)
	if cfg.Database.Enabled() {
		db, err = database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		var recorder database.EventRecorder
		if cfg.Redis.Enabled() {
			recorder = events.NewPublisher(database.NewOutboxRepository(db))
		}

		pgStore := database.NewPerfumeStore(db, recorder)
		if err := pgStore.InitSchema(ctx); err != nil {
			logger.Error("failed to init schema", "error", err)
			os.Exit(1)
		}
		recordStore = pgStore
		logger.Info("using postgres store", "host", cfg.Database.Host, "db", cfg.Database.Name)
	} else {
		recordStore = store.NewMemory()
		logger.Warn("no database configured, using in-memory store")
	}

	// Outbox relay needs both Postgres and Redis.
	if db != nil && cfg.Redis.Enabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}

		relay = database.NewRelay(db, redisClient, logger, database.RelayConfig{})
		go func() {
			if err := relay.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
	}

	// Scraping pipeline.
	recordCache := cache.New(cfg.Scraper.CacheTTL)
	pageFetcher := fetcher.New(fetcher.Options{
		Browser: &browser.Options{
			Headless:       cfg.Scraper.Headless,
			Timeout:        cfg.Scraper.Timeout,
			UserAgent:      browser.DefaultOptions().UserAgent,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			AcceptLanguage: "en-US,en;q=0.9",
			Locale:         "en-US",
			ExtraHeaders:   browser.DefaultOptions().ExtraHeaders,
		},
		BlockSignatures: cfg.Scraper.BlockSignatures,
		ContentTimeout:  cfg.Scraper.ContentTimeout,
	}, ratelimit.NewDelayLimiter(cfg.Scraper.FetchDelay), logger)

	extractor := scraper.NewExtractor(cfg.Scraper.SiteOrigin)
	perfumeScraper := scraper.New(pageFetcher, recordCache, extractor, cfg.Scraper.BlockSignatures, logger)
	discoverer := scraper.NewURLDiscoverer(pageFetcher, cfg.Scraper.SiteOrigin, logger)

	queueManager := queue.NewManager(perfumeScraper, recordStore, queue.Config{
		ItemDelay:      cfg.Scraper.ItemDelay,
		RateLimitPause: cfg.Scraper.RateLimitPause,
		RateLimitLimit: cfg.Scraper.RateLimitLimit,
	}, logger)

	handlers := api.NewHandlers(recordStore, perfumeScraper, discoverer, queueManager,
		recordCache, cfg.Scraper.MaxBatchSize, logger)

	health := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		body := map[string]interface{}{
			"status":  "ok",
			"storage": "memory",
			"queue":   queueManager.Status(),
		}
		if db != nil {
			body["storage"] = "postgres"
		}
		if relay != nil {
			pending, _ := relay.GetPendingCount(r.Context())
			deadLetter, _ := relay.GetDeadLetterCount(r.Context())
			body["outbox"] = map[string]int64{
				"pending":     pending,
				"dead_letter": deadLetter,
			}
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(body)
	}

	router := api.NewRouter(handlers, cfg.Auth.APIKeys, health)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		queueManager.Stop()
		queueManager.Wait()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
