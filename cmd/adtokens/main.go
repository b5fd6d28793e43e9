package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/adtokens/internal/config"
	dbValkey "github.com/kailas-cloud/adtokens/internal/db/valkey"
	"github.com/kailas-cloud/adtokens/internal/domain"
	logpkg "github.com/kailas-cloud/adtokens/internal/logger"
	"github.com/kailas-cloud/adtokens/internal/metrics"
	catalogrepo "github.com/kailas-cloud/adtokens/internal/repository/catalog"
	"github.com/kailas-cloud/adtokens/internal/repository/embcache"
	impressionrepo "github.com/kailas-cloud/adtokens/internal/repository/impression"
	qdrantrepo "github.com/kailas-cloud/adtokens/internal/repository/qdrant"
	"github.com/kailas-cloud/adtokens/internal/repository/sharedcache"
	chiTransport "github.com/kailas-cloud/adtokens/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/adtokens/internal/transport/openai"
	attributionuc "github.com/kailas-cloud/adtokens/internal/usecase/attribution"
	cataloguc "github.com/kailas-cloud/adtokens/internal/usecase/catalog"
	embeddinguc "github.com/kailas-cloud/adtokens/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/adtokens/internal/usecase/health"
	"github.com/kailas-cloud/adtokens/internal/usecase/ratelimit"
	"github.com/kailas-cloud/adtokens/internal/usecase/resultcache"
	searchuc "github.com/kailas-cloud/adtokens/internal/usecase/search"
	"github.com/kailas-cloud/adtokens/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting adtokens API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("index_driver", cfg.Index.Driver),
		zap.String("impressions_driver", cfg.Impressions.Driver),
		zap.Int("api_keys", len(cfg.Auth.Keys)),
	)

	store, err := dbValkey.NewStore(dbValkey.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()
	metrics.RegisterHTTPMetrics()

	embedder := buildEmbedder(cfg.Embedding, store, logger)
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	healthSvc := healthuc.New(store, newEmbeddingHealthChecker(embedder))

	// Catalog in Valkey always owns the generation key, whichever index serves KNN.
	catalog := catalogrepo.New(store, cfg.Embedding.Dimensions).WithIndex(catalogrepo.IndexConfig{
		Flat:        cfg.Index.Algorithm == "flat",
		M:           cfg.Index.HNSWM,
		EFConstruct: cfg.Index.HNSWEFConstruct,
	})
	var index searchuc.ProductIndex = catalog
	if cfg.Index.Driver == "qdrant" {
		q, err := qdrantrepo.New(qdrantrepo.Config{
			URL:        cfg.Index.Qdrant.URL,
			Collection: cfg.Index.Qdrant.Collection,
			APIKey:     cfg.Index.Qdrant.APIKey,
			VectorDim:  cfg.Embedding.Dimensions,
		})
		if err != nil {
			logger.Fatal("Failed to create qdrant index", zap.Error(err))
		}
		defer func() { _ = q.Close() }()
		index = q
		healthSvc.WithCheck("index", q)
	}

	// Pass nil interface (not typed nil pointer!) if the shared tier is off.
	var shared resultcache.Shared
	if cfg.Cache.Shared.Enabled {
		client, err := sharedcache.NewClient(ctx, sharedcache.Config{
			Addr:     cfg.Cache.Shared.Addr,
			Password: cfg.Cache.Shared.Password,
			DB:       cfg.Cache.Shared.DB,
		})
		if err != nil {
			logger.Fatal("Failed to connect shared cache", zap.Error(err))
		}
		defer func() { _ = client.Close() }()
		sc := sharedcache.New(client, logger)
		shared = sc
		healthSvc.WithCheck("shared_cache", sc)
	}

	cache, err := resultcache.New(resultcache.Config{
		Size: cfg.Cache.Size,
		TTL:  cfg.Cache.TTL(),
	}, shared, logger)
	if err != nil {
		logger.Fatal("Failed to create result cache", zap.Error(err))
	}

	impStore, err := buildImpressionStore(cfg, store)
	if err != nil {
		logger.Fatal("Failed to create impression store", zap.Error(err))
	}
	attribution := attributionuc.New(impStore, attributionuc.Config{
		Retention:    cfg.Impressions.Retention(),
		QueueSize:    cfg.Impressions.QueueSize,
		Workers:      cfg.Impressions.Workers,
		MaxAttempts:  cfg.Impressions.MaxAttempts,
		RetryBackoff: time.Duration(cfg.Impressions.RetryBackoffMs) * time.Millisecond,
		MaxReason:    cfg.Impressions.MaxReasonLength,
	}, logger)

	searchSvc := searchuc.New(searchuc.Config{
		OverFetch:        cfg.Search.OverFetch,
		EmbeddingTimeout: time.Duration(cfg.Search.EmbeddingTimeoutMs) * time.Millisecond,
		RetrievalTimeout: time.Duration(cfg.Search.RetrievalTimeoutMs) * time.Millisecond,
		RetryBackoff:     time.Duration(cfg.Search.RetryBackoffMs) * time.Millisecond,
		MaxBatch:         cfg.Search.MaxBatch,
		BatchConcurrency: cfg.Search.BatchConcurrency,
		ModelVersion:     cfg.Search.ModelVersion,
		Weights: searchuc.Weights{
			Similarity:       cfg.Ranking.SimilarityWeight,
			Recency:          cfg.Ranking.RecencyWeight,
			Boost:            cfg.Ranking.BoostWeight,
			HalfLife:         time.Duration(cfg.Ranking.RecencyHalfLifeDay) * 24 * time.Hour,
			InStockBoost:     cfg.Ranking.InStockBoost,
			MerchantPriority: cfg.Ranking.MerchantPriority,
		},
	}, index, embedder, cache, attribution, logger)

	limiter := ratelimit.New(ratelimit.Config{
		Capacity:     cfg.RateLimit.Capacity,
		RefillPerSec: cfg.RateLimit.RefillPerSec,
		Shards:       cfg.RateLimit.Shards,
		IdleTTL:      time.Duration(cfg.RateLimit.IdleTTLSec) * time.Second,
	})
	watcher := cataloguc.NewWatcher(catalog, cache,
		time.Duration(cfg.Catalog.WatchIntervalSec)*time.Second, logger)

	// Background workers stop after the HTTP server has drained.
	bgCtx, stopBackground := context.WithCancel(ctx)
	var bg sync.WaitGroup
	runBackground(&bg, func() { attribution.Run(bgCtx) })
	runBackground(&bg, func() { watcher.Run(bgCtx) })
	if cfg.RateLimit.IsEnabled() {
		runBackground(&bg, func() {
			limiter.Run(bgCtx, time.Duration(cfg.RateLimit.SweepIntervalSec)*time.Second)
		})
	}

	server := chiTransport.NewServer(searchSvc, attribution, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RealIP)
	r.Use(chiTransport.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	r.Use(chiTransport.AuthMiddleware(apiKeys(cfg.Auth)))
	if cfg.RateLimit.IsEnabled() {
		r.Use(chiTransport.RateLimitMiddleware(limiter))
	}
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	stopBackground()
	bg.Wait()
	logger.Info("Server stopped gracefully", zap.Int("pending_impression_retries", attribution.Pending()))
}

func runBackground(wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
}

func apiKeys(cfg config.AuthConfig) []chiTransport.APIKey {
	keys := make([]chiTransport.APIKey, len(cfg.Keys))
	for i, k := range cfg.Keys {
		keys[i] = chiTransport.APIKey{Name: k.Name, Key: k.Key, Enabled: k.IsEnabled()}
	}
	return keys
}

func buildImpressionStore(cfg config.Config, store *dbValkey.Store) (attributionuc.Store, error) {
	switch cfg.Impressions.Driver {
	case "memory":
		return impressionrepo.NewMemoryStore(), nil
	case "supabase":
		s, err := impressionrepo.NewSupabaseStore(impressionrepo.SupabaseConfig{
			URL:    cfg.Supabase.URL,
			APIKey: cfg.Supabase.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("supabase store: %w", err)
		}
		return s, nil
	default:
		return impressionrepo.NewValkeyStore(store, cfg.Impressions.Retention()), nil
	}
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction
func buildEmbedder(cfg config.EmbeddingConfig, store *dbValkey.Store, logger *zap.Logger) domain.Embedder {
	// Base provider (with transport metrics built-in)
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Provider:   cfg.Provider,
		Logger:     logger,
	})

	var embedder domain.Embedder = embcache.New(
		base, store, cfg.Model, time.Duration(cfg.CacheTTLSec)*time.Second,
		metrics.EmbeddingCacheTotal, logger,
	).WithLocal(cfg.LocalCacheSize, time.Hour)

	embedder = embeddinguc.NewInstrumentedEmbedder(
		embedder, cfg.Provider, cfg.Model, cfg.Dimensions, logger,
	)

	// Instruction prefix is outermost: the cache key includes it
	if cfg.QueryInstruction != "" {
		return domain.NewInstructionEmbedder(embedder, cfg.QueryInstruction)
	}

	return embedder
}
