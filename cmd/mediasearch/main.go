package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/config"
	"github.com/kailas-cloud/mediasearch/internal/db"
	dbMilvus "github.com/kailas-cloud/mediasearch/internal/db/milvus"
	dbQdrant "github.com/kailas-cloud/mediasearch/internal/db/qdrant"
	dbRedis "github.com/kailas-cloud/mediasearch/internal/db/redis"
	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
	logpkg "github.com/kailas-cloud/mediasearch/internal/logger"
	"github.com/kailas-cloud/mediasearch/internal/metrics"
	collectionrepo "github.com/kailas-cloud/mediasearch/internal/repository/collection"
	"github.com/kailas-cloud/mediasearch/internal/repository/embcache"
	"github.com/kailas-cloud/mediasearch/internal/repository/retriever"
	chiTransport "github.com/kailas-cloud/mediasearch/internal/transport/chi"
	lbEmb "github.com/kailas-cloud/mediasearch/internal/transport/languagebind"
	openaiEmb "github.com/kailas-cloud/mediasearch/internal/transport/openai"
	randomEmb "github.com/kailas-cloud/mediasearch/internal/transport/random"
	embeddinguc "github.com/kailas-cloud/mediasearch/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/mediasearch/internal/usecase/health"
	indexuc "github.com/kailas-cloud/mediasearch/internal/usecase/index"
	queryuc "github.com/kailas-cloud/mediasearch/internal/usecase/query"
	searchuc "github.com/kailas-cloud/mediasearch/internal/usecase/search"
	"github.com/kailas-cloud/mediasearch/internal/version"
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

	logger.Info("Starting mediasearch API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("vector_store", cfg.VectorStore.Driver),
		zap.String("vector_store_addr", cfg.VectorStore.Address),
		zap.String("embedder", cfg.Embedding.Driver),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterHTTPMetrics()
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterSearchMetrics()

	ctx := context.Background()

	store, err := newVectorStore(ctx, cfg.VectorStore, logger)
	if err != nil {
		logger.Fatal("Failed to create vector store", zap.Error(err))
	}
	defer store.Close()

	if err := store.WaitForReady(ctx, time.Duration(cfg.VectorStore.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Vector store not ready", zap.Error(err))
	}
	logger.Info("Connected to vector store")

	// Optional KV store for the embedding cache
	var kv *dbRedis.Store
	if cfg.Embedding.Cache.Enabled {
		kv, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Username: cfg.Cache.Username,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err != nil {
			logger.Fatal("Failed to create cache store", zap.Error(err))
		}
		defer kv.Close()
		if err := kv.WaitForReady(ctx, time.Duration(cfg.VectorStore.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Cache store not ready", zap.Error(err))
		}
	}

	// One retriever per served collection; modalities come from the stored partitions
	retrievers := loadRetrievers(ctx, store, cfg, logger)
	if len(retrievers) == 0 {
		logger.Fatal("No configured dataset is available in the vector store")
	}

	sessions := searchuc.NewRegistry(
		cfg.Search.MaxSessions, time.Duration(cfg.Search.SessionTTLSec)*time.Second, logger,
	)
	searchSvc := searchuc.New(retrievers, sessions, logger).
		WithRoundTimeout(time.Duration(cfg.Search.RoundTimeoutSec) * time.Second)

	// Build embedder chain (composition root)
	embedder := buildEmbedder(cfg.Embedding, kv, logger)

	collRepo := collectionrepo.New(store)
	querySvc := queryuc.New(embedder, searchSvc, collRepo, logger).
		WithPageSize(cfg.Search.DefaultPageSize, cfg.Search.MaxPageSize)
	indexSvc := indexuc.New(collRepo, searchSvc.Collections(), logger)

	healthSvc := healthuc.New(store, newEmbeddingHealthChecker(embedder), logger)
	if kv != nil {
		healthSvc.WithCache(kv)
	}

	server := chiTransport.NewServer(querySvc, indexSvc, healthSvc, logger).
		WithMaxUploadBytes(int64(cfg.Embedding.MaxUploadMB) << 20)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(chiTransport.RateLimitMiddleware(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst))
	r.Use(metrics.Middleware())
	chiTransport.HandlerWithOptions(server, chiTransport.ChiServerOptions{
		BaseRouter: r,
		ErrorHandlerFunc: func(w http.ResponseWriter, _ *http.Request, err error) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(chiTransport.ErrorResponse{
				Code:    chiTransport.ErrorResponseCodeBadRequest,
				Message: "invalid request",
			})
		},
	})

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
		logger.Info("Starting HTTP server", zap.String("addr", addr), zap.Int("collections", len(retrievers)))
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

	// Close live sessions before the deferred store Close releases the client.
	sessions.Close()

	logger.Info("Server stopped gracefully")
}

// newVectorStore connects the configured vector backend.
func newVectorStore(ctx context.Context, cfg config.VectorStoreConfig, logger *zap.Logger) (db.VectorStore, error) {
	switch cfg.Driver {
	case config.DriverMilvus:
		return dbMilvus.NewStore(ctx, dbMilvus.Config{
			Address:     cfg.Address,
			Username:    cfg.Username,
			Password:    cfg.Password,
			APIKey:      cfg.APIKey,
			DBName:      cfg.DBName,
			UseTLS:      cfg.UseTLS,
			IndexType:   cfg.IndexType,
			SearchParam: cfg.SearchParam,
		}, logger)
	case config.DriverQdrant:
		host, rawPort, err := net.SplitHostPort(cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("qdrant address %q: %w", cfg.Address, err)
		}
		port, err := strconv.Atoi(rawPort)
		if err != nil {
			return nil, fmt.Errorf("qdrant port %q: %w", rawPort, err)
		}
		return dbQdrant.NewStore(dbQdrant.Config{
			Host:       host,
			Port:       port,
			APIKey:     cfg.APIKey,
			UseTLS:     cfg.UseTLS,
			Partitions: modality.NewSet(modality.All()...).Strings(),
		}, logger)
	default:
		return nil, fmt.Errorf("unknown vector store driver %q", cfg.Driver)
	}
}

// loadRetrievers builds a retriever for every configured dataset found in the store.
// Missing or partition-less collections are logged and left out.
func loadRetrievers(
	ctx context.Context, store db.VectorStore, cfg config.Config, logger *zap.Logger,
) map[collection.Collection]searchuc.Retriever {
	retry := retriever.RetryConfig{
		MaxAttempts:    cfg.VectorStore.Retry.MaxAttempts,
		InitialBackoff: time.Duration(cfg.VectorStore.Retry.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.VectorStore.Retry.MaxBackoffMS) * time.Millisecond,
	}

	retrievers := make(map[collection.Collection]searchuc.Retriever, len(cfg.Datasets))
	for _, d := range cfg.Datasets {
		col, err := collection.New(d.Dataset, d.Version)
		if err != nil {
			logger.Fatal("Invalid dataset in config",
				zap.String("dataset", d.Dataset), zap.String("version", d.Version), zap.Error(err))
		}

		r, err := retriever.Load(ctx, store, col, logger)
		if err != nil {
			logger.Warn("Dataset not served", zap.Stringer("collection", col), zap.Error(err))
			continue
		}
		retrievers[col] = r.WithLimit(cfg.VectorStore.SearchLimit).WithRetry(retry)

		logger.Info("Dataset served",
			zap.Stringer("collection", col),
			zap.Strings("modalities", r.Modalities().Strings()))
	}
	return retrievers
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

// buildEmbedder assembles the decorator chain: provider -> Cached -> Instrumented.
func buildEmbedder(cfg config.EmbeddingConfig, kv *dbRedis.Store, logger *zap.Logger) domain.Embedder {
	var (
		base     domain.Embedder
		provider string
		model    string
	)
	switch cfg.Driver {
	case config.EmbedderOpenAI:
		provider, model = config.EmbedderOpenAI, cfg.OpenAI.Model
		base = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      cfg.OpenAI.Model,
			Dimensions: cfg.Dimensions,
			Provider:   provider,
			Logger:     logger,
		})
	case config.EmbedderRandom:
		provider, model = config.EmbedderRandom, "random"
		base = randomEmb.NewEmbedder(cfg.Dimensions)
	default:
		provider, model = config.EmbedderLanguageBind, domain.DefaultVectorConfig().Model
		base = lbEmb.NewEmbedder(&lbEmb.Config{
			BaseURL: cfg.LanguageBind.BaseURL,
			Timeout: time.Duration(cfg.LanguageBind.TimeoutSec) * time.Second,
			Logger:  logger,
		})
	}

	if cfg.Instruction != "" {
		base = domain.NewInstructionEmbedder(base, cfg.Instruction)
	}

	// Cached (only with a KV store; nil pointer must not become a non-nil interface)
	embedder := base
	if kv != nil {
		embedder = embcache.New(base, kv, metrics.EmbeddingCacheTotal, logger).
			WithModel(provider + "/" + model).
			WithTTL(time.Duration(cfg.Cache.TTLSec) * time.Second)
	}

	// Instrumented (validation + dimension guard)
	return embeddinguc.NewInstrumentedEmbedder(embedder, provider, model, cfg.Dimensions, logger)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(chiTransport.ErrorResponse{
						Code:    chiTransport.ErrorResponseCodeInternalError,
						Message: "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
