// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/capitalize-ai/prompt-engine/internal/aitools"
	"github.com/capitalize-ai/prompt-engine/internal/answer"
	"github.com/capitalize-ai/prompt-engine/internal/answer/coref"
	"github.com/capitalize-ai/prompt-engine/internal/config"
	"github.com/capitalize-ai/prompt-engine/internal/dispatch"
	"github.com/capitalize-ai/prompt-engine/internal/embedding"
	"github.com/capitalize-ai/prompt-engine/internal/flow"
	"github.com/capitalize-ai/prompt-engine/internal/handler"
	"github.com/capitalize-ai/prompt-engine/internal/language"
	"github.com/capitalize-ai/prompt-engine/internal/llm"
	"github.com/capitalize-ai/prompt-engine/internal/middleware"
	natsclient "github.com/capitalize-ai/prompt-engine/internal/nats"
	"github.com/capitalize-ai/prompt-engine/internal/retrieval"
	"github.com/capitalize-ai/prompt-engine/internal/service"
	"github.com/capitalize-ai/prompt-engine/internal/session"
	"github.com/capitalize-ai/prompt-engine/internal/store"
	"github.com/capitalize-ai/prompt-engine/internal/verification"
	"github.com/capitalize-ai/prompt-engine/pkg/logger"
	"github.com/capitalize-ai/prompt-engine/pkg/tracing"
)

const embeddingCacheTTL = 24 * time.Hour

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "prompt-engine", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	checks := map[string]handler.Check{}

	// AI tools provider: detection, translation, speech, search, generation
	tools := aitools.NewClient(aitools.Config{
		BaseURL:    cfg.AIToolsBaseURL,
		AuthHeader: cfg.AIToolsAuthHeader,
		Timeout:    cfg.ProviderTimeout,
		Retries:    cfg.ProviderRetries,
	})

	llmClient, err := llm.NewClient(llm.Options{
		Provider:        llm.Provider(cfg.LLMProvider),
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		Tools:           tools,
	})
	if err != nil {
		log.Fatal("failed to create LLM client", zap.Error(err))
	}
	log.Info("LLM client ready", zap.String("provider", llmClient.Name()))

	embedder, closeCache := newEmbedder(ctx, cfg, log)
	defer closeCache()

	// History store
	var (
		db      *gorm.DB
		history store.HistoryStore
	)
	if cfg.DatabaseURL != "" {
		db, err = store.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		var extra []any
		if cfg.SimilarityBackend == "pgvector" {
			extra = append(extra, &retrieval.KnowledgeDocument{})
		}
		if err := store.Migrate(ctx, db, extra...); err != nil {
			log.Fatal("failed to migrate database", zap.Error(err))
		}
		history = store.NewPostgresStore(db, embedder, log)
		checks["database"] = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	} else {
		log.Warn("DATABASE_URL not set, history is kept in memory")
		history = store.NewMemoryStore()
	}

	// Similarity backends
	var (
		matcher   answer.HistoryMatcher
		retriever answer.ContextRetriever
	)
	switch {
	case cfg.SimilarityBackend == "pgvector" && db != nil && embedder != nil:
		matcher = history
		retriever = retrieval.NewPGVector(db, embedder)
	case cfg.SimilarityBackend == "pgvector":
		log.Warn("pgvector similarity needs DATABASE_URL and OPENAI_API_KEY, using remote search")
		fallthrough
	default:
		matcher = retrieval.NewRemoteHistory(tools)
		retriever = retrieval.NewRemote(tools)
	}
	if _, ok := history.(*store.MemoryStore); ok {
		matcher = history
	}

	engine := answer.NewEngine(
		history,
		matcher,
		retriever,
		coref.NewLLMRewriter(llmClient, cfg.LLMModel),
		llmClient,
		answer.Config{
			SystemPrompt:     cfg.SystemPrompt,
			Model:            cfg.LLMModel,
			HistoryWindow:    cfg.HistoryWindow,
			CacheThreshold:   cfg.CacheSimilarityThreshold,
			ContextThreshold: cfg.SimilarityThreshold,
			ContextLimit:     cfg.ContextMatchCount,
		},
		log,
	)

	opts := []service.Option{service.WithTurnTimeout(cfg.TurnTimeout)}

	if cfg.VerificationBaseURL != "" {
		opts = append(opts, service.WithVerifier(
			verification.NewClient(cfg.VerificationBaseURL, cfg.AIToolsAuthHeader, cfg.ProviderTimeout),
		))
	}

	if cfg.TransportSocketURL != "" {
		opts = append(opts, service.WithDispatcher(dispatch.NewDispatcher(cfg.TransportSocketURL, cfg.ProviderTimeout)))
	} else {
		log.Warn("TRANSPORT_SOCKET_URL not set, replies are only returned inline")
	}

	// Connect to NATS for turn events
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			Name:     "prompt-engine",
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		opts = append(opts, service.WithEvents(streamManager))
		checks["nats"] = natsClient.Ping
	}

	// Initialize services
	sessions := session.NewStore(cfg.SessionTTL)
	promptSvc := service.NewPromptService(
		language.NewGateway(tools, log),
		sessions,
		flow.NewKeywordClassifier(cfg.StatusKeywords),
		engine,
		history,
		log,
		opts...,
	)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(checks)
	promptHandler := handler.NewPromptHandler(promptSvc, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/", promptHandler.Hello)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(middleware.Auth(cfg.JWTSecret))
		}
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/prompt", promptHandler.Prompt)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// newEmbedder returns the caching query embedder, or nil when no embedding
// provider is configured.
func newEmbedder(ctx context.Context, cfg *config.Config, log *logger.Logger) (embedding.Embedder, func()) {
	noop := func() {}
	if cfg.OpenAIAPIKey == "" {
		return nil, noop
	}

	base, err := embedding.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	if err != nil {
		log.Warn("failed to create embedder, vector similarity disabled", zap.Error(err))
		return nil, noop
	}

	if cfg.RedisURL != "" {
		cache, err := embedding.NewRedisCache(ctx, cfg.RedisURL, "prompt-engine:embedding:")
		if err == nil {
			return embedding.NewCachedEmbedder(base, cache, embeddingCacheTTL, log), func() { _ = cache.Close() }
		}
		log.Warn("failed to connect to Redis, using in-process embedding cache", zap.Error(err))
	}

	cache, err := embedding.NewMemoryCache(10000)
	if err != nil {
		log.Warn("failed to create embedding cache", zap.Error(err))
		return base, noop
	}
	return embedding.NewCachedEmbedder(base, cache, embeddingCacheTTL, log), noop
}
