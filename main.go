package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/halcyonlabs/deepresearch/internal/config"
	"github.com/halcyonlabs/deepresearch/internal/httpapi"
	"github.com/halcyonlabs/deepresearch/internal/llm"
	"github.com/halcyonlabs/deepresearch/internal/middleware"
	"github.com/halcyonlabs/deepresearch/internal/models"
	"github.com/halcyonlabs/deepresearch/internal/research"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.Credentials.ReasoningAPIKey == "" || cfg.Credentials.AnsweringAPIKey == "" {
		logger.Warn("Upstream API keys not fully configured; research requests will be rejected",
			zap.Bool("reasoning_key", cfg.Credentials.ReasoningAPIKey != ""),
			zap.Bool("answering_key", cfg.Credentials.AnsweringAPIKey != ""))
	}

	registry, err := models.LoadRegistry(cfg.Models.CatalogPath, logger)
	if err != nil {
		logger.Fatal("Failed to load model catalog", zap.Error(err))
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if cfg.Models.HotReload {
		if err := registry.Watch(rootCtx); err != nil {
			logger.Warn("Catalog hot reload unavailable", zap.Error(err))
		}
	}

	// Redis is optional; without it the rate limiter runs in-process.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if _, err := redisClient.Ping(rootCtx).Result(); err != nil {
			logger.Warn("Redis unreachable, falling back to in-process rate limiting", zap.Error(err))
			redisClient = nil
		}
	}

	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second
	reasoning := llm.NewReasoningClient(llm.ReasoningConfig{
		APIKey:          cfg.Credentials.ReasoningAPIKey,
		BaseURL:         cfg.Upstream.ReasoningBaseURL,
		Timeout:         timeout,
		AutoQuestionMin: cfg.Research.AutoQuestionMin,
		AutoQuestionMax: cfg.Research.AutoQuestionMax,
	}, registry, logger)
	answering := llm.NewAnsweringClient(llm.AnsweringConfig{
		APIKey:  cfg.Credentials.AnsweringAPIKey,
		BaseURL: cfg.Upstream.AnsweringBaseURL,
		Timeout: timeout,
	}, logger)

	engine := research.NewEngine(reasoning, answering, cfg.Research.MaxPhases, logger)

	researchHandler := httpapi.NewResearchHandler(engine, registry, cfg.Credentials, cfg.Research.DefaultQuestionCount, logger)
	chatHandler := httpapi.NewChatHandler(answering, registry, logger)
	nameHandler := httpapi.NewNameHandler(reasoning, registry, logger)
	modelsHandler := httpapi.NewModelsHandler(registry)
	healthHandler := httpapi.NewHealthHandler()

	tracing := middleware.NewTracingMiddleware(logger).Middleware
	rateLimiter := middleware.NewRateLimiter(redisClient, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, logger).Middleware

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /api/v1/research",
		tracing(rateLimiter(http.HandlerFunc(researchHandler.HandleResearch))))
	mux.Handle("GET /api/v1/research/ws",
		tracing(http.HandlerFunc(researchHandler.HandleResearchWS)))
	mux.Handle("POST /api/v1/chat",
		tracing(rateLimiter(http.HandlerFunc(chatHandler.HandleChat))))
	mux.Handle("POST /api/v1/conversations/name",
		tracing(rateLimiter(http.HandlerFunc(nameHandler.HandleName))))
	mux.Handle("GET /api/v1/models",
		tracing(http.HandlerFunc(modelsHandler.HandleList)))

	server := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.Server.Port),
		Handler:     corsMiddleware(mux),
		ReadTimeout: time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		// No write timeout: research streams run for minutes.
		WriteTimeout: 0,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	go func() {
		logger.Info("Deep research service starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}
	logger.Info("Stopped")
}

// corsMiddleware adds development-friendly CORS headers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, traceparent, tracestate, Cache-Control, Last-Event-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
