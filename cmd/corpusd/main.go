package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/atelier-labs/corpusd/internal/answer"
	"github.com/atelier-labs/corpusd/internal/config"
	"github.com/atelier-labs/corpusd/internal/domain"
	"github.com/atelier-labs/corpusd/internal/evaluate"
	"github.com/atelier-labs/corpusd/internal/index"
	pgIndex "github.com/atelier-labs/corpusd/internal/index/postgres"
	redisIndex "github.com/atelier-labs/corpusd/internal/index/redis"
	"github.com/atelier-labs/corpusd/internal/ingest"
	logpkg "github.com/atelier-labs/corpusd/internal/logger"
	"github.com/atelier-labs/corpusd/internal/metrics"
	"github.com/atelier-labs/corpusd/internal/retrieval"
	httpTransport "github.com/atelier-labs/corpusd/internal/transport/http"
	"github.com/atelier-labs/corpusd/internal/transport/openai"
	"github.com/atelier-labs/corpusd/internal/version"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

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

	logger.Info("Starting corpusd API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("llm_base_url", cfg.LLM.BaseURL),
	)

	// Create the vector store based on driver
	ctx := context.Background()
	var store index.Store
	switch cfg.Database.Driver {
	case "redis":
		store, err = redisIndex.NewStore(redisIndex.Config{
			Addrs:     cfg.Database.Addrs,
			Password:  cfg.Database.Password,
			KeyPrefix: cfg.Database.KeyPrefix,
		})
	case "postgres":
		store, err = pgIndex.NewStore(ctx, cfg.Database.DSN)
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create vector store", zap.Error(err))
	}
	defer store.Close()

	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Vector store not ready", zap.Error(err))
	}

	// The schema carries the embedder fingerprint. A mismatch means the
	// index was built with a different model and must be re-ingested.
	if err := store.EnsureSchema(ctx, cfg.LLM.EmbedModel, cfg.LLM.EmbedDimensions); err != nil {
		logger.Fatal("Schema check failed", zap.Error(err))
	}
	logger.Info("Connected to vector store",
		zap.String("embed_model", cfg.LLM.EmbedModel),
		zap.Int("dimensions", cfg.LLM.EmbedDimensions),
	)

	metrics.Register()

	llm := openai.NewClient(&openai.Config{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		EmbedModel:      cfg.LLM.EmbedModel,
		EmbedDimensions: cfg.LLM.EmbedDimensions,
		RequestTimeout:  time.Duration(cfg.LLM.RequestTimeoutSec) * time.Second,
		Logger:          logger,
	})

	profiles, err := buildProfiles(cfg.LLM.Modes)
	if err != nil {
		logger.Fatal("Invalid mode configuration", zap.Error(err))
	}

	ingestSvc := ingest.NewService(store, llm, ingest.Config{
		ChunkSize:      cfg.Ingest.ChunkSize,
		ChunkOverlap:   cfg.Ingest.ChunkOverlap,
		EmbedBatchSize: cfg.Ingest.EmbedBatchSize,
		DirConcurrency: cfg.Ingest.DirConcurrency,
	}, logger)

	retriever := retrieval.NewEngine(store, llm, cfg.Chat.TopK, logger)
	history := domain.NewHistory(cfg.Chat.HistoryTurns)
	answerSvc := answer.NewService(retriever, llm, history, profiles, logger)
	evalSvc := evaluate.NewEvaluator(retriever, llm, profiles[domain.DefaultMode], logger)

	server := httpTransport.NewServer(
		ingestSvc, answerSvc, evalSvc, store, store, llm,
		cfg.Ingest.UploadDir,
	)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(httpTransport.BearerAuthMiddleware(cfg.HTTP.APIKeys))
	r.Use(metrics.Middleware())
	r.Mount("/", server.Routes())

	// Corpus watcher keeps the index in sync with a directory
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if cfg.Ingest.WatchDir != "" {
		settle := time.Duration(cfg.Ingest.WatchSettleMs) * time.Millisecond
		go func() {
			if err := ingestSvc.Watch(watchCtx, cfg.Ingest.WatchDir, settle); err != nil {
				logger.Error("Corpus watcher stopped", zap.Error(err))
			}
		}()
		logger.Info("Watching corpus directory", zap.String("dir", cfg.Ingest.WatchDir))
	}

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
	stopWatch()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildProfiles converts the mode table from config into domain
// profiles, rejecting unknown mode names early.
func buildProfiles(modes map[string]config.ModeConfig) (map[domain.Mode]domain.ModelProfile, error) {
	profiles := make(map[domain.Mode]domain.ModelProfile, len(modes))
	for name, mc := range modes {
		mode, err := domain.ParseMode(name)
		if err != nil {
			return nil, fmt.Errorf("mode %q: %w", name, err)
		}
		profiles[mode] = domain.ModelProfile{
			ModelID:       mc.Model,
			ContextWindow: mc.ContextWindow,
			MaxTokens:     mc.MaxTokens,
			Temperature:   mc.Temperature,
		}
	}
	if _, ok := profiles[domain.DefaultMode]; !ok {
		return nil, fmt.Errorf("mode table must define %q", domain.DefaultMode)
	}
	return profiles, nil
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
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
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

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
