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
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parallax-ai/chat-platform/internal/config"
	"github.com/parallax-ai/chat-platform/internal/handler"
	"github.com/parallax-ai/chat-platform/internal/llm"
	"github.com/parallax-ai/chat-platform/internal/middleware"
	natsclient "github.com/parallax-ai/chat-platform/internal/nats"
	"github.com/parallax-ai/chat-platform/internal/store"
	"github.com/parallax-ai/chat-platform/internal/tools"
	"github.com/parallax-ai/chat-platform/internal/turn"
	"github.com/parallax-ai/chat-platform/internal/usage"
	"github.com/parallax-ai/chat-platform/pkg/logger"
	"github.com/parallax-ai/chat-platform/pkg/tracing"
)

func main() {
	// Load .env if present, then configuration from the environment
	_ = godotenv.Load()
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Infow("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warnw("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS. The connection is optional: without it turns run
	// with live-only streams and the resume endpoint reports not found.
	var streamLog turn.StreamLog
	var natsClient *natsclient.Client
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Warnw("failed to connect to NATS, stream resumption disabled", "error", err)
		} else {
			defer natsClient.Close()
			streamManager := natsclient.NewStreamManager(natsClient)
			if err := streamManager.EnsureStream(ctx); err != nil {
				log.Warnw("failed to ensure stream, stream resumption disabled", "error", err)
				natsClient.Close()
				natsClient = nil
			} else {
				streamLog = streamManager
			}
		}
	} else {
		log.Infow("NATS not configured, stream resumption disabled")
	}

	// Connect to Postgres
	pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Errorw("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pg.Close()
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Errorw("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	// Initialize LLM client
	var llmClient llm.Client
	switch {
	case cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	case cfg.AnthropicAPIKey != "":
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	default:
		log.Errorw("no LLM API key configured")
		os.Exit(1)
	}
	if err != nil {
		log.Errorw("failed to create LLM client", "error", err)
		os.Exit(1)
	}

	// Usage accounting with best-effort pricing enrichment
	catalog := usage.NewCatalog(cfg.CatalogURL, cfg.CatalogTTL, log)
	reconciler := usage.NewReconciler(catalog)

	// Tool registry
	registry := tools.NewRegistry(
		tools.NewWeatherTool(),
		tools.NewCreateDocumentTool(pg, llmClient, cfg.DefaultChatModel),
		tools.NewUpdateDocumentTool(pg, llmClient, cfg.DefaultChatModel),
		tools.NewSuggestionsTool(pg, llmClient, cfg.DefaultChatModel),
	)

	// Turn service
	turnSvc := turn.NewService(pg, llmClient, registry, streamLog, reconciler, turn.Config{
		DefaultModel: cfg.DefaultChatModel,
		Timeout:      cfg.TurnTimeout,
		Entitlements: turn.Entitlements{
			middleware.UserTypeGuest:   cfg.GuestDailyMessages,
			middleware.UserTypeRegular: cfg.RegularDailyMessages,
		},
	}, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(pg, natsClient)
	chatHandler := handler.NewChatHandler(turnSvc, log)
	streamHandler := handler.NewStreamHandler(turnSvc, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/chat", chatHandler.Turn)
		r.Get("/chats", chatHandler.List)

		r.Route("/chat/{chatID}", func(r chi.Router) {
			r.Delete("/", chatHandler.Delete)
			r.Get("/messages", chatHandler.Messages)
			r.Get("/stream", streamHandler.Resume)
		})
	})

	// Create HTTP server. The write timeout must outlast a full turn so
	// SSE responses are not cut off mid-generation.
	writeTimeout := cfg.ServerWriteTimeout
	if writeTimeout < cfg.TurnTimeout {
		writeTimeout = cfg.TurnTimeout + 30*time.Second
	}
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infow("server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Infow("server stopped")
}
