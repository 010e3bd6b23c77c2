// Persona Lab - persona simulation server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/ashureev/persona-lab/internal/api"
	"github.com/ashureev/persona-lab/internal/backend"
	"github.com/ashureev/persona-lab/internal/config"
	"github.com/ashureev/persona-lab/internal/events"
	"github.com/ashureev/persona-lab/internal/functions"
	"github.com/ashureev/persona-lab/internal/gateway"
	"github.com/ashureev/persona-lab/internal/identity"
	"github.com/ashureev/persona-lab/internal/middleware"
	"github.com/ashureev/persona-lab/internal/prompt"
	"github.com/ashureev/persona-lab/internal/session"
	"github.com/ashureev/persona-lab/internal/store"
	"github.com/ashureev/persona-lab/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "gateway_mode", cfg.Gateway.Mode)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	backendClient := backend.New(cfg.Backend.URL, cfg.Backend.AnonKey, backend.WithTimeout(cfg.HTTPClient))

	genLogger, err := gateway.NewGenerationLogger(gateway.GenerationLogConfig{
		Enabled:   cfg.GenLog.Enabled,
		Dir:       cfg.GenLog.Dir,
		QueueSize: cfg.GenLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize generation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := genLogger.Close(); closeErr != nil {
			slog.Error("Failed to close generation logger", "error", closeErr)
		}
	}()

	// Generation gateways.
	var direct gateway.Gateway
	if cfg.UsesDirectGateway() || cfg.Gateway.ServeFunctions {
		catalog, err := loadPrompts(cfg.PromptsFile)
		if err != nil {
			slog.Error("Failed to load prompt templates", "error", err)
			os.Exit(1)
		}
		prompts := prompt.NewReloadable(catalog)
		if cfg.PromptsFile != "" {
			watcher, err := prompt.Watch(context.Background(), cfg.PromptsFile, prompts, logger)
			if err != nil {
				slog.Error("Failed to watch prompt templates", "error", err)
				os.Exit(1)
			}
			defer func() { _ = watcher.Close() }()
		}
		direct = gateway.NewLLMGateway(gateway.NewGenAIGenerator(cfg.LLM.Model), prompts, cfg.LLM.APIKey, logger)
		if cfg.LLM.APIKey == "" {
			slog.Info("GEMINI_API_KEY not set, direct generation requires a per-device API key")
		}
	}

	var base gateway.Gateway = gateway.NewFunctionsGateway(backendClient)
	if cfg.UsesDirectGateway() {
		base = direct
	}
	gw := gateway.NewRateLimited(gateway.NewLogged(base, genLogger), cfg.Gateway.RequestsPerMinute, cfg.Gateway.Burst)

	// Initialize services.
	hub := events.NewHub()
	sessions := session.NewManager(repo, backendClient, hub, logger)

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, sessions, gw, backendClient, cfg.Backend.ImageBucket, logger)
	wsHandler := events.NewHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())
	wsHandler.SetActivityHook(func(deviceID string) {
		if s, ok := sessions.Peek(deviceID); ok {
			s.Touch(time.Now())
		}
	})

	frontend := web.SPAHandler()
	if cfg.DevProxyURL != "" {
		frontend, err = web.DevProxy(cfg.DevProxyURL)
		if err != nil {
			slog.Error("Failed to configure dev proxy", "error", err)
			os.Exit(1)
		}
		slog.Info("Proxying frontend routes", "target", cfg.DevProxyURL)
	}

	allowedOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		allowedOrigins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)

	if cfg.Gateway.ServeFunctions {
		served := gateway.NewRateLimited(gateway.NewLogged(direct, genLogger), cfg.Gateway.RequestsPerMinute, cfg.Gateway.Burst)
		functions.NewHandler(served, backendClient, cfg.Backend.AnonKey, logger).RegisterRoutes(r)
		slog.Info("Serving hosted function endpoints", "path", "/functions/v1/{name}")
	}

	// WebSocket endpoint.
	r.Get("/ws/session", wsHandler.ServeHTTP)

	// Serve the frontend (SPA catch-all).
	r.Handle("/*", frontend)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout; event streams are long-lived
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start idle session sweeper.
	session.StartSweeper(ctx, sessions, cfg.SessionTTL, hub.CloseDevice)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func loadPrompts(path string) (*prompt.Catalog, error) {
	if path == "" {
		return prompt.DefaultCatalog()
	}
	return prompt.LoadFile(path)
}
