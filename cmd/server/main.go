// VaultMind - note vault assistant server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/pmarquez/vaultmind/internal/api"
	"github.com/pmarquez/vaultmind/internal/config"
	"github.com/pmarquez/vaultmind/internal/connector"
	"github.com/pmarquez/vaultmind/internal/engine"
	"github.com/pmarquez/vaultmind/internal/middleware"
	"github.com/pmarquez/vaultmind/internal/store"
	"github.com/pmarquez/vaultmind/internal/transport"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath, cfg.HistoryCapacity)
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connector servers (optional).
	var registry *connector.Registry
	if cfg.ConnectorConfigPath != "" {
		connectorFile, err := connector.LoadFile(cfg.ConnectorConfigPath)
		if err != nil {
			slog.Error("Failed to load connector config", "error", err)
			os.Exit(1)
		}
		startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		registry = connector.NewRegistry(startCtx, connectorFile, logger)
		cancel()
		defer func() {
			if closeErr := registry.Close(); closeErr != nil {
				slog.Warn("Failed to close connector registry", "error", closeErr)
			}
		}()
		slog.Info("Connector registry ready", "tools", len(registry.Tools()))
	} else {
		slog.Info("Connectors disabled (CONNECTOR_CONFIG_PATH not set)")
	}

	// Orchestration engine.
	agentTransport := transport.NewCLIClient(cfg.AgentBin, logger)
	notes := make(chan engine.Note, 256)
	eng := engine.New(engine.Config{
		VaultPath:           cfg.VaultPath,
		ProjectPath:         cfg.ProjectPath,
		DefaultModel:        cfg.AgentModel,
		RetryCeiling:        cfg.RetryCeiling,
		QuietTimeout:        cfg.SubagentQuietTimeout,
		ConnectorConfigPath: cfg.ConnectorConfigPath,
	}, agentTransport, repo, notes, logger)

	hub := api.NewEventHub()
	go hub.Run(ctx, notes)

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	handler := api.NewHandler(eng, repo, registry, hub, cfg.FrontendURL)
	handler.Routes(r)

	// WebSocket streams need long-lived writes, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

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

	// Stop any turn in flight so the agent subprocess is reaped.
	eng.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
