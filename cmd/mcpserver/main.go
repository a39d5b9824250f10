package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"fieldproof-backend/config"
	"fieldproof-backend/container"
	"fieldproof-backend/core/fieldwork"
	"fieldproof-backend/logging"
	"fieldproof-backend/mcp"
	"fieldproof-backend/storage/auth"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	// stdout carries the stdio transport
	logger := logging.NewLoggerTo(os.Stderr, cfg.AppEnv, cfg.LogLevel)

	if cfg.MCPActorID == "" {
		logger.Fatal().Msg("MCP_ACTOR_ID is required")
	}
	actor := fieldwork.Actor{ID: cfg.MCPActorID, Role: fieldwork.Role(cfg.MCPActorRole)}
	if actor.Role != fieldwork.RoleWorker && actor.Role != fieldwork.RoleJuror {
		logger.Fatal().Str("role", cfg.MCPActorRole).Msg("MCP_ACTOR_ROLE must be worker or juror")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := container.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build dependencies")
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to release dependencies")
		}
	}()
	if cfg.StoreDriver == "memory" {
		logger.Warn().Msg("memory store: tasks are not shared with the API server")
	}
	app.Run(ctx)

	mcpServer := mcp.NewMCPServer(app.Engine, actor, logger)
	logger.Info().Str("transport", cfg.MCPTransport).Str("actor", actor.ID).Msg("Fieldproof MCP server starting")

	if cfg.MCPTransport != "http" {
		if err := server.ServeStdio(mcpServer.GetMCPServer()); err != nil {
			logger.Error().Err(err).Msg("stdio server stopped")
		}
		return
	}

	var keys auth.APIKeyValidator
	if cfg.MCPAPIKey != "" || len(cfg.MCPAPIKeys) > 0 {
		store := auth.NewAPIKeyStore()
		store.Seed(cfg.MCPAPIKey, actor, "", "env")
		if err := store.SeedSpec(cfg.MCPAPIKeys); err != nil {
			logger.Fatal().Err(err).Msg("invalid MCP_API_KEYS")
		}
		keys = store
		logger.Info().Int("keys", store.Len()).Msg("mcp api keys loaded")
	} else {
		logger.Warn().Msg("MCP http transport running without api keys")
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.MCPPort,
		Handler:           mcpServer.HTTPHandler(keys),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("mcp http server failed")
	}
}
