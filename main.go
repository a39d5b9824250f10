package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"fieldproof-backend/config"
	"fieldproof-backend/container"
	"fieldproof-backend/logging"
	"fieldproof-backend/middleware/fieldwork/handlers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := container.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build dependencies")
	}
	app.Run(ctx)

	router := handlers.NewRouter(handlers.RouterConfig{
		Engine:  app.Engine,
		Auth:    app.Auth,
		Limiter: app.Limiter,
		Logger:  logger,
		Objects: app.ObjectsFS,
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info().
			Str("store", cfg.StoreDriver).
			Str("escrow", cfg.EscrowProvider).
			Str("storage", cfg.StorageProvider).
			Msgf("API listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := app.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to release dependencies")
	}
	logger.Info().Msg("server stopped")
}
