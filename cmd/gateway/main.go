package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wanz-bot/Api/internal/config"
	"github.com/wanz-bot/Api/internal/httpapi"
	"github.com/wanz-bot/Api/internal/utils"
)

func main() {
	logger := utils.NewLogger("main")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	utils.ConfigureLogging(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	// Create router with all dependencies
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	handler, deps, err := httpapi.NewRouter(startCtx, cfg)
	cancelStart()
	if err != nil {
		logger.Error("Failed to build router", "error", err)
		os.Exit(1)
	}

	// Create HTTP server. Writes must outlive the upstream timeout.
	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Provider.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("AI gateway listening", "addr", addr, "store", cfg.Store.Backend, "provider", cfg.Provider.Type)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("Server forced to shutdown", "error", err)
	}

	// Stops the scheduler and notification worker, flushes the access log
	// and closes the store.
	if err := deps.Close(ctx); err != nil {
		logger.Warn("Shutdown finished with errors", "error", err)
	}

	logger.Info("Server exited")
}
