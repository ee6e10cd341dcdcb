package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"visitor-tracker/internal/common/logging"
	"visitor-tracker/internal/config"
	"visitor-tracker/internal/handlers"
	"visitor-tracker/internal/server"
)

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logging
	logging.InitGlobalLogger()
	defer logging.MustSync()

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	// Initialize application
	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	if err := app.Start(); err != nil {
		logging.Error("Failed to start background workers", err)
		return err
	}

	// Set up routes
	h := handlers.New(app.Lifecycle, app.Resolver, app.Storage, app.RedisClient, app.Logger)
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	srv := server.New(router, cfg.Port)
	serverErr := srv.Start()
	logging.Info("visitor tracker started", logging.Field{Key: "port", Value: cfg.Port})

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("shutdown signal received", logging.Field{Key: "signal", Value: sig.String()})
	case err := <-serverErr:
		logging.Error("server failed", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("server shutdown failed", err)
		return err
	}

	logging.Info("shutdown complete")
	return nil
}
