package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/stupidking717/kerdar-sub000/pkg/config"
	"github.com/stupidking717/kerdar-sub000/pkg/db"
	"github.com/stupidking717/kerdar-sub000/pkg/log"
	"github.com/stupidking717/kerdar-sub000/services/workflow"
)

func main() {
	ctx := context.Background()

	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Failed to load configuration", log.Error(err))
		os.Exit(1)
	}
	slog.SetDefault(log.New(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	pool, err := db.Connect(ctx, db.Config{URI: cfg.DatabaseURL})
	if err != nil {
		slog.Error("Failed to connect to database", log.Error(err))
		os.Exit(1)
	}
	defer pool.Close()

	// Initialize database schema and seed data
	if err := workflow.InitDB(ctx, pool); err != nil {
		slog.Error("Failed to initialize database", log.Error(err))
		return
	}

	// setup router
	mainRouter := mux.NewRouter()

	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()

	workflowService, err := workflow.NewService(pool, cfg)
	if err != nil {
		slog.Error("Failed to create workflow service", log.Error(err))
		return
	}

	workflowService.LoadRoutes(apiRouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(mainRouter)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: corsHandler,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("Starting server", "addr", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", log.Error(err))
		}

	case sig := <-shutdown:
		slog.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Could not stop server gracefully", log.Error(err))
			srv.Close()
		}
	}
}
