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

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/registriq/internal/adapter/cache"
	"github.com/neomorfeo/registriq/internal/adapter/fsm"
	otelx "github.com/neomorfeo/registriq/internal/adapter/otel"
	riverx "github.com/neomorfeo/registriq/internal/adapter/river"
	"github.com/neomorfeo/registriq/internal/adapter/sqlite"
	"github.com/neomorfeo/registriq/internal/app"
	"github.com/neomorfeo/registriq/internal/config"
	"github.com/neomorfeo/registriq/internal/policy"

	handler "github.com/neomorfeo/registriq/internal/adapter/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// --- Telemetry ---
	providers, err := otelx.Setup(ctx, otelx.ConfigFromEnv())
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	// --- Storage ---
	db, err := otelx.OpenDB(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := sqlite.NewFromDB(db, nil)
	if err != nil {
		return err
	}
	index := sqlite.NewIndex(db)

	// --- Job queue (shares the database handle) ---
	jobs, err := riverx.Setup(ctx, db, store)
	if err != nil {
		return err
	}
	store.SetPollEnqueuer(riverx.NewEnqueuer(jobs))

	if err := jobs.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := jobs.Stop(stopCtx); err != nil {
			slog.Warn("river shutdown", "error", err)
		}
	}()

	// --- Application ---
	exec := app.NewExecutor(
		otelx.NewTracingStore(store),
		otelx.NewTracingIndex(index),
		policy.Default(),
		fsm.New(),
		cfg.MaxCommitRetries,
	)

	// --- HTTP ---
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(otelchi.Middleware("registriq", otelchi.WithChiRoutes(router)))

	api := humachi.New(router, huma.DefaultConfig("registriq", "0.1.0"))
	handler.Register(api, exec, cache.NewIndex(index, cfg.IndexCacheTTL), nil)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("registriq listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	slog.Info("stopped")
	return nil
}
