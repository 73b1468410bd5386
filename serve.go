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

	"github.com/spf13/cobra"

	"marketplace/internal/cache"
	"marketplace/internal/catalog"
	"marketplace/internal/config"
	"marketplace/internal/health"
	"marketplace/internal/metrics"
	"marketplace/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the marketplace REST API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("config")
			return serve(cmd.Context(), path, cfg)
		},
	}
}

func serve(ctx context.Context, configFile string, cfg *config.Config) error {
	store, err := cache.New(cfg)
	if err != nil {
		slog.Error("Failed to open page cache", "error", err)
		return err
	}
	defer closeStore(store)

	source := catalog.NewFileSource(cfg.General.DataFile, cfg.Marketplace())
	if ambiguous := cfg.Marketplace().Resolver().Ambiguous(); len(ambiguous) > 0 {
		slog.Warn("Category names map to several ids, the first one wins", "names", ambiguous)
	}

	api := server.New(cfg, source, store, version, server.WithMetrics(metrics.New()))

	var healthServer *health.Server
	if cfg.Server.HealthPort > 0 {
		healthServer = health.New(cfg.Server.HealthPort, api.CatalogProbe)
		go func() {
			if err := healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Health server failed", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", cfg.Server.Addr, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		if cfg.Cache.WarmOnStart {
			if err := warm(ctx, cfg, source, store); err != nil {
				slog.Warn("Serving with a cold page cache, search results will be incomplete")
			}
		}
		if healthServer != nil {
			healthServer.MarkReady()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-sigChan:
			slog.Info("Reloading configuration")
			newCfg, err := config.Load(configFile)
			if err != nil {
				slog.Error("Failed to reload configuration", "error", err)
				continue
			}
			setupLogging(os.Stdout, newCfg.General.LogFile)
			logLevel.Set(newCfg.LogLevel())
			api.UpdateConfig(newCfg, catalog.NewFileSource(newCfg.General.DataFile, newCfg.Marketplace()))
			slog.Info("Configuration reloaded successfully")

		case err := <-serverErr:
			slog.Error("Server failed", "error", err)
			return err

		case <-ctx.Done():
			slog.Info("Shutting down server")
			if healthServer != nil {
				healthServer.MarkNotReady()
				if err := healthServer.Stop(); err != nil {
					slog.Warn("Health server shutdown failed", "error", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("Server shutdown failed", "error", err)
				return err
			}
			return nil
		}
	}
}
