package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"marketplace/internal/cache"
	"marketplace/internal/catalog"
	"marketplace/internal/checker"
	"marketplace/internal/config"
	"marketplace/internal/search"
	"marketplace/internal/wiki"
)

var version string = "<dev>"

// logLevel is shared by every handler so SIGHUP can change the level in place.
var logLevel = new(slog.LevelVar)

// logFile is the rotated log file currently written to, if any.
var logFile *lumberjack.Logger

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "marketplace",
		Short:         "Eclipse Marketplace REST API for the TextGrid Lab",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogging(os.Stdout, "")
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().String("config", "marketplace.yaml", "Path to configuration file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newWarmCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	return root
}

// loadConfig reads the file named by --config and points logging at the
// configured destination.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("Failed to load configuration", "file", path, "error", err)
		return nil, err
	}

	setupLogging(os.Stdout, cfg.General.LogFile)
	logLevel.Set(cfg.LogLevel())
	return cfg, nil
}

// setupLogging installs a JSON slog handler writing to stdout, or to a
// rotated file when logfile is set. A previously opened log file is closed.
func setupLogging(stdout io.Writer, logfile string) {
	out := stdout
	var next *lumberjack.Logger
	if logfile != "" {
		next = &lumberjack.Logger{
			Filename:   logfile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		out = next
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: logLevel})))

	if logFile != nil {
		if err := logFile.Close(); err != nil {
			slog.Warn("Failed to close previous log file", "file", logFile.Filename, "error", err)
		}
	}
	logFile = next
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe the update site of every plugin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			c, err := catalog.NewFileSource(cfg.General.DataFile, cfg.Marketplace()).Load(cmd.Context())
			if err != nil {
				slog.Error("Failed to load catalog", "error", err)
				return err
			}

			broken, err := checker.New(cfg.Server.CheckTimeout).Check(cmd.Context(), c.Plugins)
			if err != nil {
				return err
			}
			for _, u := range broken {
				fmt.Fprintln(cmd.OutOrStdout(), u)
			}
			if len(broken) > 0 {
				return fmt.Errorf("%d update sites failed", len(broken))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All update site URLS ok")
			return nil
		},
	}
}

func newWarmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warm",
		Short: "Fetch every plugin page from the wiki into the page cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := cache.New(cfg)
			if err != nil {
				slog.Error("Failed to open page cache", "error", err)
				return err
			}
			defer closeStore(store)

			return warm(cmd.Context(), cfg, catalog.NewFileSource(cfg.General.DataFile, cfg.Marketplace()), store)
		},
	}
}

func warm(ctx context.Context, cfg *config.Config, source catalog.Source, store cache.Store) error {
	c, err := source.Load(ctx)
	if err != nil {
		slog.Error("Failed to load catalog", "error", err)
		return err
	}

	slog.Info("Warming page cache", "plugins", len(c.Plugins), "concurrency", cfg.Cache.Concurrency)
	if err := search.Warm(ctx, c.Plugins, wiki.NewFetcher(cfg.Wiki), store, cfg.Cache.Concurrency); err != nil {
		slog.Error("Failed to warm page cache", "error", err)
		return err
	}
	slog.Info("Page cache warm")
	return nil
}

func closeStore(store cache.Store) {
	if c, ok := store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close page cache", "error", err)
		}
	}
}
