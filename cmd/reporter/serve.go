package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/redstone-qa/reporter/pkg/config"
	"github.com/redstone-qa/reporter/pkg/server"
)

var (
	listenAddr   string
	databaseType string
	databaseDSN  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reporter API server",
	Run: func(cmd *cobra.Command, args []string) {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		cfg, err := config.Load(configFile)
		if err != nil {
			glog.Fatalf("Failed to load config: %v", err)
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}
		if databaseType != "" {
			cfg.DatabaseType = databaseType
		}
		if databaseDSN != "" {
			cfg.DatabaseDSN = databaseDSN
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		}()

		srv, err := server.New(cfg, logger)
		if err != nil {
			glog.Fatalf("Failed to initialize server: %v", err)
		}

		logger.Info("reporter server ready",
			"listen", cfg.ListenAddr,
			"database", cfg.DatabaseType,
			"screenshots", cfg.ScreenshotDir,
		)

		if err := srv.Run(ctx); err != nil {
			glog.Fatalf("Server error: %v", err)
		}

		logger.Info("reporter server stopped")
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Address to listen on (overrides config)")
	serveCmd.Flags().StringVar(&databaseType, "db-type", "", "Database type: sqlite, mysql or postgres (overrides config)")
	serveCmd.Flags().StringVar(&databaseDSN, "db-dsn", "", "Database connection string (overrides config)")
}
