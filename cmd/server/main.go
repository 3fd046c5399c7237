// Package main runs the Kolibri portal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"kolibri/internal/config"
	"kolibri/internal/server"
	"kolibri/internal/utils"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, atom, err := utils.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("auth", cfg.Auth.URL),
		zap.String("cache", cfg.Cache.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	// Log level and rate limits follow the file; everything else needs a
	// restart.
	_, err = config.LoadAndWatch(*configPath,
		func(next *config.Config) {
			if lvl, err := utils.ParseLevel(next.Logging.Level); err == nil {
				atom.SetLevel(lvl)
			}
			srv.ApplyConfig(next)
			logger.Info("configuration reloaded", zap.String("log_level", next.Logging.Level))
		},
		func(err error) {
			logger.Warn("ignoring invalid configuration change", zap.Error(err))
		},
	)
	if err != nil {
		logger.Fatal("failed to watch configuration", zap.Error(err))
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("portal shutdown complete")
}
