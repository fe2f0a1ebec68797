// Package main runs the backtest HTTP service: invocation, run status,
// status streaming, artifacts and Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solana-backtest-lab/internal/api"
	"solana-backtest-lab/internal/app"
	"solana-backtest-lab/internal/config"
	"solana-backtest-lab/internal/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("BACKTEST_CONFIG"), "Optional YAML config file")
	envFile := flag.String("env-file", ".env", "Optional .env file")
	addr := flag.String("addr", "", "HTTP listen address (overrides http.addr)")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build service")
	}
	a.StartMaintenance(ctx)

	srv, err := api.NewServer(api.Config{
		Addr:           cfg.HTTP.Addr,
		Service:        a.Service,
		Tracker:        a.Tracker,
		Artifacts:      a.Artifacts,
		StreamInterval: cfg.HTTP.StreamInterval,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build http server")
	}

	logger.Info().
		Str("addr", cfg.HTTP.Addr).
		Str("storage", cfg.Storage.Backend).
		Int("max_concurrent", cfg.Run.MaxConcurrent).
		Msg("starting backtest server")

	serveErr := srv.Start(ctx)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("runs still in flight at shutdown")
	}

	if serveErr != nil {
		logger.Fatal().Err(serveErr).Msg("http server failed")
	}
	logger.Info().Msg("server stopped")
}
