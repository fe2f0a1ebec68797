// Package main exports the stored artifacts of finished runs: report text,
// trade CSV, dataset manifest and evidence bundle.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"solana-backtest-lab/internal/app"
	"solana-backtest-lab/internal/config"
	"solana-backtest-lab/internal/evidence"
	"solana-backtest-lab/internal/logging"
	"solana-backtest-lab/internal/runtracker"
	"solana-backtest-lab/internal/storage"
)

func main() {
	runIDs := flag.String("run-id", "", "Run id, or comma-separated ids (required)")
	outputDir := flag.String("output-dir", "output", "Output directory for exported artifacts")
	printReport := flag.Bool("print", false, "Print the report text instead of exporting")
	verify := flag.Bool("verify", true, "Recompute the evidence hash before exporting")
	configPath := flag.String("config", os.Getenv("BACKTEST_CONFIG"), "Optional YAML config file")
	envFile := flag.String("env-file", ".env", "Optional .env file")
	flag.Parse()

	ids := strings.Split(*runIDs, ",")
	if *runIDs == "" {
		fmt.Fprintln(os.Stderr, "Error: --run-id is required")
		os.Exit(1)
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		fatalf("%v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("%v", err)
	}
	if cfg.Storage.Backend == config.BackendMemory {
		fatalf("the memory backend keeps no runs between processes; configure sqlite or postgres")
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stores, err := app.OpenStores(ctx, cfg.Storage, logger)
	if err != nil {
		fatalf("open stores: %v", err)
	}
	defer stores.Close()
	artifacts := evidence.NewStore(stores.KV, cfg.Storage.ArtifactTTL)

	failed := 0
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if err := exportRun(ctx, artifacts, id, *outputDir, *printReport, *verify); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", id, err)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func exportRun(ctx context.Context, artifacts *evidence.Store, runID, outputDir string, printReport, verify bool) error {
	if err := runtracker.ValidateRunID(runID); err != nil {
		return err
	}

	if printReport {
		text, err := artifacts.Get(ctx, runID, evidence.KindReport)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no report stored (run unknown, still running or expired)")
		}
		if err != nil {
			return err
		}
		fmt.Println(string(text))
		return nil
	}

	if verify {
		b, err := artifacts.LoadBundle(ctx, runID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if b != nil {
			if err := evidence.Verify(b); err != nil {
				return err
			}
			fmt.Printf("Evidence %s: %d datasets, %d trades, hash %s\n", runID, len(b.Datasets), len(b.Trades), b.Hash)
		}
	}

	paths, err := artifacts.Export(ctx, runID, outputDir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Printf("Written: %s\n", p)
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
