// Package main runs one backtest invocation from the command line, prints its
// report and optionally exports the run artifacts.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"solana-backtest-lab/internal/acquisition"
	"solana-backtest-lab/internal/app"
	"solana-backtest-lab/internal/config"
	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/logging"
)

func main() {
	// Selection
	strategies := flag.String("strategy", "", "Strategy id, or comma-separated ids")
	family := flag.String("family", "", "Run every strategy of a family: bluechip, memecoin, equity")
	symbol := flag.String("symbol", "", "Restrict the universe to one token symbol")

	// Invocation
	mode := flag.String("mode", "quick", "Mode: quick, full, grid")
	scale := flag.String("scale", "fast", "Data scale: fast, thorough")
	policy := flag.String("policy", "primary_only", "Source policy: primary_only, allow_fallback")
	lookback := flag.Int("lookback", 0, "Lookback in hours (0 = default)")
	strict := flag.Bool("strict", false, "Fail instead of topping up with synthetic datasets")
	runID := flag.String("run-id", "", "Run id (generated when empty)")
	manifestID := flag.String("manifest-id", "", "Reuse a cached dataset manifest")

	// Output
	outputDir := flag.String("output-dir", "", "Export artifacts into this directory")
	asJSON := flag.Bool("json", false, "Print the response as JSON instead of the text report")

	configPath := flag.String("config", os.Getenv("BACKTEST_CONFIG"), "Optional YAML config file")
	envFile := flag.String("env-file", ".env", "Optional .env file")
	timeout := flag.Duration("timeout", 30*time.Minute, "Overall timeout")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fatalf("%v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("%v", err)
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: true})

	req := domain.BacktestRequest{
		Family:            domain.Family(*family),
		TokenSymbol:       *symbol,
		Mode:              *mode,
		DataScale:         domain.DataScale(*scale),
		SourcePolicy:      domain.SourcePolicy(*policy),
		LookbackHours:     *lookback,
		StrictNoSynthetic: *strict,
		RunID:             *runID,
		ManifestID:        *manifestID,
	}
	if ids := splitList(*strategies); len(ids) == 1 {
		req.StrategyID = ids[0]
	} else {
		req.StrategyIDs = ids
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		fatalf("build: %v", err)
	}
	defer a.Stores.Close()
	a.Service.SetContext(ctx)

	start := time.Now()
	resp, runErr := a.Service.Run(ctx, req)
	if resp == nil {
		fatalf("backtest: %v", runErr)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			fatalf("encode response: %v", err)
		}
	} else {
		fmt.Println(resp.Report)
	}

	if *outputDir != "" && resp.Evidence != nil {
		paths, err := a.Artifacts.Export(ctx, resp.RunID, *outputDir)
		if err != nil {
			fatalf("export artifacts: %v", err)
		}
		for _, p := range paths {
			fmt.Fprintf(os.Stderr, "Written: %s\n", p)
		}
	}

	fmt.Fprintf(os.Stderr, "Run %s finished %s in %s (manifest %s)\n",
		resp.RunID, resp.State, time.Since(start).Round(time.Millisecond), resp.ManifestID)

	var cerr *acquisition.CoverageError
	switch {
	case errors.As(runErr, &cerr):
		fmt.Fprintf(os.Stderr, "Coverage gate: %v\n", cerr)
		os.Exit(2)
	case runErr != nil:
		fatalf("backtest: %v", runErr)
	case resp.State == domain.RunFailed:
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
