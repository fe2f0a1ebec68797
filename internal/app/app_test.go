package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"solana-backtest-lab/internal/acquisition"
	"solana-backtest-lab/internal/config"
	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/evidence"
	"solana-backtest-lab/internal/marketdata"
	"solana-backtest-lab/internal/storage/sqlite"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return cfg
}

func TestOpenStores_SQLite(t *testing.T) {
	cfg := config.StorageConfig{
		Backend:    config.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "nested", "lab.db"),
	}
	stores, err := OpenStores(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenStores failed: %v", err)
	}
	defer stores.Close()

	if _, ok := stores.KV.(*sqlite.KVStore); !ok {
		t.Errorf("expected sqlite KV store, got %T", stores.KV)
	}
	if stores.Trades == nil || stores.Aggregates == nil {
		t.Error("ledger and aggregate stores must always be set")
	}
	if _, ok := stores.KV.(purger); !ok {
		t.Error("sqlite store should support purge")
	}
}

func TestOpenStores_UnknownBackend(t *testing.T) {
	_, err := OpenStores(context.Background(), config.StorageConfig{Backend: "mongo"}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestFamilySources(t *testing.T) {
	cfg := testConfig(t).Sources

	families := FamilySources(cfg)
	if _, ok := families[domain.FamilyEquity]; ok {
		t.Error("equity needs Alpaca credentials")
	}
	meme := families[domain.FamilyMemecoin]
	if meme.Primary == nil || meme.Secondary == nil || meme.Tertiary == nil {
		t.Error("memecoin discovery ladder incomplete")
	}
	if meme.Fallback != nil {
		t.Error("fallback must stay unset without a Birdeye key")
	}
	if families[domain.FamilyBluechip].Synthetic == nil {
		t.Error("synthetic source enabled by default")
	}

	cfg.BirdeyeAPIKey = "key"
	cfg.AlpacaAPIKey = "id"
	cfg.AlpacaAPISecret = "secret"
	cfg.Synthetic = false
	families = FamilySources(cfg)
	if families[domain.FamilyBluechip].Fallback == nil {
		t.Error("expected Birdeye fallback with an API key")
	}
	if eq, ok := families[domain.FamilyEquity]; !ok || eq.Candles == nil {
		t.Error("expected equity candles with Alpaca credentials")
	}
	if families[domain.FamilyMemecoin].Synthetic != nil {
		t.Error("synthetic source should be disabled")
	}
}

func TestPolicy(t *testing.T) {
	p := Policy(config.AcquisitionConfig{MinCoverageRatio: 0.8, FastMaxCandles: 360})
	def := acquisition.DefaultPolicy()

	if p.MinCoverageRatio != 0.8 || p.FastMaxCandles != 360 {
		t.Errorf("overrides not applied: %+v", p)
	}
	if p.DefaultBatchSize != def.DefaultBatchSize || p.RelaxedDepthFactor != def.RelaxedDepthFactor {
		t.Errorf("zero values should keep defaults: %+v", p)
	}
}

func TestNew_RunsBacktest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.MonteCarloRuns = -1
	ctx := context.Background()

	a, err := New(ctx, cfg, zerolog.Nop(), Options{
		Families: map[domain.Family]acquisition.Sources{
			domain.FamilyBluechip: {Candles: marketdata.NewSynthetic()},
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	resp, err := a.Service.Run(ctx, domain.BacktestRequest{
		StrategyID:    "bluechip-ema-trend",
		RunID:         "app-run",
		LookbackHours: 240,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if resp.State == domain.RunFailed {
		t.Fatalf("run failed: %+v", resp.Progress)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 result row, got %d", len(resp.Results))
	}
	if resp.Evidence == nil {
		t.Fatal("expected evidence ref")
	}

	st, err := a.Tracker.Lookup(ctx, "app-run")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !st.State.IsTerminal() {
		t.Errorf("expected terminal state, got %s", st.State)
	}
	ok, err := a.Artifacts.Exists(ctx, "app-run", evidence.KindCSV)
	if err != nil || !ok {
		t.Errorf("csv artifact missing (err=%v)", err)
	}
}
