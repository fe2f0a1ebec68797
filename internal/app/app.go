// Package app wires configuration into stores, market data sources and the
// backtest services shared by the binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"solana-backtest-lab/internal/acquisition"
	"solana-backtest-lab/internal/backtest"
	"solana-backtest-lab/internal/config"
	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/evidence"
	"solana-backtest-lab/internal/logging"
	"solana-backtest-lab/internal/marketdata"
	"solana-backtest-lab/internal/orchestrator"
	"solana-backtest-lab/internal/runtracker"
	"solana-backtest-lab/internal/storage"
	chstore "solana-backtest-lab/internal/storage/clickhouse"
	"solana-backtest-lab/internal/storage/memory"
	"solana-backtest-lab/internal/storage/migrations"
	pgstore "solana-backtest-lab/internal/storage/postgres"
	"solana-backtest-lab/internal/storage/sqlite"
	"solana-backtest-lab/internal/strategy"
)

// Stores holds the storage implementations selected by configuration.
type Stores struct {
	KV         storage.KVStore
	Trades     storage.TradeLedgerStore
	Aggregates storage.StrategyAggregateStore

	closers []func()
}

// Close releases every connection in reverse opening order.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// OpenStores opens the configured backend. The trade ledger and aggregates
// move to ClickHouse when a DSN is set; otherwise they follow the KV backend.
func OpenStores(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (*Stores, error) {
	s := &Stores{}

	switch cfg.Backend {
	case config.BackendMemory, "":
		s.KV = memory.NewKVStore()
		s.Trades = memory.NewTradeLedgerStore()

	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		kv, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		s.closers = append(s.closers, func() { _ = kv.Close() })
		s.KV = kv
		s.Trades = memory.NewTradeLedgerStore()

	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		if cfg.Migrate {
			applied, err := migrations.RunPostgresMigrations(ctx, pool)
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.Info().Strs("versions", applied).Msg("applied postgres migrations")
			}
		}
		s.KV = pgstore.NewKVStore(pool)
		s.Trades = pgstore.NewTradeLedgerStore(pool)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	s.Aggregates = memory.NewStrategyAggregateStore()

	if cfg.ClickHouseDSN != "" {
		var (
			conn *chstore.Conn
			err  error
		)
		if cfg.Migrate {
			conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		} else {
			conn, err = chstore.NewConn(ctx, cfg.ClickHouseDSN)
		}
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		s.closers = append(s.closers, func() { _ = conn.Close() })
		s.Trades = chstore.NewTradeLedgerStore(conn)
		s.Aggregates = chstore.NewStrategyAggregateStore(conn)
	}

	logger.Info().
		Str("backend", cfg.Backend).
		Bool("clickhouse", cfg.ClickHouseDSN != "").
		Msg("stores ready")
	return s, nil
}

// FamilySources builds the upstream ladder of each family. Birdeye needs an
// API key and the equity family needs Alpaca credentials; families without
// them fall back or stay unconfigured.
func FamilySources(cfg config.SourcesConfig) map[domain.Family]acquisition.Sources {
	opts := []marketdata.ClientOption{
		marketdata.WithRateLimit(cfg.RequestsPerSec, cfg.Burst),
		marketdata.WithMaxRetries(cfg.MaxRetries),
	}
	client := func(baseURL string, extra ...marketdata.ClientOption) *marketdata.HTTPClient {
		return marketdata.NewHTTPClient(baseURL, append(append([]marketdata.ClientOption{}, opts...), extra...)...)
	}

	gecko := marketdata.NewGeckoTerminal(client(or(cfg.GeckoTerminalURL, marketdata.GeckoTerminalBaseURL)))
	dex := marketdata.NewDexScreener(client(or(cfg.DexScreenerURL, marketdata.DexScreenerBaseURL)), cfg.DexScreenerQuery)
	mints := marketdata.NewMintList(client(or(cfg.JupiterURL, marketdata.JupiterBaseURL)))

	var fallback marketdata.CandleSource
	if cfg.BirdeyeAPIKey != "" {
		fallback = marketdata.NewBirdeye(client(or(cfg.BirdeyeURL, marketdata.BirdeyeBaseURL),
			marketdata.WithHeader("X-API-KEY", cfg.BirdeyeAPIKey),
			marketdata.WithHeader("x-chain", "solana"),
		))
	}
	var synthetic marketdata.CandleSource
	if cfg.Synthetic {
		synthetic = marketdata.NewSynthetic()
	}

	families := map[domain.Family]acquisition.Sources{
		domain.FamilyBluechip: {
			Resolver:  dex,
			Candles:   gecko,
			Fallback:  fallback,
			Synthetic: synthetic,
		},
		domain.FamilyMemecoin: {
			Primary:   gecko,
			Secondary: dex,
			Tertiary:  mints,
			Resolver:  dex,
			Candles:   gecko,
			Fallback:  fallback,
			Synthetic: synthetic,
		},
	}
	if cfg.AlpacaAPIKey != "" {
		families[domain.FamilyEquity] = acquisition.Sources{
			Candles:   marketdata.NewAlpaca(cfg.AlpacaAPIKey, cfg.AlpacaAPISecret, cfg.AlpacaDataURL),
			Synthetic: synthetic,
		}
	}
	return families
}

// Policy maps the acquisition section onto the orchestrator policy.
func Policy(cfg config.AcquisitionConfig) acquisition.Policy {
	p := acquisition.DefaultPolicy()
	if cfg.MinCoverageRatio > 0 {
		p.MinCoverageRatio = cfg.MinCoverageRatio
	}
	if cfg.MinCacheHitRate > 0 {
		p.MinCacheHitRate = cfg.MinCacheHitRate
	}
	if cfg.CacheTTL > 0 {
		p.CacheTTL = cfg.CacheTTL
	}
	if cfg.HeartbeatInterval > 0 {
		p.HeartbeatInterval = cfg.HeartbeatInterval
	}
	if cfg.DiscoveryTimeout > 0 {
		p.DiscoveryTimeout = cfg.DiscoveryTimeout
	}
	if cfg.BaseTimeout > 0 {
		p.BaseTimeout = cfg.BaseTimeout
	}
	if cfg.PerCandleTimeout > 0 {
		p.PerCandleTimeout = cfg.PerCandleTimeout
	}
	if cfg.FastMaxCandles > 0 {
		p.FastMaxCandles = cfg.FastMaxCandles
	}
	if cfg.MinCandles > 0 {
		p.DefaultMinCandles = cfg.MinCandles
	}
	if cfg.BatchSize > 0 {
		p.DefaultBatchSize = cfg.BatchSize
	}
	if cfg.UniverseSize > 0 {
		p.DefaultUniverse = cfg.UniverseSize
	}
	return p
}

// App is the assembled backtest stack.
type App struct {
	Config       *config.Config
	Stores       *Stores
	Registry     *strategy.Registry
	Tracker      *runtracker.Tracker
	Artifacts    *evidence.Store
	Orchestrator *orchestrator.Orchestrator
	Service      *backtest.Service
	Logger       zerolog.Logger
}

// Options override parts of the wiring, mainly for tests.
type Options struct {
	Families map[domain.Family]acquisition.Sources // nil builds them from cfg.Sources
	Clock    func() time.Time
}

// New assembles the stack from cfg.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	registry, err := strategy.LoadCatalogFile(cfg.StrategyCatalog)
	if err != nil {
		return nil, err
	}

	stores, err := OpenStores(ctx, cfg.Storage, logging.Component(logger, "storage"))
	if err != nil {
		return nil, err
	}

	families := opts.Families
	if families == nil {
		families = FamilySources(cfg.Sources)
	}
	policy := Policy(cfg.Acquisition)
	acquirer := acquisition.New(acquisition.Options{
		Store:    stores.KV,
		Families: families,
		Policy:   &policy,
		Logger:   logger,
		Clock:    opts.Clock,
	})

	tracker := runtracker.New(runtracker.Options{
		Store:     stores.KV,
		Retention: cfg.Run.Retention,
		Budgets: runtracker.Budgets{
			Fast:     cfg.Run.FastBudget,
			Thorough: cfg.Run.ThoroughBudget,
		},
		Logger: logger,
		Clock:  opts.Clock,
	})

	artifacts := evidence.NewStore(stores.KV, cfg.Storage.ArtifactTTL)

	orch := orchestrator.New(orchestrator.Options{
		Registry:       registry,
		Acquirer:       acquirer,
		Tracker:        tracker,
		TradeStore:     stores.Trades,
		AggregateStore: stores.Aggregates,
		Artifacts:      artifacts,
		MonteCarloRuns: cfg.Run.MonteCarloRuns,
		Logger:         logger,
		Clock:          opts.Clock,
	})

	svc, err := backtest.NewService(backtest.ServiceConfig{
		Orchestrator:  orch,
		MaxConcurrent: cfg.Run.MaxConcurrent,
		JobRetention:  cfg.Run.Retention,
		Logger:        logger,
		Clock:         opts.Clock,
	})
	if err != nil {
		stores.Close()
		return nil, err
	}

	return &App{
		Config:       cfg,
		Stores:       stores,
		Registry:     registry,
		Tracker:      tracker,
		Artifacts:    artifacts,
		Orchestrator: orch,
		Service:      svc,
		Logger:       logger,
	}, nil
}

// purger is implemented by KV backends that keep expired rows on disk.
type purger interface {
	Purge(ctx context.Context) (int64, error)
}

// StartMaintenance runs the stale-run watchdog and, for persistent KV
// backends, periodic removal of expired rows. Both stop with ctx.
func (a *App) StartMaintenance(ctx context.Context) {
	a.Service.SetContext(ctx)
	a.Tracker.StartWatchdog(ctx, a.Config.Run.WatchdogInterval)

	p, ok := a.Stores.KV.(purger)
	if !ok {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := p.Purge(ctx)
				if err != nil {
					a.Logger.Warn().Err(err).Msg("purge expired rows")
					continue
				}
				if n > 0 {
					a.Logger.Debug().Int64("rows", n).Msg("purged expired rows")
				}
			}
		}
	}()
}

// Close drains the service and releases the stores.
func (a *App) Close(ctx context.Context) error {
	err := a.Service.Close(ctx)
	a.Stores.Close()
	return err
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
