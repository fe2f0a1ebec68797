// Package config loads service configuration from defaults, an optional YAML
// file, a .env file and BACKTEST_* environment variables, in rising priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: storage.backend is read
// from BACKTEST_STORAGE_BACKEND.
const EnvPrefix = "BACKTEST"

// Storage backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the full service configuration.
type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Run         RunConfig         `mapstructure:"run"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Sources     SourcesConfig     `mapstructure:"sources"`

	// StrategyCatalog is a YAML catalog path; empty uses the built-in catalog.
	StrategyCatalog string `mapstructure:"strategy_catalog"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr           string        `mapstructure:"addr"`
	StreamInterval time.Duration `mapstructure:"stream_interval"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// StorageConfig selects the KV backend. When ClickHouseDSN is set the trade
// ledger and strategy aggregates live in ClickHouse.
type StorageConfig struct {
	Backend       string        `mapstructure:"backend"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	ClickHouseDSN string        `mapstructure:"clickhouse_dsn"`
	Migrate       bool          `mapstructure:"migrate"`
	ArtifactTTL   time.Duration `mapstructure:"artifact_ttl"`
}

// RunConfig bounds run execution and retention.
type RunConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	Retention        time.Duration `mapstructure:"retention"`
	FastBudget       time.Duration `mapstructure:"fast_budget"`
	ThoroughBudget   time.Duration `mapstructure:"thorough_budget"`
	WatchdogInterval time.Duration `mapstructure:"watchdog_interval"`
	MonteCarloRuns   int           `mapstructure:"monte_carlo_runs"`
}

// AcquisitionConfig overrides the acquisition policy thresholds.
type AcquisitionConfig struct {
	MinCoverageRatio  float64       `mapstructure:"min_coverage_ratio"`
	MinCacheHitRate   float64       `mapstructure:"min_cache_hit_rate"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	DiscoveryTimeout  time.Duration `mapstructure:"discovery_timeout"`
	BaseTimeout       time.Duration `mapstructure:"base_timeout"`
	PerCandleTimeout  time.Duration `mapstructure:"per_candle_timeout"`
	FastMaxCandles    int           `mapstructure:"fast_max_candles"`
	MinCandles        int           `mapstructure:"min_candles"`
	BatchSize         int           `mapstructure:"batch_size"`
	UniverseSize      int           `mapstructure:"universe_size"`
}

// SourcesConfig holds upstream endpoints and credentials.
type SourcesConfig struct {
	GeckoTerminalURL string  `mapstructure:"geckoterminal_url"`
	DexScreenerURL   string  `mapstructure:"dexscreener_url"`
	DexScreenerQuery string  `mapstructure:"dexscreener_query"`
	JupiterURL       string  `mapstructure:"jupiter_url"`
	BirdeyeURL       string  `mapstructure:"birdeye_url"`
	BirdeyeAPIKey    string  `mapstructure:"birdeye_api_key"`
	AlpacaAPIKey     string  `mapstructure:"alpaca_api_key"`
	AlpacaAPISecret  string  `mapstructure:"alpaca_api_secret"`
	AlpacaDataURL    string  `mapstructure:"alpaca_data_url"`
	RequestsPerSec   float64 `mapstructure:"requests_per_sec"`
	Burst            int     `mapstructure:"burst"`
	MaxRetries       int     `mapstructure:"max_retries"`
	Synthetic        bool    `mapstructure:"synthetic"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.stream_interval", time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.sqlite_path", "data/backtest.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")
	v.SetDefault("storage.migrate", true)
	v.SetDefault("storage.artifact_ttl", 7*24*time.Hour)

	v.SetDefault("run.max_concurrent", 2)
	v.SetDefault("run.retention", 24*time.Hour)
	v.SetDefault("run.fast_budget", 3*time.Minute)
	v.SetDefault("run.thorough_budget", 15*time.Minute)
	v.SetDefault("run.watchdog_interval", 15*time.Second)
	v.SetDefault("run.monte_carlo_runs", 1000)

	v.SetDefault("acquisition.min_coverage_ratio", 0.5)
	v.SetDefault("acquisition.min_cache_hit_rate", 0.5)
	v.SetDefault("acquisition.cache_ttl", 6*time.Hour)
	v.SetDefault("acquisition.heartbeat_interval", 5*time.Second)
	v.SetDefault("acquisition.discovery_timeout", time.Minute)
	v.SetDefault("acquisition.base_timeout", 10*time.Second)
	v.SetDefault("acquisition.per_candle_timeout", 20*time.Millisecond)
	v.SetDefault("acquisition.fast_max_candles", 720)
	v.SetDefault("acquisition.min_candles", 168)
	v.SetDefault("acquisition.batch_size", 8)
	v.SetDefault("acquisition.universe_size", 50)

	v.SetDefault("sources.geckoterminal_url", "https://api.geckoterminal.com/api/v2")
	v.SetDefault("sources.dexscreener_url", "https://api.dexscreener.com")
	v.SetDefault("sources.dexscreener_query", "SOL")
	v.SetDefault("sources.jupiter_url", "https://lite-api.jup.ag")
	v.SetDefault("sources.birdeye_url", "https://public-api.birdeye.so")
	v.SetDefault("sources.birdeye_api_key", "")
	v.SetDefault("sources.alpaca_api_key", "")
	v.SetDefault("sources.alpaca_api_secret", "")
	v.SetDefault("sources.alpaca_data_url", "")
	v.SetDefault("sources.requests_per_sec", 2.0)
	v.SetDefault("sources.burst", 2)
	v.SetDefault("sources.max_retries", 3)
	v.SetDefault("sources.synthetic", true)

	v.SetDefault("strategy_catalog", "")
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is fine.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds the configuration. path is an optional YAML file; an empty path
// skips it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Run.MaxConcurrent < 1 {
		return fmt.Errorf("run.max_concurrent must be positive, got %d", c.Run.MaxConcurrent)
	}
	if c.Acquisition.MinCoverageRatio <= 0 || c.Acquisition.MinCoverageRatio > 1 {
		return fmt.Errorf("acquisition.min_coverage_ratio must be in (0, 1], got %v", c.Acquisition.MinCoverageRatio)
	}
	if c.Acquisition.BatchSize < 1 {
		return fmt.Errorf("acquisition.batch_size must be positive, got %d", c.Acquisition.BatchSize)
	}
	return nil
}

