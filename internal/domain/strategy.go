package domain

// Family groups strategies that share an asset universe.
type Family string

// Strategy families
const (
	FamilyBluechip Family = "bluechip"
	FamilyMemecoin Family = "memecoin"
	FamilyEquity   Family = "equity"
)

// AllFamilies lists every known family in declaration order.
var AllFamilies = []Family{FamilyBluechip, FamilyMemecoin, FamilyEquity}

// String returns the string representation of Family.
func (f Family) String() string {
	return string(f)
}

// IsValid checks if the family is a known value.
func (f Family) IsValid() bool {
	switch f {
	case FamilyBluechip, FamilyMemecoin, FamilyEquity:
		return true
	}
	return false
}

// SignalKind selects the entry-signal evaluator.
type SignalKind string

// Signal evaluator kinds
const (
	SignalEMACrossover     SignalKind = "ema_crossover"
	SignalRSIReversal      SignalKind = "rsi_reversal"
	SignalMomentumBreakout SignalKind = "momentum_breakout"
	SignalMeanReversion    SignalKind = "mean_reversion"
	SignalFixed            SignalKind = "fixed"
)

// SignalParams configures the entry-signal evaluator. Only the fields used by Kind matter.
type SignalParams struct {
	Kind SignalKind `json:"kind" yaml:"kind"`

	// ema_crossover
	FastPeriod int `json:"fastPeriod,omitempty" yaml:"fast_period"`
	SlowPeriod int `json:"slowPeriod,omitempty" yaml:"slow_period"`

	// rsi_reversal
	RSIPeriod  int     `json:"rsiPeriod,omitempty" yaml:"rsi_period"`
	Oversold   float64 `json:"oversold,omitempty" yaml:"oversold"`
	Overbought float64 `json:"overbought,omitempty" yaml:"overbought"`

	// momentum_breakout
	BreakoutLookback int     `json:"breakoutLookback,omitempty" yaml:"breakout_lookback"`
	VolumeMultiplier float64 `json:"volumeMultiplier,omitempty" yaml:"volume_multiplier"`

	// mean_reversion
	BandPeriod int     `json:"bandPeriod,omitempty" yaml:"band_period"`
	BandStdDev float64 `json:"bandStdDev,omitempty" yaml:"band_std_dev"`

	// fixed: candle indexes that emit a BUY
	FixedIndexes []int `json:"fixedIndexes,omitempty" yaml:"fixed_indexes"`
}

// ExitRules are the exit parameters shared by every family. Percentages are in
// percent units (10 = 10%). A zero TrailingStopPct or MaxHoldCandles disables that rule.
type ExitRules struct {
	StopLossPct     float64 `json:"stopLossPct" yaml:"stop_loss_pct"`
	TakeProfitPct   float64 `json:"takeProfitPct" yaml:"take_profit_pct"`
	TrailingStopPct float64 `json:"trailingStopPct" yaml:"trailing_stop_pct"`
	MaxHoldCandles  int     `json:"maxHoldCandles" yaml:"max_hold_candles"`
}

// StrategyConfig is the immutable parameter set of one strategy.
// Runs operate on a copy; nothing mutates a config after a run starts.
type StrategyConfig struct {
	StrategyID string `json:"strategyId" yaml:"id"`
	Family     Family `json:"family" yaml:"family"`

	ExitRules `yaml:",inline"`

	MinScore        float64 `json:"minScore" yaml:"min_score"`
	MinLiquidityUSD float64 `json:"minLiquidityUsd" yaml:"min_liquidity_usd"`
	SlippagePct     float64 `json:"slippagePct" yaml:"slippage_pct"`
	FeePct          float64 `json:"feePct" yaml:"fee_pct"`

	EntrySignal SignalParams `json:"entrySignal" yaml:"entry_signal"`
}

// WithExitRules returns a copy of the config with different exit rules.
func (c StrategyConfig) WithExitRules(r ExitRules) StrategyConfig {
	c.ExitRules = r
	return c
}

// StrategyDefinition is the closed set of per-family strategy variants.
// Every variant carries a StrategyConfig; the variant adds the universe parameters.
type StrategyDefinition interface {
	Config() StrategyConfig
	Family() Family
	isStrategyDefinition()
}

// BluechipStrategy trades a curated list of established Solana assets.
type BluechipStrategy struct {
	StrategyConfig
	Assets []string `json:"assets"` // mint addresses
}

// MemecoinStrategy trades pools discovered at run time.
type MemecoinStrategy struct {
	StrategyConfig
	MinPoolAgeHours float64 `json:"minPoolAgeHours"`
	UniverseSize    int     `json:"universeSize"`
}

// EquityStrategy trades US equity tickers.
type EquityStrategy struct {
	StrategyConfig
	Symbols []string `json:"symbols"`
}

func (s BluechipStrategy) Config() StrategyConfig { return s.StrategyConfig }
func (s MemecoinStrategy) Config() StrategyConfig { return s.StrategyConfig }
func (s EquityStrategy) Config() StrategyConfig   { return s.StrategyConfig }

func (BluechipStrategy) Family() Family { return FamilyBluechip }
func (MemecoinStrategy) Family() Family { return FamilyMemecoin }
func (EquityStrategy) Family() Family   { return FamilyEquity }

func (BluechipStrategy) isStrategyDefinition() {}
func (MemecoinStrategy) isStrategyDefinition() {}
func (EquityStrategy) isStrategyDefinition()   {}
