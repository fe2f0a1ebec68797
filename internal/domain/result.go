package domain

import "time"

// ConfidenceInterval is a two-sided interval for a proportion.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"` // e.g. 0.95
}

// TradeStats are the statistics derived from an ordered trade list.
type TradeStats struct {
	TradeCount int     `json:"tradeCount"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	WinRate    float64 `json:"winRate"` // 0..1

	// DatasetWinRate is the share of datasets with at least one winning trade.
	DatasetWinRate float64 `json:"datasetWinRate"`

	ProfitFactor float64 `json:"profitFactor"` // capped at ProfitFactorCap when there are no losses
	Expectancy   float64 `json:"expectancy"`   // mean net pnl, percent
	Sharpe       float64 `json:"sharpe"`       // mean/stdev * sqrt(n), clamped to [-10, 10]
	Sortino      float64 `json:"sortino"`

	EquityCurve         []float64 `json:"equityCurve"` // seeded at 100
	MaxDrawdownPct      float64   `json:"maxDrawdownPct"`
	MaxDrawdownDuration int       `json:"maxDrawdownDuration"` // trades spent below a prior peak
	TotalReturnPct      float64   `json:"totalReturnPct"`
	RecoveryFactor      float64   `json:"recoveryFactor"`
	Calmar              float64   `json:"calmar"`

	Volatility           float64 `json:"volatility"` // sample stdev of net pnl
	AvgWin               float64 `json:"avgWin"`
	AvgLoss              float64 `json:"avgLoss"`
	LargestWin           float64 `json:"largestWin"`
	LargestLoss          float64 `json:"largestLoss"`
	MaxConsecutiveLosses int     `json:"maxConsecutiveLosses"`

	WinRateCI      ConfidenceInterval `json:"winRateCi"`
	EWMAVolatility float64            `json:"ewmaVolatility"` // sqrt of EWMA variance of log returns
	CLTReliable    bool               `json:"cltReliable"`
}

// ProfitFactorCap replaces an infinite profit factor.
const ProfitFactorCap = 999.0

// BacktestResult is the output of one simulation, or of pooling many.
// Never mutated after creation.
type BacktestResult struct {
	StrategyID string  `json:"strategyId"`
	DatasetID  string  `json:"datasetId,omitempty"` // empty for pooled results
	Trades     []Trade `json:"trades"`

	TradeStats

	SignalsSeen     int `json:"signalsSeen"`
	SignalsFiltered int `json:"signalsFiltered"`
	DatasetCount    int `json:"datasetCount"`

	// Set by full and grid mode runs only.
	WalkForward *WalkForwardResult `json:"walkForward,omitempty"`
	GridTop     []GridCandidate    `json:"gridTop,omitempty"`
}

// WalkForwardResult holds the in-sample and out-of-sample halves of one dataset.
type WalkForwardResult struct {
	InSample  *BacktestResult `json:"inSample"`
	OutSample *BacktestResult `json:"outSample"`
}

// GridCandidate is one evaluated exit-rule combination.
type GridCandidate struct {
	Rules  ExitRules       `json:"rules"`
	Result *BacktestResult `json:"result"`
}

// StrategyAggregate is the pooled result of one strategy within one run.
// Append-only: one row per (RunID, StrategyID).
type StrategyAggregate struct {
	RunID        string `json:"runId"`
	StrategyID   string `json:"strategyId"`
	Family       Family `json:"family"`
	DatasetCount int    `json:"datasetCount"`

	TradeStats

	ComputedAt time.Time `json:"computedAt"`
}
