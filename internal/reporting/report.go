package reporting

import (
	"time"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/metrics"
)

// Report is the per-run report rendered to text and embedded in the evidence bundle.
type Report struct {
	// Metadata
	RunID         string
	Mode          string
	DataScale     domain.DataScale
	GeneratedAt   time.Time
	StrategyCount int

	// Data Summary
	DataSummary DataSummary

	// Data Quality (coverage checks)
	DataQuality DataQualitySection

	// One row per strategy in declared order
	Rows []domain.SummaryRow

	// Monte Carlo resampling per strategy with trades
	Risk []RiskRow
}

// DataQualitySection contains coverage checks and per-dataset errors.
type DataQualitySection struct {
	CoverageChecks  []CoverageCheckRow
	IntegrityErrors []string
	AllChecksPassed bool
}

// CoverageCheckRow represents one coverage criterion.
type CoverageCheckRow struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// DataSummary describes the datasets a run consumed.
type DataSummary struct {
	Datasets          int
	RealDatasets      int
	SyntheticDatasets int
	BySource          []SourceCount
	TotalTrades       int
	DateRangeStart    time.Time
	DateRangeEnd      time.Time
}

// SourceCount is the number of datasets served by one provider.
type SourceCount struct {
	Source string
	Tier   domain.SourceTier
	Count  int
}

// RiskRow is the Monte Carlo summary of one strategy.
type RiskRow struct {
	StrategyID string
	metrics.MonteCarloResult
}
