package metrics

import (
	"math"

	"solana-backtest-lab/internal/domain"
)

// Default tolerances for CompareWithLive.
const (
	DefaultWinRateTolerance    = 0.10 // absolute, on the 0..1 scale
	DefaultExpectancyTolerance = 2.0  // percentage points
)

// LiveComparison is the drift between backtest statistics and live fills.
type LiveComparison struct {
	WinRateDelta    float64 `json:"winRateDelta"`    // live - backtest
	ExpectancyDelta float64 `json:"expectancyDelta"` // live - backtest, percent
	LiveInsideCI    bool    `json:"liveInsideCi"`    // live win rate inside the backtest Wilson interval
	Consistent      bool    `json:"consistent"`
}

// CompareWithLive reports how far live trades drift from the backtest. Results
// are consistent when both deltas are inside tolerance.
func CompareWithLive(backtest domain.TradeStats, live []domain.Trade, winRateTol, expectancyTol float64) LiveComparison {
	liveStats := Summarize(live)
	cmp := LiveComparison{
		WinRateDelta:    liveStats.WinRate - backtest.WinRate,
		ExpectancyDelta: liveStats.Expectancy - backtest.Expectancy,
	}
	cmp.LiveInsideCI = liveStats.WinRate >= backtest.WinRateCI.Lower && liveStats.WinRate <= backtest.WinRateCI.Upper
	cmp.Consistent = liveStats.TradeCount > 0 &&
		math.Abs(cmp.WinRateDelta) <= winRateTol &&
		math.Abs(cmp.ExpectancyDelta) <= expectancyTol
	return cmp
}
