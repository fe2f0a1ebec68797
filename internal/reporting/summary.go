package reporting

import (
	"github.com/shopspring/decimal"

	"solana-backtest-lab/internal/domain"
)

// SummaryRow formats pooled statistics into both the human and the machine
// representation. Percent fields use one decimal, ratios two.
func SummaryRow(strategyID string, family domain.Family, status domain.ChunkState, errMsg string, datasets int, s domain.TradeStats) domain.SummaryRow {
	winRate := pct(s.WinRate * 100)
	lower := pct(s.WinRateCI.Lower * 100)
	upper := pct(s.WinRateCI.Upper * 100)
	expectancy := decimal.NewFromFloat(s.Expectancy).Round(2)
	pf := decimal.NewFromFloat(s.ProfitFactor).Round(2)
	dd := pct(s.MaxDrawdownPct)
	sharpe := decimal.NewFromFloat(s.Sharpe).Round(2)

	return domain.SummaryRow{
		StrategyID: strategyID,
		Family:     family,
		Status:     status,
		Error:      errMsg,
		Datasets:   datasets,
		Trades:     s.TradeCount,

		WinRate:      winRate.StringFixed(1) + "%",
		ProfitFactor: pf.StringFixed(2),
		Expectancy:   signed(expectancy) + "%",
		MaxDrawdown:  dd.StringFixed(1) + "%",
		Sharpe:       sharpe.StringFixed(2),
		WinRateCI:    lower.StringFixed(1) + "% - " + upper.StringFixed(1) + "%",

		WinRatePct:      winRate.InexactFloat64(),
		ProfitFactorNum: pf.InexactFloat64(),
		ExpectancyPct:   expectancy.InexactFloat64(),
		MaxDrawdownPct:  dd.InexactFloat64(),
		SharpeNum:       sharpe.InexactFloat64(),
		WinRateLowerPct: lower.InexactFloat64(),
		WinRateUpperPct: upper.InexactFloat64(),
		EWMAVolatility:  decimal.NewFromFloat(s.EWMAVolatility).Round(6).InexactFloat64(),
		CLTReliable:     s.CLTReliable,
	}
}

func pct(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(1)
}

func signed(d decimal.Decimal) string {
	if d.Sign() >= 0 {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}
