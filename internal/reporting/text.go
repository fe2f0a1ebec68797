package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderText renders report as a Markdown-flavoured text document.
func RenderText(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Backtest Report %s\n\n", r.RunID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Mode: %s | Scale: %s | Strategies: %d\n\n", r.Mode, r.DataScale, r.StrategyCount))

	// Data Summary
	sb.WriteString("## Data Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Datasets | %d |\n", r.DataSummary.Datasets))
	sb.WriteString(fmt.Sprintf("| Real Datasets | %d |\n", r.DataSummary.RealDatasets))
	sb.WriteString(fmt.Sprintf("| Synthetic Datasets | %d |\n", r.DataSummary.SyntheticDatasets))
	sb.WriteString(fmt.Sprintf("| Total Trades | %d |\n", r.DataSummary.TotalTrades))
	if !r.DataSummary.DateRangeStart.IsZero() {
		sb.WriteString(fmt.Sprintf("| Date Range | %s - %s |\n",
			r.DataSummary.DateRangeStart.Format(time.RFC3339), r.DataSummary.DateRangeEnd.Format(time.RFC3339)))
	}
	sb.WriteString("\n")
	if len(r.DataSummary.BySource) > 0 {
		sb.WriteString("| Source | Tier | Datasets |\n")
		sb.WriteString("|--------|------|----------|\n")
		for _, s := range r.DataSummary.BySource {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d |\n", s.Source, s.Tier, s.Count))
		}
		sb.WriteString("\n")
	}

	// Data Quality
	sb.WriteString("## Data Quality\n\n")
	if len(r.DataQuality.CoverageChecks) > 0 {
		sb.WriteString("| Check | Threshold | Actual | Status |\n")
		sb.WriteString("|-------|-----------|--------|--------|\n")
		for _, check := range r.DataQuality.CoverageChecks {
			status := "FAIL"
			if check.Pass {
				status = "PASS"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				check.Name, check.Threshold, check.Actual, status))
		}
		sb.WriteString("\n")
		if r.DataQuality.AllChecksPassed {
			sb.WriteString("**All coverage checks passed.**\n\n")
		} else {
			sb.WriteString("**Some coverage checks failed.** Results are not sufficient evidence.\n\n")
		}
	} else if len(r.DataQuality.IntegrityErrors) == 0 {
		sb.WriteString("No coverage checks recorded.\n\n")
	}
	if len(r.DataQuality.IntegrityErrors) > 0 {
		sb.WriteString("### Dataset Errors\n\n")
		for _, e := range r.DataQuality.IntegrityErrors {
			sb.WriteString(fmt.Sprintf("- %s\n", e))
		}
		sb.WriteString("\n")
	}

	// Strategy Results
	sb.WriteString("## Strategy Results\n\n")
	if len(r.Rows) > 0 {
		sb.WriteString("| Strategy | Family | Status | Datasets | Trades | WinRate | 95% CI | PF | Expectancy | MaxDD | Sharpe |\n")
		sb.WriteString("|----------|--------|--------|----------|--------|---------|--------|----|------------|-------|--------|\n")
		for _, row := range r.Rows {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %d | %s | %s | %s | %s | %s | %s |\n",
				row.StrategyID, row.Family, row.Status, row.Datasets, row.Trades,
				row.WinRate, row.WinRateCI, row.ProfitFactor, row.Expectancy, row.MaxDrawdown, row.Sharpe))
		}
		sb.WriteString("\n")
		for _, row := range r.Rows {
			if row.Error != "" {
				sb.WriteString(fmt.Sprintf("- %s failed: %s\n", row.StrategyID, row.Error))
			} else if row.Trades > 0 && !row.CLTReliable {
				sb.WriteString(fmt.Sprintf("- %s: fewer than 50 trades, intervals are indicative only\n", row.StrategyID))
			}
		}
	} else {
		sb.WriteString("No strategy results available.\n")
	}
	sb.WriteString("\n")

	// Risk
	sb.WriteString("## Monte Carlo Resampling\n\n")
	if len(r.Risk) > 0 {
		sb.WriteString("| Strategy | Runs | P5 | P50 | P95 | P(loss) | VaR95 | Median MaxDD |\n")
		sb.WriteString("|----------|------|----|-----|-----|---------|-------|--------------|\n")
		for _, k := range r.Risk {
			sb.WriteString(fmt.Sprintf("| %s | %d | %.2f | %.2f | %.2f | %.2f | %.2f%% | %.2f%% |\n",
				k.StrategyID, k.Runs, k.FinalEquityP5, k.FinalEquityP50, k.FinalEquityP95,
				k.ProbabilityLoss, k.VaR95Pct, k.MedianMaxDDPct))
		}
	} else {
		sb.WriteString("No trades to resample.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
