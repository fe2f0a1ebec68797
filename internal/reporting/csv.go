package reporting

import (
	"fmt"
	"strings"
	"time"

	"solana-backtest-lab/internal/domain"
)

// RenderCSV renders the trade ledger as CSV string.
func RenderCSV(trades []domain.Trade) string {
	var sb strings.Builder

	// Header
	sb.WriteString("trade_id,strategy_id,dataset_id,entry_time,exit_time,entry_price,exit_price,")
	sb.WriteString("pnl_pct,pnl_net,exit_reason,hold_candles,high_water_mark,low_water_mark,max_drawdown_pct\n")

	// Rows
	for _, t := range trades {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%.8f,%.8f,%.6f,%.6f,%s,%d,%.6f,%.6f,%.6f\n",
			t.TradeID,
			t.StrategyID,
			t.DatasetID,
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			t.EntryPrice,
			t.ExitPrice,
			t.PnLPct,
			t.PnLNet,
			t.ExitReason,
			t.HoldCandles,
			t.HighWaterMark,
			t.LowWaterMark,
			t.MaxDrawdownPct,
		))
	}

	return sb.String()
}
