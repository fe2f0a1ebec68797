package domain

import "time"

// ExitReason explains why a simulated position closed.
type ExitReason string

// Exit reason codes
const (
	ExitTakeProfit   ExitReason = "take_profit"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitExpired      ExitReason = "expired"
)

// Trade is one completed simulated position. Created at simulated exit, never updated.
type Trade struct {
	TradeID    string `json:"tradeId"`    // deterministic hash
	StrategyID string `json:"strategyId"` // strategy identifier
	DatasetID  string `json:"datasetId"`  // dataset fingerprint

	EntryTime  time.Time `json:"entryTime"`
	ExitTime   time.Time `json:"exitTime"`
	EntryPrice float64   `json:"entryPrice"` // after entry slippage
	ExitPrice  float64   `json:"exitPrice"`  // after exit slippage

	PnLPct     float64    `json:"pnlPct"` // percent move between fills
	PnLNet     float64    `json:"pnlNet"` // PnLPct minus entry and exit fees, percent
	ExitReason ExitReason `json:"exitReason"`

	HoldCandles    int     `json:"holdCandles"`
	HighWaterMark  float64 `json:"highWaterMark"`  // best unrealized P&L seen, percent
	LowWaterMark   float64 `json:"lowWaterMark"`   // worst unrealized P&L seen, percent
	MaxDrawdownPct float64 `json:"maxDrawdownPct"` // worst retrace from the high-water mark, percent
}

// IsWin reports whether the trade closed with positive net P&L.
func (t Trade) IsWin() bool {
	return t.PnLNet > 0
}
