package domain

import "time"

// SignalType is the direction of an entry signal.
type SignalType string

// Signal types
const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
)

// Signal is a strategy-generated recommendation at a given candle.
type Signal struct {
	Timestamp    time.Time  `json:"timestamp"`
	Type         SignalType `json:"type"`
	Price        float64    `json:"price"`
	Reason       string     `json:"reason"`
	Score        float64    `json:"score"`        // evaluator confidence, 0..100
	LiquidityUSD float64    `json:"liquidityUsd"` // pool liquidity when the signal fired, 0 if unknown
}
