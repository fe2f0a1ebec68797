// Package simulation replays entry signals and exit rules over candle series.
// Everything here is synchronous and free of I/O.
package simulation

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/idhash"
	"solana-backtest-lab/internal/metrics"
	"solana-backtest-lab/internal/signal"
)

// Simulation errors
var (
	ErrMalformedSeries = errors.New("malformed candle series")
	ErrInvalidConfig   = errors.New("invalid simulation config")
	ErrSeriesTooShort  = errors.New("series too short")
)

type options struct {
	datasetID    string
	liquidityUSD float64
}

// Option configures a simulation.
type Option func(*options)

// WithDatasetID sets the dataset id stamped on trades and the result.
func WithDatasetID(id string) Option {
	return func(o *options) {
		o.datasetID = id
	}
}

// WithLiquidity sets the liquidity assumed for signals that carry none.
func WithLiquidity(usd float64) Option {
	return func(o *options) {
		o.liquidityUSD = usd
	}
}

// Simulate walks candles once, opening a long position on each eligible BUY
// signal and closing it by the exit rules of cfg.
//
// Exit checks per candle, first match wins: take-profit, trailing stop,
// expiry, stop-loss. The trailing stop is armed only after the high-water mark
// has been above the entry fill. A position still open when the series ends
// closes at the last close as expired.
func Simulate(candles []domain.Candle, signals []domain.Signal, cfg domain.StrategyConfig, opts ...Option) (*domain.BacktestResult, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if err := domain.ValidateSeries(candles); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSeries, err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	if o.liquidityUSD > 0 {
		signals = signal.WithLiquidity(signals, o.liquidityUSD)
	}
	ordered := make([]domain.Signal, len(signals))
	copy(ordered, signals)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	result := &domain.BacktestResult{
		StrategyID:   cfg.StrategyID,
		DatasetID:    o.datasetID,
		Trades:       []domain.Trade{},
		DatasetCount: 1,
	}

	nextFree := 0 // first candle index a new position may open on
	for _, sig := range ordered {
		if sig.Type != domain.SignalBuy {
			continue
		}
		result.SignalsSeen++

		if filtered(sig, cfg) {
			result.SignalsFiltered++
			continue
		}

		idx := candleIndex(candles, sig)
		// overlapping, or no candle left to manage the position on
		if idx < nextFree || idx >= len(candles)-1 {
			continue
		}

		trade := walkPosition(candles, idx, sig.Price, cfg)
		trade.StrategyID = cfg.StrategyID
		trade.DatasetID = o.datasetID
		trade.TradeID = idhash.ComputeTradeID(o.datasetID, cfg.StrategyID, trade.EntryTime.UnixMilli(), idx)
		result.Trades = append(result.Trades, trade)
		nextFree = idx + trade.HoldCandles + 1
	}

	result.TradeStats = metrics.Summarize(result.Trades)
	return result, nil
}

// filtered reports whether a signal fails the strategy's entry pre-conditions.
func filtered(sig domain.Signal, cfg domain.StrategyConfig) bool {
	if cfg.MinScore > 0 && sig.Score < cfg.MinScore {
		return true
	}
	if cfg.MinLiquidityUSD > 0 && sig.LiquidityUSD < cfg.MinLiquidityUSD {
		return true
	}
	return false
}

// candleIndex returns the first candle at or after the signal time.
func candleIndex(candles []domain.Candle, sig domain.Signal) int {
	return sort.Search(len(candles), func(i int) bool {
		return !candles[i].Timestamp.Before(sig.Timestamp)
	})
}

// walkPosition opens at candle idx and scans forward until an exit fires.
func walkPosition(candles []domain.Candle, idx int, signalPrice float64, cfg domain.StrategyConfig) domain.Trade {
	if signalPrice <= 0 {
		signalPrice = candles[idx].Close
	}
	entryFill := signalPrice * (1 + cfg.SlippagePct/100)

	var tpLevel, slLevel float64
	if cfg.TakeProfitPct > 0 {
		tpLevel = entryFill * (1 + cfg.TakeProfitPct/100)
	}
	if cfg.StopLossPct > 0 {
		slLevel = entryFill * (1 - cfg.StopLossPct/100)
	}

	hwm, lwm := entryFill, entryFill
	maxRetrace := 0.0
	exitIdx := len(candles) - 1
	exitPrice := candles[exitIdx].Close
	reason := domain.ExitExpired

	for j := idx + 1; j < len(candles); j++ {
		c := candles[j]
		hold := j - idx
		armed := hwm > entryFill
		trailLevel := hwm * (1 - cfg.TrailingStopPct/100)

		hwm = math.Max(hwm, c.High)
		lwm = math.Min(lwm, c.Low)
		maxRetrace = math.Max(maxRetrace, (hwm-c.Low)/hwm*100)

		var fired bool
		switch {
		case tpLevel > 0 && c.High >= tpLevel:
			exitPrice, reason, fired = tpLevel, domain.ExitTakeProfit, true
		case cfg.TrailingStopPct > 0 && armed && c.Low <= trailLevel:
			exitPrice, reason, fired = math.Min(c.Open, trailLevel), domain.ExitTrailingStop, true
		case cfg.MaxHoldCandles > 0 && hold >= cfg.MaxHoldCandles:
			exitPrice, reason, fired = c.Close, domain.ExitExpired, true
		case slLevel > 0 && c.Low <= slLevel:
			exitPrice, reason, fired = math.Min(c.Open, slLevel), domain.ExitStopLoss, true
		}
		if fired {
			exitIdx = j
			break
		}
	}

	exitFill := exitPrice * (1 - cfg.SlippagePct/100)
	pnl := (exitFill/entryFill - 1) * 100

	return domain.Trade{
		EntryTime:      candles[idx].Timestamp,
		ExitTime:       candles[exitIdx].Timestamp,
		EntryPrice:     entryFill,
		ExitPrice:      exitFill,
		PnLPct:         pnl,
		PnLNet:         pnl - 2*cfg.FeePct,
		ExitReason:     reason,
		HoldCandles:    exitIdx - idx,
		HighWaterMark:  (hwm/entryFill - 1) * 100,
		LowWaterMark:   (lwm/entryFill - 1) * 100,
		MaxDrawdownPct: maxRetrace,
	}
}

func validateConfig(cfg domain.StrategyConfig) error {
	r := cfg.ExitRules
	switch {
	case r.StopLossPct < 0 || r.StopLossPct >= 100,
		r.TakeProfitPct < 0,
		r.TrailingStopPct < 0 || r.TrailingStopPct >= 100,
		r.MaxHoldCandles < 0:
		return fmt.Errorf("%w: exit rules %+v", ErrInvalidConfig, r)
	case cfg.SlippagePct < 0 || cfg.SlippagePct >= 100 || cfg.FeePct < 0:
		return fmt.Errorf("%w: slippage %.4f fee %.4f", ErrInvalidConfig, cfg.SlippagePct, cfg.FeePct)
	}
	return nil
}
