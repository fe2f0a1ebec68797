// Package signal turns candle series into entry signals.
// Evaluators are pure: no I/O, no shared state, same input gives the same output.
package signal

import (
	"errors"
	"fmt"
	"math"

	"solana-backtest-lab/internal/domain"
)

// Evaluator errors
var (
	ErrUnknownSignalKind = errors.New("unknown signal kind")
	ErrInvalidParams     = errors.New("invalid signal parameters")
)

// Evaluator maps a candle series to signals.
type Evaluator interface {
	// Evaluate returns signals in candle order. Series shorter than MinLookback
	// produce an empty slice.
	Evaluate(candles []domain.Candle) []domain.Signal

	// MinLookback is the minimum series length that can produce a signal.
	MinLookback() int

	// Kind returns the evaluator kind.
	Kind() domain.SignalKind
}

// Default parameters applied when a field is left zero.
const (
	DefaultFastPeriod       = 9
	DefaultSlowPeriod       = 21
	DefaultRSIPeriod        = 14
	DefaultOversold         = 30
	DefaultOverbought       = 70
	DefaultBreakoutLookback = 20
	DefaultVolumeMultiplier = 2.0
	DefaultBandPeriod       = 20
	DefaultBandStdDev       = 2.0
)

// New builds an Evaluator from params, filling defaults and validating the result.
func New(p domain.SignalParams) (Evaluator, error) {
	switch p.Kind {
	case domain.SignalEMACrossover:
		fast := orInt(p.FastPeriod, DefaultFastPeriod)
		slow := orInt(p.SlowPeriod, DefaultSlowPeriod)
		if fast < 1 || slow <= fast {
			return nil, fmt.Errorf("%w: ema crossover needs 1 <= fast < slow (got %d/%d)", ErrInvalidParams, fast, slow)
		}
		return &EMACrossover{Fast: fast, Slow: slow}, nil

	case domain.SignalRSIReversal:
		period := orInt(p.RSIPeriod, DefaultRSIPeriod)
		oversold := orFloat(p.Oversold, DefaultOversold)
		overbought := orFloat(p.Overbought, DefaultOverbought)
		if period < 2 || oversold <= 0 || overbought >= 100 || oversold >= overbought {
			return nil, fmt.Errorf("%w: rsi reversal needs period >= 2 and 0 < oversold < overbought < 100", ErrInvalidParams)
		}
		return &RSIReversal{Period: period, Oversold: oversold, Overbought: overbought}, nil

	case domain.SignalMomentumBreakout:
		lookback := orInt(p.BreakoutLookback, DefaultBreakoutLookback)
		mult := orFloat(p.VolumeMultiplier, DefaultVolumeMultiplier)
		if lookback < 2 || mult <= 0 {
			return nil, fmt.Errorf("%w: momentum breakout needs lookback >= 2 and volume multiplier > 0", ErrInvalidParams)
		}
		return &MomentumBreakout{Lookback: lookback, VolumeMultiplier: mult}, nil

	case domain.SignalMeanReversion:
		period := orInt(p.BandPeriod, DefaultBandPeriod)
		dev := orFloat(p.BandStdDev, DefaultBandStdDev)
		if period < 2 || dev <= 0 {
			return nil, fmt.Errorf("%w: mean reversion needs band period >= 2 and std dev > 0", ErrInvalidParams)
		}
		return &MeanReversion{Period: period, StdDev: dev}, nil

	case domain.SignalFixed:
		for _, idx := range p.FixedIndexes {
			if idx < 0 {
				return nil, fmt.Errorf("%w: negative fixed index %d", ErrInvalidParams, idx)
			}
		}
		return &Fixed{Indexes: append([]int(nil), p.FixedIndexes...)}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignalKind, p.Kind)
	}
}

// WithLiquidity returns a copy of signals with LiquidityUSD set where unknown.
func WithLiquidity(signals []domain.Signal, liquidityUSD float64) []domain.Signal {
	out := make([]domain.Signal, len(signals))
	copy(out, signals)
	for i := range out {
		if out[i].LiquidityUSD == 0 {
			out[i].LiquidityUSD = liquidityUSD
		}
	}
	return out
}

func newSignal(c domain.Candle, typ domain.SignalType, reason string, score float64) domain.Signal {
	return domain.Signal{
		Timestamp: c.Timestamp,
		Type:      typ,
		Price:     c.Close,
		Reason:    reason,
		Score:     clampScore(score),
	}
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
