package signal

import (
	"fmt"
	"math"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/indicators"
)

// EMACrossover buys when the fast EMA crosses above the slow EMA and sells on the reverse cross.
type EMACrossover struct {
	Fast int
	Slow int
}

// MinLookback needs one candle past the slow seed to observe a cross.
func (e *EMACrossover) MinLookback() int { return e.Slow + 1 }

// Kind returns the evaluator kind.
func (e *EMACrossover) Kind() domain.SignalKind { return domain.SignalEMACrossover }

// Evaluate emits a signal on every cross.
func (e *EMACrossover) Evaluate(candles []domain.Candle) []domain.Signal {
	out := []domain.Signal{}
	if len(candles) < e.MinLookback() {
		return out
	}
	closes := domain.Closes(candles)
	fast := indicators.EMA(closes, e.Fast)
	slow := indicators.EMA(closes, e.Slow)

	for i := e.Slow; i < len(candles); i++ {
		prevDiff := fast[i-1] - slow[i-1]
		diff := fast[i] - slow[i]
		spread := diff / slow[i] * 100
		switch {
		case prevDiff <= 0 && diff > 0:
			out = append(out, newSignal(candles[i], domain.SignalBuy,
				fmt.Sprintf("ema%d crossed above ema%d", e.Fast, e.Slow), 50+spread*10))
		case prevDiff >= 0 && diff < 0:
			out = append(out, newSignal(candles[i], domain.SignalSell,
				fmt.Sprintf("ema%d crossed below ema%d", e.Fast, e.Slow), 50-spread*10))
		}
	}
	return out
}

// RSIReversal buys when RSI recovers through the oversold line and sells when it
// falls back through the overbought line.
type RSIReversal struct {
	Period     int
	Oversold   float64
	Overbought float64
}

// MinLookback returns the RSI seed length plus one candle.
func (r *RSIReversal) MinLookback() int { return r.Period + 1 }

// Kind returns the evaluator kind.
func (r *RSIReversal) Kind() domain.SignalKind { return domain.SignalRSIReversal }

// Evaluate emits a signal on each threshold crossing.
func (r *RSIReversal) Evaluate(candles []domain.Candle) []domain.Signal {
	out := []domain.Signal{}
	if len(candles) < r.MinLookback() {
		return out
	}
	rsi := indicators.RSI(domain.Closes(candles), r.Period)

	for i := r.Period; i < len(candles); i++ {
		prev, cur := rsi[i-1], rsi[i]
		switch {
		case prev < r.Oversold && cur >= r.Oversold:
			out = append(out, newSignal(candles[i], domain.SignalBuy,
				fmt.Sprintf("rsi%d recovered above %.0f", r.Period, r.Oversold), 50+(r.Oversold-prev)*2.5))
		case prev > r.Overbought && cur <= r.Overbought:
			out = append(out, newSignal(candles[i], domain.SignalSell,
				fmt.Sprintf("rsi%d fell below %.0f", r.Period, r.Overbought), 50+(prev-r.Overbought)*2.5))
		}
	}
	return out
}

// MomentumBreakout buys when the close clears the prior Lookback-candle high on a
// volume spike of at least VolumeMultiplier times the prior average volume.
type MomentumBreakout struct {
	Lookback         int
	VolumeMultiplier float64
}

// MinLookback returns the breakout window plus the breakout candle.
func (m *MomentumBreakout) MinLookback() int { return m.Lookback + 1 }

// Kind returns the evaluator kind.
func (m *MomentumBreakout) Kind() domain.SignalKind { return domain.SignalMomentumBreakout }

// Evaluate emits BUY signals only.
func (m *MomentumBreakout) Evaluate(candles []domain.Candle) []domain.Signal {
	out := []domain.Signal{}
	if len(candles) < m.MinLookback() {
		return out
	}
	avgVolume := indicators.SMA(domain.Volumes(candles), m.Lookback)

	for i := m.Lookback; i < len(candles); i++ {
		highest := math.Inf(-1)
		for j := i - m.Lookback; j < i; j++ {
			highest = math.Max(highest, candles[j].High)
		}
		// average of the Lookback candles before i
		baseline := avgVolume[i-1]
		if baseline <= 0 || candles[i].Close <= highest {
			continue
		}
		ratio := candles[i].Volume / baseline
		if ratio < m.VolumeMultiplier {
			continue
		}
		out = append(out, newSignal(candles[i], domain.SignalBuy,
			fmt.Sprintf("breakout above %d-candle high on %.1fx volume", m.Lookback, ratio),
			ratio/m.VolumeMultiplier*50))
	}
	return out
}

// MeanReversion buys on the first close at or below the lower Bollinger band and
// sells on the first close at or above the upper band.
type MeanReversion struct {
	Period int
	StdDev float64
}

// MinLookback returns the band period plus one candle.
func (m *MeanReversion) MinLookback() int { return m.Period + 1 }

// Kind returns the evaluator kind.
func (m *MeanReversion) Kind() domain.SignalKind { return domain.SignalMeanReversion }

// Evaluate emits a signal on each fresh band touch. Zero-width bands never signal.
func (m *MeanReversion) Evaluate(candles []domain.Candle) []domain.Signal {
	out := []domain.Signal{}
	if len(candles) < m.MinLookback() {
		return out
	}
	closes := domain.Closes(candles)
	bands := indicators.Bollinger(closes, m.Period, m.StdDev)

	for i := m.Period; i < len(candles); i++ {
		width := bands.Upper[i] - bands.Lower[i]
		if width <= 0 {
			continue
		}
		switch {
		case closes[i] <= bands.Lower[i] && closes[i-1] > bands.Lower[i-1]:
			depth := (bands.Lower[i] - closes[i]) / width * 100
			out = append(out, newSignal(candles[i], domain.SignalBuy, "close touched lower band", 50+depth))
		case closes[i] >= bands.Upper[i] && closes[i-1] < bands.Upper[i-1]:
			depth := (closes[i] - bands.Upper[i]) / width * 100
			out = append(out, newSignal(candles[i], domain.SignalSell, "close touched upper band", 50+depth))
		}
	}
	return out
}

// Fixed emits BUY signals at preset candle indexes. Indexes past the end are ignored.
type Fixed struct {
	Indexes []int
}

// MinLookback is one candle.
func (f *Fixed) MinLookback() int { return 1 }

// Kind returns the evaluator kind.
func (f *Fixed) Kind() domain.SignalKind { return domain.SignalFixed }

// Evaluate emits one BUY per in-range index, in candle order.
func (f *Fixed) Evaluate(candles []domain.Candle) []domain.Signal {
	out := []domain.Signal{}
	seen := make(map[int]bool, len(f.Indexes))
	for i := range candles {
		for _, idx := range f.Indexes {
			if idx == i && !seen[i] {
				seen[i] = true
				out = append(out, newSignal(candles[i], domain.SignalBuy, "scheduled entry", 100))
			}
		}
	}
	return out
}

// Ensure evaluators implement Evaluator
var (
	_ Evaluator = (*EMACrossover)(nil)
	_ Evaluator = (*RSIReversal)(nil)
	_ Evaluator = (*MomentumBreakout)(nil)
	_ Evaluator = (*MeanReversion)(nil)
	_ Evaluator = (*Fixed)(nil)
)
