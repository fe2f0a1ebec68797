package simulation

import (
	"fmt"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/signal"
)

// WalkForward splits candles at the midpoint and simulates each half on its own,
// re-evaluating signals per half so no in-sample signal leaks out-of-sample.
func WalkForward(candles []domain.Candle, ev signal.Evaluator, cfg domain.StrategyConfig, opts ...Option) (*domain.WalkForwardResult, error) {
	if len(candles) < 2 {
		return nil, fmt.Errorf("%w: walk-forward needs at least 2 candles, got %d", ErrSeriesTooShort, len(candles))
	}
	mid := len(candles) / 2
	inSample, outSample := candles[:mid], candles[mid:]

	in, err := Simulate(inSample, ev.Evaluate(inSample), cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("in-sample: %w", err)
	}
	out, err := Simulate(outSample, ev.Evaluate(outSample), cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("out-of-sample: %w", err)
	}
	return &domain.WalkForwardResult{InSample: in, OutSample: out}, nil
}
