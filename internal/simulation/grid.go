package simulation

import (
	"errors"
	"fmt"
	"sort"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/signal"
)

// Grid lists candidate values per exit rule. An empty axis keeps the base value.
type Grid struct {
	StopLossPct     []float64 `json:"stopLossPct" yaml:"stop_loss_pct"`
	TakeProfitPct   []float64 `json:"takeProfitPct" yaml:"take_profit_pct"`
	TrailingStopPct []float64 `json:"trailingStopPct" yaml:"trailing_stop_pct"`
	MaxHoldCandles  []int     `json:"maxHoldCandles" yaml:"max_hold_candles"`
}

// DefaultGrid is used when a grid run names no axes.
var DefaultGrid = Grid{
	StopLossPct:     []float64{5, 10, 15},
	TakeProfitPct:   []float64{10, 20, 40},
	TrailingStopPct: []float64{0, 5},
	MaxHoldCandles:  []int{12, 24, 48},
}

// Combinations expands the cross product in axis order.
func (g Grid) Combinations(base domain.ExitRules) []domain.ExitRules {
	sls := orBase(g.StopLossPct, base.StopLossPct)
	tps := orBase(g.TakeProfitPct, base.TakeProfitPct)
	trails := orBase(g.TrailingStopPct, base.TrailingStopPct)
	holds := g.MaxHoldCandles
	if len(holds) == 0 {
		holds = []int{base.MaxHoldCandles}
	}

	out := make([]domain.ExitRules, 0, len(sls)*len(tps)*len(trails)*len(holds))
	for _, sl := range sls {
		for _, tp := range tps {
			for _, tr := range trails {
				for _, h := range holds {
					out = append(out, domain.ExitRules{
						StopLossPct:     sl,
						TakeProfitPct:   tp,
						TrailingStopPct: tr,
						MaxHoldCandles:  h,
					})
				}
			}
		}
	}
	return out
}

func orBase(axis []float64, base float64) []float64 {
	if len(axis) == 0 {
		return []float64{base}
	}
	return axis
}

// Comparator reports whether a ranks strictly before b.
type Comparator func(a, b domain.GridCandidate) bool

// DefaultComparator prefers higher profit factor, then more trades, then higher
// expectancy, then the lexically smaller parameter key so ties are deterministic.
func DefaultComparator(a, b domain.GridCandidate) bool {
	ra, rb := a.Result, b.Result
	if ra.ProfitFactor != rb.ProfitFactor {
		return ra.ProfitFactor > rb.ProfitFactor
	}
	if ra.TradeCount != rb.TradeCount {
		return ra.TradeCount > rb.TradeCount
	}
	if ra.Expectancy != rb.Expectancy {
		return ra.Expectancy > rb.Expectancy
	}
	return ParamKey(a.Rules) < ParamKey(b.Rules)
}

// ParamKey is a stable text form of exit rules.
func ParamKey(r domain.ExitRules) string {
	return fmt.Sprintf("sl=%g tp=%g trail=%g hold=%d", r.StopLossPct, r.TakeProfitPct, r.TrailingStopPct, r.MaxHoldCandles)
}

// GridSearch simulates every combination of grid over one signal stream and
// returns the topK candidates under rank. topK <= 0 returns all of them.
// Combinations whose rules could never close a position are skipped.
func GridSearch(candles []domain.Candle, ev signal.Evaluator, base domain.StrategyConfig, grid Grid, topK int, rank Comparator, opts ...Option) ([]domain.GridCandidate, error) {
	if rank == nil {
		rank = DefaultComparator
	}
	if err := domain.ValidateSeries(candles); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSeries, err)
	}
	signals := ev.Evaluate(candles)

	var candidates []domain.GridCandidate
	for _, rules := range grid.Combinations(base.ExitRules) {
		if rules == (domain.ExitRules{}) {
			continue
		}
		res, err := Simulate(candles, signals, base.WithExitRules(rules), opts...)
		if err != nil {
			if errors.Is(err, ErrInvalidConfig) {
				continue
			}
			return nil, err
		}
		candidates = append(candidates, domain.GridCandidate{Rules: rules, Result: res})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return rank(candidates[i], candidates[j])
	})
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}
