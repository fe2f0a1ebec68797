package simulation

import (
	"testing"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/signal"
)

func candidate(pf float64, trades int, expectancy float64, sl float64) domain.GridCandidate {
	return domain.GridCandidate{
		Rules: domain.ExitRules{StopLossPct: sl},
		Result: &domain.BacktestResult{TradeStats: domain.TradeStats{
			ProfitFactor: pf,
			TradeCount:   trades,
			Expectancy:   expectancy,
		}},
	}
}

func TestDefaultComparator(t *testing.T) {
	tests := []struct {
		name string
		a, b domain.GridCandidate
		want bool
	}{
		{"higher profit factor first", candidate(2, 1, 0, 1), candidate(1, 10, 5, 1), true},
		{"lower profit factor later", candidate(1, 10, 5, 1), candidate(2, 1, 0, 1), false},
		{"more trades on tie", candidate(2, 5, 0, 1), candidate(2, 3, 9, 1), true},
		{"higher expectancy on tie", candidate(2, 5, 3, 1), candidate(2, 5, 1, 1), true},
		{"param key breaks full tie", candidate(2, 5, 3, 1), candidate(2, 5, 3, 2), true},
		{"identical is not before", candidate(2, 5, 3, 1), candidate(2, 5, 3, 1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultComparator(tt.a, tt.b); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestGrid_Combinations(t *testing.T) {
	g := Grid{StopLossPct: []float64{5, 10}, MaxHoldCandles: []int{4, 8, 12}}
	base := domain.ExitRules{TakeProfitPct: 20, TrailingStopPct: 3}

	combos := g.Combinations(base)
	if len(combos) != 6 {
		t.Fatalf("expected 6 combinations, got %d", len(combos))
	}
	for _, c := range combos {
		if c.TakeProfitPct != 20 || c.TrailingStopPct != 3 {
			t.Errorf("empty axes must keep base values: %+v", c)
		}
	}
	if got := len(DefaultGrid.Combinations(base)); got != 54 {
		t.Errorf("expected 54 default combinations, got %d", got)
	}
}

func TestGridSearch_InjectedComparator(t *testing.T) {
	candles := trend(30, 0.5)
	ev := &signal.Fixed{Indexes: []int{0}}
	base := domain.StrategyConfig{StrategyID: "g"}
	grid := Grid{TakeProfitPct: []float64{5, 10, 20}, MaxHoldCandles: []int{20}}

	// prefer the smallest take profit regardless of stats
	smallestTP := func(a, b domain.GridCandidate) bool {
		return a.Rules.TakeProfitPct < b.Rules.TakeProfitPct
	}
	top, err := GridSearch(candles, ev, base, grid, 2, smallestTP)
	if err != nil {
		t.Fatalf("GridSearch failed: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(top))
	}
	if top[0].Rules.TakeProfitPct != 5 || top[1].Rules.TakeProfitPct != 10 {
		t.Errorf("comparator not applied: %+v, %+v", top[0].Rules, top[1].Rules)
	}

	all, err := GridSearch(candles, ev, base, grid, 0, nil)
	if err != nil {
		t.Fatalf("GridSearch failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("topK 0 should return every candidate, got %d", len(all))
	}
}

func TestGridSearch_SkipsEmptyRules(t *testing.T) {
	grid := Grid{StopLossPct: []float64{0}, TakeProfitPct: []float64{0, 10}}
	top, err := GridSearch(trend(10, 0.5), &signal.Fixed{Indexes: []int{0}}, domain.StrategyConfig{}, grid, 0, nil)
	if err != nil {
		t.Fatalf("GridSearch failed: %v", err)
	}
	if len(top) != 1 {
		t.Errorf("expected the all-zero combination to be skipped, got %d candidates", len(top))
	}
}
