package reporting

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/metrics"
	"solana-backtest-lab/internal/storage"
)

// DefaultMonteCarloRuns is the number of resamples per strategy.
const DefaultMonteCarloRuns = 1000

// StrategyOutcome is the chunk result of one strategy as the run tracker saw it.
type StrategyOutcome struct {
	StrategyID string
	Family     domain.Family
	Status     domain.ChunkState
	Error      string
}

// Input describes one finished run.
type Input struct {
	RunID      string
	Mode       string
	DataScale  domain.DataScale
	Strategies []StrategyOutcome // declared order
	Datasets   []domain.DatasetProvenance
	Checks     []CoverageCheckRow
	Errors     []string
}

// Generator produces reports from stored aggregates and trades.
type Generator struct {
	tradeStore     storage.TradeLedgerStore
	aggregateStore storage.StrategyAggregateStore
	monteCarloRuns int
	now            func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(tradeStore storage.TradeLedgerStore, aggStore storage.StrategyAggregateStore) *Generator {
	return &Generator{
		tradeStore:     tradeStore,
		aggregateStore: aggStore,
		monteCarloRuns: DefaultMonteCarloRuns,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithMonteCarloRuns sets the resample count. Zero disables resampling.
func (g *Generator) WithMonteCarloRuns(runs int) *Generator {
	g.monteCarloRuns = runs
	return g
}

// Generate builds the report of one run. Strategies without a stored aggregate
// get a row carrying their chunk status and error.
func (g *Generator) Generate(ctx context.Context, in Input) (*Report, error) {
	rows := make([]domain.SummaryRow, 0, len(in.Strategies))
	var risk []RiskRow
	totalTrades := 0

	for _, s := range in.Strategies {
		agg, err := g.aggregateStore.Get(ctx, in.RunID, s.StrategyID)
		if errors.Is(err, storage.ErrNotFound) {
			rows = append(rows, SummaryRow(s.StrategyID, s.Family, s.Status, s.Error, 0, domain.TradeStats{}))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load aggregate %s: %w", s.StrategyID, err)
		}

		rows = append(rows, SummaryRow(s.StrategyID, s.Family, s.Status, s.Error, agg.DatasetCount, agg.TradeStats))
		totalTrades += agg.TradeCount

		if g.monteCarloRuns <= 0 || agg.TradeCount == 0 || g.tradeStore == nil {
			continue
		}
		trades, err := g.tradeStore.GetByStrategy(ctx, in.RunID, s.StrategyID)
		if err != nil {
			return nil, fmt.Errorf("load trades %s: %w", s.StrategyID, err)
		}
		pnls := make([]float64, len(trades))
		for i, t := range trades {
			pnls[i] = t.PnLNet
		}
		risk = append(risk, RiskRow{
			StrategyID:       s.StrategyID,
			MonteCarloResult: metrics.MonteCarlo(pnls, g.monteCarloRuns, seedFor(in.RunID, s.StrategyID)),
		})
	}

	summary := summarizeDatasets(in.Datasets)
	summary.TotalTrades = totalTrades

	return &Report{
		RunID:         in.RunID,
		Mode:          in.Mode,
		DataScale:     in.DataScale,
		GeneratedAt:   g.now(),
		StrategyCount: len(in.Strategies),
		DataSummary:   summary,
		DataQuality:   dataQuality(in.Checks, in.Errors),
		Rows:          rows,
		Risk:          risk,
	}, nil
}

// seedFor makes resampling reproducible per run and strategy.
func seedFor(runID, strategyID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(runID + "|" + strategyID))
	return int64(h.Sum64() >> 1)
}

func summarizeDatasets(datasets []domain.DatasetProvenance) DataSummary {
	s := DataSummary{Datasets: len(datasets)}
	counts := make(map[string]*SourceCount)
	for _, d := range datasets {
		if d.Tier == domain.TierSynthetic {
			s.SyntheticDatasets++
		} else {
			s.RealDatasets++
		}
		key := d.Source + "|" + string(d.Tier)
		c, ok := counts[key]
		if !ok {
			c = &SourceCount{Source: d.Source, Tier: d.Tier}
			counts[key] = c
		}
		c.Count++

		if d.CandleCount == 0 {
			continue
		}
		if s.DateRangeStart.IsZero() || d.FirstCandle.Before(s.DateRangeStart) {
			s.DateRangeStart = d.FirstCandle
		}
		if d.LastCandle.After(s.DateRangeEnd) {
			s.DateRangeEnd = d.LastCandle
		}
	}

	for _, c := range counts {
		s.BySource = append(s.BySource, *c)
	}
	sort.Slice(s.BySource, func(i, j int) bool {
		if s.BySource[i].Count != s.BySource[j].Count {
			return s.BySource[i].Count > s.BySource[j].Count
		}
		return s.BySource[i].Source < s.BySource[j].Source
	})
	return s
}

func dataQuality(checks []CoverageCheckRow, errs []string) DataQualitySection {
	q := DataQualitySection{
		CoverageChecks:  checks,
		IntegrityErrors: errs,
		AllChecksPassed: true,
	}
	for _, c := range checks {
		if !c.Pass {
			q.AllChecksPassed = false
		}
	}
	return q
}
