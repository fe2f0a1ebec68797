package metrics

import (
	"context"
	"errors"
	"time"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/storage"
)

// ErrNoResults is returned when there is nothing to aggregate.
var ErrNoResults = errors.New("no results available for aggregation")

// Aggregate pools the trades of every result (one per independent dataset)
// and recomputes statistics over the pooled list. Trades are ordered by entry
// time then trade id before order-dependent metrics are computed.
func Aggregate(strategyID string, cfg domain.StrategyConfig, results []*domain.BacktestResult) *domain.BacktestResult {
	out := &domain.BacktestResult{StrategyID: strategyID}
	if strategyID == "" {
		out.StrategyID = cfg.StrategyID
	}

	var pooled []domain.Trade
	for _, r := range results {
		if r == nil {
			continue
		}
		pooled = append(pooled, r.Trades...)
		out.SignalsSeen += r.SignalsSeen
		out.SignalsFiltered += r.SignalsFiltered
		out.DatasetCount++
	}
	sortTrades(pooled)

	if pooled == nil {
		pooled = []domain.Trade{}
	}
	out.Trades = pooled
	out.TradeStats = Summarize(pooled)
	return out
}

// Aggregator pools per-dataset results and persists them.
type Aggregator struct {
	tradeStore storage.TradeLedgerStore
	aggStore   storage.StrategyAggregateStore
	clock      func() time.Time
}

// NewAggregator creates a new metrics aggregator. Either store may be nil.
func NewAggregator(tradeStore storage.TradeLedgerStore, aggStore storage.StrategyAggregateStore) *Aggregator {
	return &Aggregator{
		tradeStore: tradeStore,
		aggStore:   aggStore,
		clock:      time.Now,
	}
}

// WithClock sets the clock used for ComputedAt.
func (a *Aggregator) WithClock(clock func() time.Time) *Aggregator {
	a.clock = clock
	return a
}

// ComputeAndStore aggregates results, appends the pooled trades to the ledger
// and persists the aggregate.
// Returns storage.ErrDuplicateKey if the aggregate already exists (append-only).
func (a *Aggregator) ComputeAndStore(ctx context.Context, runID string, cfg domain.StrategyConfig, results []*domain.BacktestResult) (*domain.BacktestResult, error) {
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	pooled := Aggregate(cfg.StrategyID, cfg, results)

	if a.tradeStore != nil {
		if err := a.tradeStore.InsertBulk(ctx, runID, pooled.Trades); err != nil {
			return nil, err
		}
	}

	if a.aggStore != nil {
		agg := &domain.StrategyAggregate{
			RunID:        runID,
			StrategyID:   pooled.StrategyID,
			Family:       cfg.Family,
			DatasetCount: pooled.DatasetCount,
			TradeStats:   pooled.TradeStats,
			ComputedAt:   a.clock().UTC(),
		}
		if err := a.aggStore.Insert(ctx, agg); err != nil {
			return nil, err
		}
	}

	return pooled, nil
}
